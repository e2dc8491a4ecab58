// Package xlsx appends users and line items to a spreadsheet workbook on
// disk. Every write opens, updates and atomically replaces the file under a
// lock file, so several processes may share one workbook.
package xlsx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
)

const (
	UsersSheet    = "Users"
	ProductsSheet = "Products"

	lockRetry = 50 * time.Millisecond
)

var (
	usersHeader    = []any{"user_id", "identity", "created_at"}
	productsHeader = []any{
		"user_id", "submission_id", "seq",
		"original_product_name", "translated_product_name",
		"category", "subcategory",
		"price", "currency", "quantity", "receipt_date",
	}
)

type Sink struct {
	path   string
	name   string
	mu     sync.Mutex
	lock   *flock.Flock
	logger *slog.Logger
}

func New(path, name string, logger *slog.Logger) (*Sink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, common.NewAppError("XLSX_ERROR", "workbook path is required", common.ErrInvalidInput)
	}
	if !strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return nil, common.NewAppError("XLSX_ERROR", "workbook must end in .xlsx: "+path, common.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create workbook dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = "xlsx"
	}
	return &Sink{path: path, name: name, lock: flock.New(path + ".lock"), logger: logger}, nil
}

func (s *Sink) Name() string { return s.name }

// EnsureUser finds identity on the Users sheet or appends it. The user id is
// its position on the sheet.
func (s *Sink) EnsureUser(ctx context.Context, identity string) (entity.UserAccount, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return entity.UserAccount{}, common.NewAppError("XLSX_ERROR", "identity is required", common.ErrInvalidInput)
	}
	var user entity.UserAccount
	err := s.update(ctx, func(f *excelize.File) (bool, error) {
		rows, err := f.GetRows(UsersSheet)
		if err != nil {
			return false, err
		}
		for _, r := range rows[1:] {
			if len(r) >= 2 && r[1] == identity {
				user = entity.UserAccount{ID: r[0], Identity: identity}
				if len(r) >= 3 {
					user.CreatedAt, _ = time.Parse(time.RFC3339, r[2])
				}
				return false, nil
			}
		}
		now := time.Now().UTC().Truncate(time.Second)
		id := strconv.Itoa(len(rows))
		cell, _ := excelize.CoordinatesToCellName(1, len(rows)+1)
		if err := f.SetSheetRow(UsersSheet, cell, &[]any{id, identity, now.Format(time.RFC3339)}); err != nil {
			return false, err
		}
		user = entity.UserAccount{ID: id, Identity: identity, CreatedAt: now}
		return true, nil
	})
	return user, err
}

func (s *Sink) AppendLineItems(ctx context.Context, user entity.UserAccount, items []entity.ExpandedLineItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.update(ctx, func(f *excelize.File) (bool, error) {
		rows, err := f.GetRows(ProductsSheet)
		if err != nil {
			return false, err
		}
		next := len(rows) + 1
		for i, it := range items {
			date := ""
			if !it.ReceiptDate.IsZero() {
				date = it.ReceiptDate.Format("2006-01-02")
			}
			cell, _ := excelize.CoordinatesToCellName(1, next+i)
			row := []any{
				user.ID, it.SubmissionID.String(), it.Seq,
				it.OriginalName, it.TranslatedName,
				it.Category, it.Subcategory,
				it.UnitPrice.InexactFloat64(), it.Currency, it.Quantity, date,
			}
			if err := f.SetSheetRow(ProductsSheet, cell, &row); err != nil {
				return false, err
			}
		}
		s.logger.Debug("xlsx.appended", "sink", s.name, "user_id", user.ID, "items", len(items), "first_row", next)
		return true, nil
	})
}

func (s *Sink) Close() error { return nil }

// update runs fn against the current workbook under both locks and saves the
// result when fn reports a change.
func (s *Sink) update(ctx context.Context, fn func(*excelize.File) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock workbook: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock workbook: %s is busy", s.path)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("xlsx.unlock_failed", "path", s.path, "error", err)
		}
	}()

	f, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()

	changed, err := fn(f)
	if err != nil {
		return fmt.Errorf("update workbook: %w", err)
	}
	if !changed {
		return nil
	}
	return s.save(f)
}

func (s *Sink) open() (*excelize.File, error) {
	var f *excelize.File
	if _, err := os.Stat(s.path); err == nil {
		f, err = excelize.OpenFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
	} else if os.IsNotExist(err) {
		f = excelize.NewFile()
		if err := f.SetSheetName(f.GetSheetName(0), ProductsSheet); err != nil {
			return nil, err
		}
	} else {
		return nil, err
	}

	if err := ensureSheet(f, ProductsSheet, productsHeader); err != nil {
		return nil, err
	}
	if err := ensureSheet(f, UsersSheet, usersHeader); err != nil {
		return nil, err
	}
	return f, nil
}

func ensureSheet(f *excelize.File, sheet string, header []any) error {
	if idx, _ := f.GetSheetIndex(sheet); idx == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}
	first, err := f.GetCellValue(sheet, "A1")
	if err != nil {
		return err
	}
	if first == "" {
		return f.SetSheetRow(sheet, "A1", &header)
	}
	return nil
}

// save writes to a temp file next to the workbook and renames it over.
func (s *Sink) save(f *excelize.File) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".receipts-*.xlsx.tmp")
	if err != nil {
		return fmt.Errorf("create temp workbook: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := f.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp workbook: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace workbook: %w", err)
	}
	return nil
}
