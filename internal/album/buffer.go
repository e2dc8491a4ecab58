// Package album groups photo arrivals into receipt submissions. A submission
// is released when its group has been quiet for the quiescence interval, when
// it reaches the maximum age, or when it holds the maximum number of photos.
package album

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
	"github.com/joseph-ayodele/receipts-ingest/internal/metrics"
)

// DispatchFunc receives each released submission exactly once. It runs on a
// timer goroutine (or the accepting goroutine for an early flush) and must
// hand the work off rather than process it inline.
type DispatchFunc func(entity.ReceiptSubmission)

type Config struct {
	Quiescence time.Duration
	MaxAge     time.Duration
	MaxPhotos  int
}

// Buffer maps (submitter, group key) to the submission being collected.
type Buffer struct {
	cfg      Config
	dispatch DispatchFunc
	logger   *slog.Logger

	mu     sync.Mutex // guards groups and closed only
	groups map[string]*group
	closed bool
}

// group serializes append and flush for one key. gen increases on every
// arrival so a quiescence timer armed before the latest arrival is ignored.
type group struct {
	mu       sync.Mutex
	key      string
	sub      entity.ReceiptSubmission
	gen      uint64
	idle     *time.Timer
	deadline *time.Timer
	done     bool
}

func New(cfg Config, dispatch DispatchFunc, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Quiescence <= 0 {
		cfg.Quiescence = 2 * time.Second
	}
	if cfg.MaxAge < cfg.Quiescence {
		cfg.MaxAge = 15 * cfg.Quiescence
	}
	if cfg.MaxPhotos <= 0 {
		cfg.MaxPhotos = 10
	}
	return &Buffer{
		cfg:      cfg,
		dispatch: dispatch,
		logger:   logger,
		groups:   make(map[string]*group),
	}
}

// Accept adds a photo to its submission and returns the submission id.
// A photo that races a flush of its group opens a new submission instead of
// being lost.
func (b *Buffer) Accept(asset entity.PhotoAsset) (uuid.UUID, error) {
	if asset.Submitter == "" || len(asset.Data) == 0 {
		return uuid.Nil, common.NewAppError("ALBUM_ERROR", "photo needs a submitter and a payload", common.ErrInvalidInput)
	}
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	if asset.ReceivedAt.IsZero() {
		asset.ReceivedAt = time.Now()
	}
	key := groupKey(asset)

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			metrics.PhotosAccepted.WithLabelValues("closed").Inc()
			return uuid.Nil, common.ErrBufferClosed
		}
		g, ok := b.groups[key]
		if !ok {
			g = b.openLocked(key, asset)
			pending := len(b.groups)
			b.mu.Unlock()
			metrics.PendingSubmissions.Set(float64(pending))
			metrics.PhotosAccepted.WithLabelValues("accepted").Inc()

			b.logger.Debug("album.open",
				"submission_id", g.sub.ID,
				"user", asset.Submitter,
				"group_key", asset.GroupKey,
			)
			if b.cfg.MaxPhotos == 1 {
				b.fire(g, 0, constants.FlushMaxPhotos)
			}
			return g.sub.ID, nil
		}
		b.mu.Unlock()

		g.mu.Lock()
		if g.done {
			// Flushed between lookup and lock; start over with a fresh group.
			g.mu.Unlock()
			continue
		}
		g.sub.Photos = append(g.sub.Photos, asset)
		g.sub.UpdatedAt = asset.ReceivedAt
		g.gen++
		id := g.sub.ID
		count := len(g.sub.Photos)
		metrics.PhotosAccepted.WithLabelValues("accepted").Inc()

		if count >= b.cfg.MaxPhotos {
			sub := b.detachLocked(g, constants.FlushMaxPhotos)
			g.mu.Unlock()
			b.release(sub)
			return id, nil
		}
		b.armIdleLocked(g)
		g.mu.Unlock()

		b.logger.Debug("album.append", "submission_id", id, "photos", count)
		return id, nil
	}
}

// openLocked creates and registers a group for key. Caller holds b.mu.
func (b *Buffer) openLocked(key string, first entity.PhotoAsset) *group {
	g := &group{
		key: key,
		sub: entity.ReceiptSubmission{
			ID:        uuid.New(),
			Submitter: first.Submitter,
			GroupKey:  first.GroupKey,
			Photos:    []entity.PhotoAsset{first},
			CreatedAt: first.ReceivedAt,
			UpdatedAt: first.ReceivedAt,
		},
	}
	b.groups[key] = g
	g.deadline = time.AfterFunc(b.cfg.MaxAge, func() { b.fire(g, 0, constants.FlushMaxAge) })
	b.armIdleLocked(g)
	return g
}

// armIdleLocked restarts the quiescence timer. Caller holds g.mu, or owns g
// exclusively before it is published.
func (b *Buffer) armIdleLocked(g *group) {
	if g.idle != nil {
		g.idle.Stop()
	}
	gen := g.gen
	g.idle = time.AfterFunc(b.cfg.Quiescence, func() { b.fire(g, gen, constants.FlushQuiescence) })
}

func (b *Buffer) fire(g *group, gen uint64, reason constants.FlushReason) {
	g.mu.Lock()
	if g.done || (reason == constants.FlushQuiescence && gen != g.gen) {
		g.mu.Unlock()
		return
	}
	sub := b.detachLocked(g, reason)
	g.mu.Unlock()
	b.release(sub)
}

// detachLocked marks g flushed, removes it from the map and returns a copy of
// its submission. Caller holds g.mu; b.mu is taken after it, never before.
func (b *Buffer) detachLocked(g *group, reason constants.FlushReason) entity.ReceiptSubmission {
	g.done = true
	if g.idle != nil {
		g.idle.Stop()
	}
	if g.deadline != nil {
		g.deadline.Stop()
	}

	b.mu.Lock()
	if cur, ok := b.groups[g.key]; ok && cur == g {
		delete(b.groups, g.key)
	}
	pending := len(b.groups)
	b.mu.Unlock()
	metrics.PendingSubmissions.Set(float64(pending))

	sub := g.sub
	sub.Photos = append([]entity.PhotoAsset(nil), g.sub.Photos...)
	sub.FlushReason = reason
	return sub
}

func (b *Buffer) release(sub entity.ReceiptSubmission) {
	metrics.SubmissionsFlushed.WithLabelValues(string(sub.FlushReason)).Inc()
	b.logger.Info("album.flush",
		"submission_id", sub.ID,
		"user", sub.Submitter,
		"group_key", sub.GroupKey,
		"photos", len(sub.Photos),
		"reason", sub.FlushReason,
		"age_ms", sub.UpdatedAt.Sub(sub.CreatedAt).Milliseconds(),
	)
	if b.dispatch != nil {
		b.dispatch(sub)
	}
}

// Pending returns the number of submissions still collecting photos.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups)
}

// Close stops accepting photos and drops every submission that has not been
// released yet. It returns how many submissions were abandoned.
func (b *Buffer) Close() int {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	b.closed = true
	groups := make([]*group, 0, len(b.groups))
	for _, g := range b.groups {
		groups = append(groups, g)
	}
	b.groups = make(map[string]*group)
	b.mu.Unlock()

	dropped, photos := 0, 0
	for _, g := range groups {
		g.mu.Lock()
		if !g.done {
			g.done = true
			if g.idle != nil {
				g.idle.Stop()
			}
			if g.deadline != nil {
				g.deadline.Stop()
			}
			dropped++
			photos += len(g.sub.Photos)
		}
		g.mu.Unlock()
	}
	metrics.PendingSubmissions.Set(0)
	metrics.SubmissionsAbandoned.Add(float64(dropped))
	if dropped > 0 {
		b.logger.Warn("album.abandoned", "submissions", dropped, "photos", photos)
	}
	return dropped
}

// groupKey scopes the transport's group token to the submitter; a photo
// without a token becomes its own group.
func groupKey(a entity.PhotoAsset) string {
	gk := a.GroupKey
	if gk == "" {
		gk = "single:" + a.ID.String()
	}
	return a.Submitter + "\x00" + gk
}
