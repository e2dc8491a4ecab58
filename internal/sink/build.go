package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/repository"
	"github.com/joseph-ayodele/receipts-ingest/internal/sink/amqp"
	"github.com/joseph-ayodele/receipts-ingest/internal/sink/sqlstore"
	"github.com/joseph-ayodele/receipts-ingest/internal/sink/xlsx"
)

// Build opens every sink named in cfg.Order, in that order, and bootstraps
// the SQL schemas. If any sink fails to open, the ones already opened are
// closed again.
func Build(ctx context.Context, cfg common.SinksConfig, logger *slog.Logger) (*FanOut, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Order) == 0 {
		return nil, common.NewAppError("CONFIG_ERROR", "at least one sink must be configured (SINKS)", common.ErrNoSinks)
	}

	sinks := make([]Sink, 0, len(cfg.Order))
	for _, name := range cfg.Order {
		s, err := open(ctx, name, cfg, logger.With("sink", name))
		if err != nil {
			for _, opened := range sinks {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("open sink %s: %w", name, err)
		}
		logger.Info("sink.opened", "sink", name)
		sinks = append(sinks, s)
	}
	return NewFanOut(sinks, logger)
}

func open(ctx context.Context, name string, cfg common.SinksConfig, logger *slog.Logger) (Sink, error) {
	switch name {
	case common.SinkPostgres:
		pg := cfg.Postgres
		db, pool, err := repository.Open(ctx, repository.Config{
			DSN:              pg.DSN,
			MaxConns:         pg.MaxConns,
			MinConns:         pg.MinConns,
			MaxConnLifetime:  pg.MaxConnLifetime.Std(),
			MaxConnIdleTime:  pg.MaxConnIdleTime.Std(),
			DialTimeout:      pg.DialTimeout.Std(),
			StatementTimeout: pg.StatementTimeout.Std(),
		}, logger)
		if err != nil {
			return nil, common.NewAppError("DB_ERROR", "connect postgres", fmt.Errorf("%w: %v", common.ErrDatabase, err))
		}
		if err := repository.HealthCheck(ctx, pool, pg.DialTimeout.Std(), logger); err != nil {
			repository.Close(db, pool, logger)
			return nil, common.NewAppError("DB_ERROR", "ping postgres", fmt.Errorf("%w: %v", common.ErrDatabase, err))
		}
		s := sqlstore.New(db, sqlstore.Postgres, name, logger)
		s.OnClose(pool.Close)
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil

	case common.SinkSQLite:
		return sqlstore.OpenSQLite(ctx, cfg.SQLite.Path, name, logger)

	case common.SinkXLSX:
		return xlsx.New(cfg.XLSX.Path, name, logger)

	case common.SinkAMQP:
		a := cfg.AMQP
		return amqp.Dial(a.URL, a.Exchange, a.RoutingKey, name, logger)

	default:
		return nil, common.NewAppError("CONFIG_ERROR", "unknown sink: "+name, common.ErrInvalidInput)
	}
}
