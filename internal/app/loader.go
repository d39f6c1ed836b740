package app

import (
	"context"
	"errors"
	"fmt"

	"tippelaget/clients/rediscache"
	"tippelaget/internal/bets"

	"go.uber.org/zap"
)

// Where a set of records came from.
const (
	SourceCache    = "cache"
	SourceCognite  = "cognite"
	SourceDatabase = "database"
)

// ErrNoSource is returned when neither the backend nor the mirror is configured.
var ErrNoSource = errors.New("no bet source configured: set Cognite credentials or DATABASE_URL")

// BetSource fetches raw bet records from the data model backend.
type BetSource interface {
	Enabled() bool
	ListBets(ctx context.Context) ([]bets.Record, error)
}

// RecordCache holds JSON documents for a limited time.
type RecordCache interface {
	Enabled() bool
	GetJSON(ctx context.Context, name string, dest any) (bool, error)
	SetJSON(ctx context.Context, name string, v any) error
	Invalidate(ctx context.Context) error
}

// BetMirror is the Postgres copy of the backend records.
type BetMirror interface {
	Upsert(ctx context.Context, records []bets.Record) (int, error)
	List(ctx context.Context) ([]bets.Record, error)
}

// Loader resolves raw records: cache first, then the backend, then the
// Postgres mirror. Any of the three may be nil.
type Loader struct {
	logger *zap.Logger
	source BetSource
	cache  RecordCache
	mirror BetMirror
}

func NewLoader(logger *zap.Logger, source BetSource, cache RecordCache, mirror BetMirror) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger, source: source, cache: cache, mirror: mirror}
}

func (l *Loader) sourceEnabled() bool {
	return l.source != nil && l.source.Enabled()
}

func (l *Loader) cacheEnabled() bool {
	return l.cache != nil && l.cache.Enabled()
}

// Load returns the current records and the name of the source that served
// them. A backend failure falls back to the mirror when one is configured.
func (l *Loader) Load(ctx context.Context) ([]bets.Record, string, error) {
	if l.cacheEnabled() {
		var cached []bets.Record
		hit, err := l.cache.GetJSON(ctx, rediscache.KeyRecords, &cached)
		switch {
		case err != nil:
			l.logger.Warn("record cache read failed", zap.Error(err))
		case hit:
			return cached, SourceCache, nil
		}
	}

	if l.sourceEnabled() {
		records, err := l.source.ListBets(ctx)
		if err == nil {
			if l.cacheEnabled() {
				if err := l.cache.SetJSON(ctx, rediscache.KeyRecords, records); err != nil {
					l.logger.Warn("record cache write failed", zap.Error(err))
				}
			}
			return records, SourceCognite, nil
		}
		if l.mirror == nil {
			return nil, SourceCognite, fmt.Errorf("fetch bets: %w", err)
		}
		l.logger.Warn("bet backend failed, reading mirror", zap.Error(err))
	}

	if l.mirror == nil {
		return nil, "", ErrNoSource
	}
	records, err := l.mirror.List(ctx)
	if err != nil {
		return nil, SourceDatabase, fmt.Errorf("read mirror: %w", err)
	}
	return records, SourceDatabase, nil
}

// Sync copies the backend's records into the mirror and drops cached data.
// It returns the number of rows written.
func (l *Loader) Sync(ctx context.Context) (int, error) {
	if !l.sourceEnabled() {
		return 0, errors.New("sync needs the Cognite backend configured")
	}
	if l.mirror == nil {
		return 0, errors.New("sync needs DATABASE_URL configured")
	}

	records, err := l.source.ListBets(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch bets: %w", err)
	}
	n, err := l.mirror.Upsert(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("mirror bets: %w", err)
	}

	if l.cacheEnabled() {
		if err := l.cache.Invalidate(ctx); err != nil {
			l.logger.Warn("cache invalidate failed", zap.Error(err))
		}
	}

	l.logger.Info("mirrored bets", zap.Int("rows", n))
	return n, nil
}

// InvalidateCache drops cached records so the next Load refetches.
func (l *Loader) InvalidateCache(ctx context.Context) {
	if !l.cacheEnabled() {
		return
	}
	if err := l.cache.Invalidate(ctx); err != nil {
		l.logger.Warn("cache invalidate failed", zap.Error(err))
	}
}
