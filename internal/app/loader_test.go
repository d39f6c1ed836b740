package app

import (
	"context"
	"errors"
	"testing"

	"tippelaget/clients/rediscache"
	"tippelaget/internal/bets"

	"go.uber.org/zap"
)

func TestLoader_Load(t *testing.T) {
	tests := []struct {
		name       string
		source     *mockSource
		mirror     *mockMirror
		cached     bool
		wantSource string
		wantCount  int
		wantErr    bool
	}{
		{
			name:       "backend",
			source:     &mockSource{enabled: true, records: seasonRecords()},
			wantSource: SourceCognite,
			wantCount:  4,
		},
		{
			name:       "cache hit skips backend",
			source:     &mockSource{enabled: true, records: seasonRecords()[:1]},
			cached:     true,
			wantSource: SourceCache,
			wantCount:  4,
		},
		{
			name:       "backend failure falls back to mirror",
			source:     &mockSource{enabled: true, err: errBackend},
			mirror:     &mockMirror{records: seasonRecords()[:2]},
			wantSource: SourceDatabase,
			wantCount:  2,
		},
		{
			name:       "disabled backend reads mirror",
			source:     &mockSource{enabled: false},
			mirror:     &mockMirror{records: seasonRecords()[:3]},
			wantSource: SourceDatabase,
			wantCount:  3,
		},
		{
			name:       "backend failure without mirror",
			source:     &mockSource{enabled: true, err: errBackend},
			wantSource: SourceCognite,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newMockCache()
			if tt.cached {
				_ = cache.SetJSON(context.Background(), rediscache.KeyRecords, seasonRecords())
			}

			var mirror BetMirror
			if tt.mirror != nil {
				mirror = tt.mirror
			}
			loader := NewLoader(zap.NewNop(), tt.source, cache, mirror)

			records, source, err := loader.Load(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if source != tt.wantSource {
				t.Errorf("expected source %q, got %q", tt.wantSource, source)
			}
			if len(records) != tt.wantCount {
				t.Errorf("expected %d records, got %d", tt.wantCount, len(records))
			}
		})
	}
}

func TestLoader_LoadFillsCache(t *testing.T) {
	source := &mockSource{enabled: true, records: seasonRecords()}
	cache := newMockCache()
	loader := NewLoader(zap.NewNop(), source, cache, nil)

	if _, _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cache.has(rediscache.KeyRecords) {
		t.Fatal("expected records to be cached")
	}

	// Second load is served from the cache; numbers come back as JSON
	// numbers and still normalize.
	records, source2, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source2 != SourceCache {
		t.Errorf("expected cache source, got %q", source2)
	}
	if source.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", source.calls)
	}
	if _, err := bets.Normalize(records); err != nil {
		t.Errorf("cached records failed to normalize: %v", err)
	}
}

func TestLoader_CacheErrorFallsThrough(t *testing.T) {
	source := &mockSource{enabled: true, records: seasonRecords()}
	cache := newMockCache()
	cache.getErr = errors.New("redis down")
	loader := NewLoader(zap.NewNop(), source, cache, nil)

	_, src, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src != SourceCognite {
		t.Errorf("expected cognite source, got %q", src)
	}
}

func TestLoader_NoSource(t *testing.T) {
	loader := NewLoader(nil, nil, nil, nil)

	_, _, err := loader.Load(context.Background())
	if !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestLoader_MirrorError(t *testing.T) {
	loader := NewLoader(zap.NewNop(), nil, nil, &mockMirror{listErr: errors.New("db down")})

	_, src, err := loader.Load(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if src != SourceDatabase {
		t.Errorf("expected database source, got %q", src)
	}
}

func TestLoader_Sync(t *testing.T) {
	source := &mockSource{enabled: true, records: seasonRecords()}
	cache := newMockCache()
	mirror := &mockMirror{}
	loader := NewLoader(zap.NewNop(), source, cache, mirror)

	n, err := loader.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 || mirror.upserted != 4 {
		t.Errorf("expected 4 mirrored rows, got n=%d upserted=%d", n, mirror.upserted)
	}
	if cache.invalidated != 1 {
		t.Errorf("expected cache to be invalidated once, got %d", cache.invalidated)
	}
}

func TestLoader_SyncRequirements(t *testing.T) {
	if _, err := NewLoader(nil, nil, nil, &mockMirror{}).Sync(context.Background()); err == nil {
		t.Error("expected error without backend")
	}
	if _, err := NewLoader(nil, &mockSource{enabled: true}, nil, nil).Sync(context.Background()); err == nil {
		t.Error("expected error without mirror")
	}
	failing := &mockSource{enabled: true, err: errBackend}
	if _, err := NewLoader(nil, failing, nil, &mockMirror{}).Sync(context.Background()); !errors.Is(err, errBackend) {
		t.Errorf("expected wrapped backend error, got %v", err)
	}
}
