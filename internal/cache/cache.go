// Package cache memoizes package resolution: one Record per package
// identifier for the lifetime of the process, with concurrent first-time
// requests collapsed into a single materializer invocation.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"niximport/internal/materialize"
)

// Outcome classifies a resolution record.
type Outcome string

const (
	// OutcomeResolved means the package was materialized and its path is
	// usable. Resolved records are permanent: later requests never
	// re-invoke the materializer and always observe the same path.
	OutcomeResolved Outcome = "resolved"

	// OutcomeFailed means the last resolution attempt failed. Whether a
	// failed record is retried or sticky is a construction-time choice
	// that holds for the whole process lifetime.
	OutcomeFailed Outcome = "failed"
)

// Record is the cached result of resolving one package identifier.
type Record struct {
	Identifier  string
	Outcome     Outcome
	Path        string
	Diagnostic  string
	Err         error
	RequestedAt time.Time
	CompletedAt time.Time
}

// Options configures cache behavior.
type Options struct {
	// StickyFailures makes failed records permanent. The default (false)
	// retries a failed identifier on its next request with a fresh
	// materializer invocation, so a transient build or network failure
	// does not poison the identifier forever.
	StickyFailures bool
}

// Cache is the process-wide identifier-to-record mapping. There is no
// eviction and no persistence; package counts per session are small.
type Cache struct {
	mu      sync.RWMutex
	records map[string]*Record

	group  singleflight.Group
	m      materialize.Materializer
	sticky bool
	log    *zap.Logger
}

// New builds a cache over the given materializer.
func New(m materialize.Materializer, opts Options, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		records: make(map[string]*Record),
		m:       m,
		sticky:  opts.StickyFailures,
		log:     log,
	}
}

// GetOrResolve returns the record for identifier, resolving it through
// the materializer if needed. Concurrent callers for the same
// never-before-seen identifier trigger exactly one invocation and all
// receive the same record. The returned error is non-nil exactly when
// the record's outcome is failed.
func (c *Cache) GetOrResolve(ctx context.Context, identifier string) (*Record, error) {
	if rec, ok := c.cached(identifier); ok {
		return rec, rec.Err
	}

	v, _, _ := c.group.Do(identifier, func() (interface{}, error) {
		// A caller that lost the race but entered Do after the winner
		// finished must not re-invoke the tool.
		if rec, ok := c.cached(identifier); ok {
			return rec, nil
		}
		return c.resolve(ctx, identifier), nil
	})

	rec := v.(*Record)
	return rec, rec.Err
}

// Get returns the current record for identifier without resolving.
func (c *Cache) Get(identifier string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[identifier]
	return rec, ok
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// cached returns a record that satisfies the request without external
// I/O: any resolved record, or a failed one when failures are sticky.
func (c *Cache) cached(identifier string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[identifier]
	if !ok {
		return nil, false
	}
	if rec.Outcome == OutcomeResolved || c.sticky {
		return rec, true
	}
	return nil, false
}

// resolve performs the single external invocation and stores the record.
func (c *Cache) resolve(ctx context.Context, identifier string) *Record {
	rec := &Record{
		Identifier:  identifier,
		RequestedAt: time.Now(),
	}

	path, err := c.m.Materialize(ctx, identifier)
	rec.CompletedAt = time.Now()

	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Err = err
		rec.Diagnostic = materialize.Diagnostic(err)
		c.log.Warn("resolution failed",
			zap.String("package", identifier),
			zap.String("diagnostic", rec.Diagnostic))
	} else {
		rec.Outcome = OutcomeResolved
		rec.Path = path
		c.log.Info("resolution cached",
			zap.String("package", identifier),
			zap.String("path", path),
			zap.Duration("took", rec.CompletedAt.Sub(rec.RequestedAt)))
	}

	c.mu.Lock()
	c.records[identifier] = rec
	c.mu.Unlock()
	return rec
}

// GetOrResolvePath adapts the cache to the finder.PackageResolver shape:
// identifier in, materialized path out.
func (c *Cache) GetOrResolvePath(ctx context.Context, identifier string) (string, error) {
	rec, err := c.GetOrResolve(ctx, identifier)
	if err != nil {
		return "", err
	}
	return rec.Path, nil
}
