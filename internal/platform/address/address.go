// Package address serves Thai subdistrict/district/province/postal code
// lookups from a dataset that is fetched on first use and kept in memory.
package address

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50
	DefaultTTL   = 24 * time.Hour

	loadTimeout = time.Minute
)

var ErrUnavailable = errors.New("address dataset unavailable")

// Entry is one row of the dataset: a subdistrict with its parents.
type Entry struct {
	Subdistrict string `json:"subdistrict"`
	District    string `json:"district"`
	Province    string `json:"province"`
	PostalCode  string `json:"postal_code"`
}

// Loader fetches the full dataset from its source of truth.
type Loader interface {
	Load(ctx context.Context) ([]Entry, error)
}

// Store is an optional second-level cache shared between instances. Get
// reports false when it holds nothing.
type Store interface {
	Get(ctx context.Context) ([]Entry, bool, error)
	Put(ctx context.Context, entries []Entry) error
}

type Option func(*Directory)

func WithStore(s Store) Option { return func(d *Directory) { d.store = s } }

// WithTTL sets how long a loaded dataset is served before it is fetched
// again. Zero keeps it for the life of the Directory.
func WithTTL(ttl time.Duration) Option { return func(d *Directory) { d.ttl = ttl } }

func WithLogger(l zerolog.Logger) Option { return func(d *Directory) { d.logger = l } }

// Directory is a lazily filled read-through cache over a Loader. Concurrent
// callers that find it empty share a single load; a failed load is not
// remembered.
type Directory struct {
	loader Loader
	store  Store
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
	group  singleflight.Group

	mu       sync.RWMutex
	entries  []Entry
	loadedAt time.Time
}

func NewDirectory(loader Loader, opts ...Option) *Directory {
	d := &Directory{
		loader: loader,
		ttl:    DefaultTTL,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Directory) cached() ([]Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.entries == nil {
		return nil, false
	}
	if d.ttl > 0 && d.now().Sub(d.loadedAt) >= d.ttl {
		return nil, false
	}
	return d.entries, true
}

// Entries returns the dataset, loading it if it is absent or stale.
func (d *Directory) Entries(ctx context.Context) ([]Entry, error) {
	if entries, ok := d.cached(); ok {
		return entries, nil
	}
	v, err, _ := d.group.Do("dataset", func() (interface{}, error) {
		if entries, ok := d.cached(); ok {
			return entries, nil
		}
		// The load is shared, so it must outlive whichever caller started it.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return d.fill(loadCtx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

func (d *Directory) fill(ctx context.Context) ([]Entry, error) {
	if d.store != nil {
		entries, ok, err := d.store.Get(ctx)
		switch {
		case err != nil:
			d.logger.Warn().Err(err).Msg("address store read failed")
		case ok:
			d.set(entries)
			return entries, nil
		}
	}

	start := d.now()
	entries, err := d.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	d.logger.Info().
		Int("entries", len(entries)).
		Dur("duration", d.now().Sub(start)).
		Msg("address dataset loaded")

	if d.store != nil {
		if err := d.store.Put(ctx, entries); err != nil {
			d.logger.Warn().Err(err).Msg("address store write failed")
		}
	}
	d.set(entries)
	return entries, nil
}

func (d *Directory) set(entries []Entry) {
	d.mu.Lock()
	d.entries = entries
	d.loadedAt = d.now()
	d.mu.Unlock()
}

// Search returns up to limit entries where q is a substring of any name or
// a prefix of the postal code, case-insensitively. Exact subdistrict matches
// come first, then entries are ordered by province, district and
// subdistrict. A blank query matches nothing.
func (d *Directory) Search(ctx context.Context, q string, limit int) ([]Entry, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return []Entry{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	entries, err := d.Entries(ctx)
	if err != nil {
		return nil, err
	}

	out := []Entry{}
	for _, e := range entries {
		if e.matches(q) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ei, ej := strings.EqualFold(out[i].Subdistrict, q), strings.EqualFold(out[j].Subdistrict, q)
		if ei != ej {
			return ei
		}
		if out[i].Province != out[j].Province {
			return out[i].Province < out[j].Province
		}
		if out[i].District != out[j].District {
			return out[i].District < out[j].District
		}
		return out[i].Subdistrict < out[j].Subdistrict
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (e Entry) matches(q string) bool {
	if strings.HasPrefix(e.PostalCode, q) {
		return true
	}
	for _, s := range []string{e.Subdistrict, e.District, e.Province} {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}
