package epg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lysyi3m/xtream-catalog/app/database"
	"github.com/lysyi3m/xtream-catalog/app/textnorm"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const DefaultConcurrency = 8

type Options struct {
	// Abbreviations enables the word-wise abbreviation tier.
	Abbreviations bool
	Concurrency   int
	Now           func() time.Time
}

// Resolver maps live channels to EPG channels and attaches the programme
// airing now.
type Resolver struct {
	store         Store
	abbreviations bool
	concurrency   int
	now           func() time.Time
}

func NewResolver(store Store, opts Options) *Resolver {
	r := &Resolver{
		store:         store,
		abbreviations: opts.Abbreviations,
		concurrency:   opts.Concurrency,
		now:           opts.Now,
	}
	if r.concurrency <= 0 {
		r.concurrency = DefaultConcurrency
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

func (r *Resolver) ApplyLiveEpg(ctx context.Context, profileID string, items []Item) ([]Item, error) {
	resolved, _, err := r.Resolve(ctx, profileID, items)
	return resolved, err
}

// Resolve is ApplyLiveEpg with a per-method breakdown. Items that are not
// live pass through untouched; the input slice is not modified.
func (r *Resolver) Resolve(ctx context.Context, profileID string, items []Item) ([]Item, ResolveReport, error) {
	report := ResolveReport{Counts: make(map[MatchMethod]int)}
	resolved := make([]Item, len(items))
	copy(resolved, items)

	seen := make(map[string]bool)
	var names []string
	for _, item := range resolved {
		if item.Type != database.ItemTypeLive || item.EpgChannelID != "" {
			continue
		}
		if name := textnorm.NormalizeName(item.Title); name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	exact := map[string]string{}
	if len(names) > 0 {
		var err error
		exact, err = r.store.GetEpgChannelIDsByNormalizedNames(ctx, profileID, names)
		if err != nil {
			return nil, report, fmt.Errorf("failed to look up exact epg names: %w", err)
		}
	}

	b := &batch{
		resolver:  r,
		profileID: profileID,
		exact:     exact,
		substring: make(map[string]string),
		listings:  make(map[string]string),
	}

	methods := make([]MatchMethod, len(resolved))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i := range resolved {
		item := &resolved[i]
		if item.Type != database.ItemTypeLive {
			continue
		}
		if item.EpgChannelID != "" {
			methods[i] = MatchProvided
			continue
		}

		g.Go(func() error {
			id, method, err := b.resolve(gctx, item.Title)
			if err != nil {
				return err
			}
			item.EpgChannelID = id
			methods[i] = method
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, report, err
	}

	for _, method := range methods {
		if method != "" {
			report.Counts[method]++
		}
	}

	withProgramme, err := r.attachListings(ctx, profileID, resolved)
	if err != nil {
		return nil, report, err
	}
	report.WithProgramme = withProgramme

	return resolved, report, nil
}

// attachListings sets the current programme on every resolved live item.
func (r *Resolver) attachListings(ctx context.Context, profileID string, items []Item) (int, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, item := range items {
		if item.Type == database.ItemTypeLive && item.EpgChannelID != "" && !seen[item.EpgChannelID] {
			seen[item.EpgChannelID] = true
			ids = append(ids, item.EpgChannelID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	listings, err := r.store.GetEpgListingsForChannels(ctx, profileID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to get epg listings: %w", err)
	}

	type current struct {
		listing  database.EpgListing
		progress *float64
	}

	now := r.now()
	byChannel := make(map[string]current)
	for _, l := range listings {
		if _, ok := byChannel[l.ChannelID]; ok {
			continue
		}
		if p := Progress(l.Start, l.End, now); p != nil {
			byChannel[l.ChannelID] = current{listing: l, progress: p}
		}
	}

	attached := 0
	for i := range items {
		item := &items[i]
		if item.Type != database.ItemTypeLive || item.EpgChannelID == "" {
			continue
		}
		c, ok := byChannel[item.EpgChannelID]
		if !ok {
			continue
		}
		progress := *c.progress
		item.EpgTitle = c.listing.Title
		item.EpgProgress = &progress
		item.EpgStart = c.listing.Start
		item.EpgEnd = c.listing.End
		attached++
	}

	return attached, nil
}

// batch holds the lookup caches shared by the items of one Resolve call.
type batch struct {
	resolver  *Resolver
	profileID string
	exact     map[string]string

	group     singleflight.Group
	mu        sync.Mutex
	substring map[string]string
	listings  map[string]string

	dirOnce sync.Once
	dir     *directory
	dirErr  error
}

func (b *batch) resolve(ctx context.Context, title string) (string, MatchMethod, error) {
	name := textnorm.NormalizeName(title)
	if name == "" {
		return "", MatchUnmatched, nil
	}

	if id := b.exact[name]; id != "" {
		return id, MatchExact, nil
	}

	id, err := b.cached(ctx, "substring", b.substring, name, func(ctx context.Context) (string, error) {
		return b.resolver.store.GetEpgChannelIDForNormalizedName(ctx, b.profileID, name)
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to match epg name %s: %w", name, err)
	}
	if id != "" {
		return id, MatchSubstring, nil
	}

	dir, err := b.directory(ctx)
	if err != nil {
		return "", "", err
	}
	if id := dir.byName[name]; id != "" {
		return id, MatchDirectory, nil
	}

	id, err = b.cached(ctx, "listings", b.listings, name, func(ctx context.Context) (string, error) {
		return b.resolver.store.GetEpgChannelIDFromListings(ctx, b.profileID, name)
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to match epg listings for %s: %w", name, err)
	}
	if id != "" {
		return id, MatchListings, nil
	}

	if b.resolver.abbreviations {
		if id := dir.abbreviation(textnorm.Words(title)); id != "" {
			return id, MatchAbbreviation, nil
		}
	}

	return "", MatchUnmatched, nil
}

// cached runs lookup once per name across concurrent callers and remembers
// the result, including misses.
func (b *batch) cached(ctx context.Context, tier string, cache map[string]string, name string, lookup func(context.Context) (string, error)) (string, error) {
	b.mu.Lock()
	id, ok := cache[name]
	b.mu.Unlock()
	if ok {
		return id, nil
	}

	v, err, _ := b.group.Do(tier+":"+name, func() (any, error) {
		b.mu.Lock()
		id, ok := cache[name]
		b.mu.Unlock()
		if ok {
			return id, nil
		}

		id, err := lookup(ctx)
		if err != nil {
			return "", err
		}
		b.mu.Lock()
		cache[name] = id
		b.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *batch) directory(ctx context.Context) (*directory, error) {
	b.dirOnce.Do(func() {
		channels, err := b.resolver.store.GetEpgChannels(ctx, b.profileID)
		if err != nil {
			b.dirErr = fmt.Errorf("failed to load epg directory: %w", err)
			return
		}
		b.dir = newDirectory(channels)
	})
	return b.dir, b.dirErr
}
