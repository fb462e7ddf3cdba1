package algo

import (
	"sort"
	"sync"
	"time"

	"futures_go/internal/domain"

	"github.com/shopspring/decimal"
)

// DefaultBucketMinutes is the profile bucket width.
const DefaultBucketMinutes = 30

// BuildVolumeProfile buckets historical bars by (hour, minute floored to
// the bucket width), averages volume per bucket and normalizes so the
// weights sum to 1.0.
func BuildVolumeProfile(bars []domain.Bar, bucketMinutes int) []domain.VolumeProfileBucket {
	if bucketMinutes <= 0 {
		bucketMinutes = DefaultBucketMinutes
	}
	if len(bars) == 0 {
		return nil
	}

	type acc struct {
		total decimal.Decimal
		count int64
	}
	sums := make(map[int]*acc)

	for _, bar := range bars {
		hour := bar.OpenTime.Hour()
		minute := (bar.OpenTime.Minute() / bucketMinutes) * bucketMinutes
		key := hour*60 + minute
		a, ok := sums[key]
		if !ok {
			a = &acc{}
			sums[key] = a
		}
		a.total = a.total.Add(bar.Volume)
		a.count++
	}

	keys := make([]int, 0, len(sums))
	totalAvg := decimal.Zero
	for key, a := range sums {
		keys = append(keys, key)
		totalAvg = totalAvg.Add(a.total.Div(decimal.NewFromInt(a.count)))
	}
	if !totalAvg.IsPositive() {
		return nil
	}
	sort.Ints(keys)

	buckets := make([]domain.VolumeProfileBucket, 0, len(keys))
	cumulative := decimal.Zero
	for _, key := range keys {
		a := sums[key]
		weight := a.total.Div(decimal.NewFromInt(a.count)).Div(totalAvg)
		cumulative = cumulative.Add(weight)
		buckets = append(buckets, domain.VolumeProfileBucket{
			Hour:       key / 60,
			Minute:     key % 60,
			Weight:     weight,
			Cumulative: cumulative,
		})
	}
	return buckets
}

// DefaultProfile is the built-in fallback when no historical profile
// exists for a symbol: a U-shaped regular-session distribution, heavier
// at the open and the close.
func DefaultProfile(bucketMinutes int) []domain.VolumeProfileBucket {
	if bucketMinutes <= 0 {
		bucketMinutes = DefaultBucketMinutes
	}

	// Raw weights over a 09:30-16:00 session, front- and back-loaded.
	type span struct {
		hour, minute int
		raw          float64
	}
	var spans []span
	session := []struct {
		startMin int // minutes since midnight
		endMin   int
		raw      float64
	}{
		{570, 630, 2.0}, // 09:30-10:30 open surge
		{630, 780, 1.0}, // mid-morning
		{780, 870, 0.7}, // lunch lull
		{870, 930, 1.0}, // early afternoon
		{930, 960, 1.6}, // final hour
	}
	for _, seg := range session {
		for m := seg.startMin; m < seg.endMin; m += bucketMinutes {
			spans = append(spans, span{hour: m / 60, minute: m % 60, raw: seg.raw})
		}
	}

	total := 0.0
	for _, s := range spans {
		total += s.raw
	}

	buckets := make([]domain.VolumeProfileBucket, 0, len(spans))
	cumulative := decimal.Zero
	for _, s := range spans {
		weight := decimal.NewFromFloat(s.raw / total)
		cumulative = cumulative.Add(weight)
		buckets = append(buckets, domain.VolumeProfileBucket{
			Hour:       s.hour,
			Minute:     s.minute,
			Weight:     weight,
			Cumulative: cumulative,
		})
	}
	return buckets
}

// ProfileCache builds and caches per-symbol volume profiles from a
// historical bar source. Profiles stay cached until Rebuild.
type ProfileCache struct {
	source        domain.BarSource
	lookback      time.Duration
	bucketMinutes int

	mu       sync.Mutex
	profiles map[string][]domain.VolumeProfileBucket
}

// NewProfileCache creates a cache reading lookback of history per rebuild.
func NewProfileCache(source domain.BarSource, lookback time.Duration, bucketMinutes int) *ProfileCache {
	if bucketMinutes <= 0 {
		bucketMinutes = DefaultBucketMinutes
	}
	return &ProfileCache{
		source:        source,
		lookback:      lookback,
		bucketMinutes: bucketMinutes,
		profiles:      make(map[string][]domain.VolumeProfileBucket),
	}
}

// ProfileFor returns the symbol's cached profile, building it on first
// use. Falls back to the built-in default when no history exists.
func (p *ProfileCache) ProfileFor(symbol string) []domain.VolumeProfileBucket {
	p.mu.Lock()
	defer p.mu.Unlock()

	if profile, ok := p.profiles[symbol]; ok {
		return profile
	}
	profile := p.buildLocked(symbol)
	p.profiles[symbol] = profile
	return profile
}

// Rebuild forces a fresh profile for the symbol.
func (p *ProfileCache) Rebuild(symbol string) []domain.VolumeProfileBucket {
	p.mu.Lock()
	defer p.mu.Unlock()

	profile := p.buildLocked(symbol)
	p.profiles[symbol] = profile
	return profile
}

func (p *ProfileCache) buildLocked(symbol string) []domain.VolumeProfileBucket {
	if p.source != nil {
		since := time.Now().Add(-p.lookback)
		if bars, err := p.source.GetBars(symbol, since); err == nil {
			if profile := BuildVolumeProfile(bars, p.bucketMinutes); len(profile) > 0 {
				return profile
			}
		}
	}
	return DefaultProfile(p.bucketMinutes)
}
