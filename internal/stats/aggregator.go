// Package stats maintains aggregate counters over the record store. Counters
// are persisted next to the records they describe and mirrored in memory for
// constant-time reads.
package stats

import (
	"sort"
	"strconv"
	"sync"

	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/ports"
)

const (
	DimensionTotal  = "total"
	DimensionChain  = "chain"
	DimensionReason = "reason"
	DimensionRisk   = "risk"
	DimensionStatus = "status"

	KeyObituaries    = "obituaries"
	KeyVerifications = "verifications"
)

// Snapshot is the StorageStats view of the counters.
type Snapshot struct {
	TotalObituaries    int64
	TotalVerifications int64
	ChainDistribution  map[int64]int64
	ReasonDistribution map[domainobituary.Reason]int64
	RiskDistribution   map[domainobituary.RiskLevel]int64
	StatusDistribution map[domainobituary.Status]int64
}

type counterKey struct {
	dimension string
	key       string
}

type Aggregator struct {
	mu       sync.RWMutex
	counters map[counterKey]int64
}

func NewAggregator() *Aggregator {
	return &Aggregator{counters: make(map[counterKey]int64)}
}

// Apply adds deltas to the in-memory mirror.
func (a *Aggregator) Apply(deltas []ports.StatsCounter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range deltas {
		k := counterKey{dimension: d.Dimension, key: d.Key}
		a.counters[k] += d.Count
		if a.counters[k] == 0 {
			delete(a.counters, k)
		}
	}
}

// Load replaces the mirror with counters.
func (a *Aggregator) Load(counters []ports.StatsCounter) {
	next := make(map[counterKey]int64, len(counters))
	for _, c := range counters {
		if c.Count != 0 {
			next[counterKey{dimension: c.Dimension, key: c.Key}] = c.Count
		}
	}
	a.mu.Lock()
	a.counters = next
	a.mu.Unlock()
}

// Counters returns the mirror sorted by dimension and key.
func (a *Aggregator) Counters() []ports.StatsCounter {
	a.mu.RLock()
	out := make([]ports.StatsCounter, 0, len(a.counters))
	for k, v := range a.counters {
		out = append(out, ports.StatsCounter{Dimension: k.dimension, Key: k.key, Count: v})
	}
	a.mu.RUnlock()
	sortCounters(out)
	return out
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := Snapshot{
		ChainDistribution:  make(map[int64]int64),
		ReasonDistribution: make(map[domainobituary.Reason]int64),
		RiskDistribution:   make(map[domainobituary.RiskLevel]int64),
		StatusDistribution: make(map[domainobituary.Status]int64),
	}
	for k, v := range a.counters {
		switch k.dimension {
		case DimensionTotal:
			switch k.key {
			case KeyObituaries:
				snap.TotalObituaries = v
			case KeyVerifications:
				snap.TotalVerifications = v
			}
		case DimensionChain:
			if chainID, err := strconv.ParseInt(k.key, 10, 64); err == nil {
				snap.ChainDistribution[chainID] = v
			}
		case DimensionReason:
			snap.ReasonDistribution[domainobituary.Reason(k.key)] = v
		case DimensionRisk:
			snap.RiskDistribution[domainobituary.RiskLevel(k.key)] = v
		case DimensionStatus:
			snap.StatusDistribution[domainobituary.Status(k.key)] = v
		}
	}
	return snap
}

// Deltas returns the counter changes caused by moving a record from before
// to after and recording newVotes additional verifications. A nil before
// means after is a new record.
func Deltas(before *domainobituary.Obituary, after domainobituary.Obituary, newVotes int64) []ports.StatsCounter {
	var out []ports.StatsCounter
	add := func(dimension, key string, n int64) {
		out = append(out, ports.StatsCounter{Dimension: dimension, Key: key, Count: n})
	}

	if before == nil {
		add(DimensionTotal, KeyObituaries, 1)
		add(DimensionChain, chainKey(after.ChainID), 1)
		add(DimensionReason, string(after.Reason), 1)
		add(DimensionRisk, string(after.RiskLevel), 1)
		add(DimensionStatus, string(after.VerificationStatus), 1)
	} else {
		if before.RiskLevel != after.RiskLevel {
			add(DimensionRisk, string(before.RiskLevel), -1)
			add(DimensionRisk, string(after.RiskLevel), 1)
		}
		if before.VerificationStatus != after.VerificationStatus {
			add(DimensionStatus, string(before.VerificationStatus), -1)
			add(DimensionStatus, string(after.VerificationStatus), 1)
		}
	}
	if newVotes != 0 {
		add(DimensionTotal, KeyVerifications, newVotes)
	}
	return out
}

// Compute derives counters from a full scan of records.
func Compute(records []domainobituary.Obituary, verifications int64) []ports.StatsCounter {
	acc := NewAggregator()
	for i := range records {
		acc.Apply(Deltas(nil, records[i], 0))
	}
	acc.Apply([]ports.StatsCounter{{Dimension: DimensionTotal, Key: KeyVerifications, Count: verifications}})
	return acc.Counters()
}

// Divergence is one counter whose cached value differs from a rescan.
type Divergence struct {
	Dimension string
	Key       string
	Cached    int64
	Actual    int64
}

// Diff compares cached counters with freshly computed ones. Missing counters count as zero.
func Diff(cached []ports.StatsCounter, actual []ports.StatsCounter) []Divergence {
	values := make(map[counterKey][2]int64)
	for _, c := range cached {
		k := counterKey{dimension: c.Dimension, key: c.Key}
		v := values[k]
		v[0] += c.Count
		values[k] = v
	}
	for _, c := range actual {
		k := counterKey{dimension: c.Dimension, key: c.Key}
		v := values[k]
		v[1] += c.Count
		values[k] = v
	}

	var out []Divergence
	for k, v := range values {
		if v[0] != v[1] {
			out = append(out, Divergence{Dimension: k.dimension, Key: k.key, Cached: v[0], Actual: v[1]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dimension != out[j].Dimension {
			return out[i].Dimension < out[j].Dimension
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func chainKey(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}

func sortCounters(items []ports.StatsCounter) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Dimension != items[j].Dimension {
			return items[i].Dimension < items[j].Dimension
		}
		return items[i].Key < items[j].Key
	})
}
