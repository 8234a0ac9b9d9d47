// Package index keeps an in-memory projection of obituaries for filtered,
// paginated search. It is rebuilt from the record store at startup and kept
// current by upserts after every committed write.
package index

import (
	"sort"
	"sync"

	domainobituary "obituaries/internal/domain/obituary"
)

type idSet map[string]struct{}

type Index struct {
	mu       sync.RWMutex
	records  map[string]domainobituary.Obituary
	byChain  map[int64]idSet
	byReason map[domainobituary.Reason]idSet
	byRisk   map[domainobituary.RiskLevel]idSet
	byStatus map[domainobituary.Status]idSet
}

func New() *Index {
	return &Index{
		records:  make(map[string]domainobituary.Obituary),
		byChain:  make(map[int64]idSet),
		byReason: make(map[domainobituary.Reason]idSet),
		byRisk:   make(map[domainobituary.RiskLevel]idSet),
		byStatus: make(map[domainobituary.Status]idSet),
	}
}

// Upsert stores a copy of o, replacing any previous version with the same id.
func (ix *Index) Upsert(o domainobituary.Obituary) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.upsertLocked(o.Clone())
}

// Rebuild drops the current contents and loads items.
func (ix *Index) Rebuild(items []domainobituary.Obituary) {
	fresh := New()
	for _, o := range items {
		fresh.upsertLocked(o.Clone())
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.records = fresh.records
	ix.byChain = fresh.byChain
	ix.byReason = fresh.byReason
	ix.byRisk = fresh.byRisk
	ix.byStatus = fresh.byStatus
}

func (ix *Index) Get(id string) (domainobituary.Obituary, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	o, ok := ix.records[id]
	if !ok {
		return domainobituary.Obituary{}, false
	}
	return o.Clone(), true
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Search filters, sorts and pages the projection. Ties in the sort key are
// broken by id so that paging through a stable index never repeats or skips.
func (ix *Index) Search(q domainobituary.SearchQuery) (domainobituary.Page, error) {
	q, err := q.Normalize()
	if err != nil {
		return domainobituary.Page{}, err
	}

	ix.mu.RLock()
	matched := make([]domainobituary.Obituary, 0)
	for _, id := range ix.candidatesLocked(q.Filters) {
		o := ix.records[id]
		if !q.Filters.Matches(o) || !domainobituary.MatchesText(o, q.Text) {
			continue
		}
		matched = append(matched, o)
	}
	ix.mu.RUnlock()

	sort.Slice(matched, less(matched, q.Sort))

	total := len(matched)
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}

	items := make([]domainobituary.Obituary, 0, end-start)
	for _, o := range matched[start:end] {
		items = append(items, o.Clone())
	}
	return domainobituary.Page{
		Items:      items,
		TotalCount: total,
		HasMore:    end < total,
	}, nil
}

func (ix *Index) upsertLocked(o domainobituary.Obituary) {
	if prev, ok := ix.records[o.ID]; ok {
		removeFrom(ix.byChain, prev.ChainID, prev.ID)
		removeFrom(ix.byReason, prev.Reason, prev.ID)
		removeFrom(ix.byRisk, prev.RiskLevel, prev.ID)
		removeFrom(ix.byStatus, prev.VerificationStatus, prev.ID)
	}
	ix.records[o.ID] = o
	addTo(ix.byChain, o.ChainID, o.ID)
	addTo(ix.byReason, o.Reason, o.ID)
	addTo(ix.byRisk, o.RiskLevel, o.ID)
	addTo(ix.byStatus, o.VerificationStatus, o.ID)
}

// candidatesLocked returns the ids of the smallest secondary set selected by
// f, or every id when f has no structured filter.
func (ix *Index) candidatesLocked(f domainobituary.Filters) []string {
	var best idSet
	consider := func(set idSet, ok bool) {
		if !ok {
			set = idSet{}
		}
		if best == nil || len(set) < len(best) {
			best = set
		}
	}
	if f.ChainID != 0 {
		set, ok := ix.byChain[f.ChainID]
		consider(set, ok)
	}
	if f.Reason != "" {
		set, ok := ix.byReason[f.Reason]
		consider(set, ok)
	}
	if f.RiskLevel != "" {
		set, ok := ix.byRisk[f.RiskLevel]
		consider(set, ok)
	}
	if f.Status != "" {
		set, ok := ix.byStatus[f.Status]
		consider(set, ok)
	}

	if best == nil {
		ids := make([]string, 0, len(ix.records))
		for id := range ix.records {
			ids = append(ids, id)
		}
		return ids
	}
	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	return ids
}

func less(items []domainobituary.Obituary, key domainobituary.SortKey) func(i, j int) bool {
	return func(i, j int) bool {
		a, b := items[i], items[j]
		switch key {
		case domainobituary.SortVerificationCount:
			if a.VerificationCount != b.VerificationCount {
				return a.VerificationCount > b.VerificationCount
			}
		case domainobituary.SortRiskLevel:
			if a.RiskLevel.Rank() != b.RiskLevel.Rank() {
				return a.RiskLevel.Rank() > b.RiskLevel.Rank()
			}
		default:
			if !a.ReportedAt.Equal(b.ReportedAt) {
				return a.ReportedAt.After(b.ReportedAt)
			}
		}
		return a.ID < b.ID
	}
}

func addTo[K comparable](m map[K]idSet, key K, id string) {
	set, ok := m[key]
	if !ok {
		set = idSet{}
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom[K comparable](m map[K]idSet, key K, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}
