package obituary

import (
	"context"
	"fmt"
	"strings"

	domainobituary "obituaries/internal/domain/obituary"
)

func (s *Service) Get(ctx context.Context, id string) (domainobituary.Obituary, error) {
	if err := checkContext(ctx); err != nil {
		return domainobituary.Obituary{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domainobituary.Obituary{}, fmt.Errorf("%w: id", domainobituary.ErrFieldRequired)
	}

	o, err := s.repo.GetObituary(ctx, id)
	if err != nil {
		return domainobituary.Obituary{}, classify(err, "get obituary")
	}
	return o, nil
}

// GetByAddress lists every obituary for address, newest first. chainID 0
// matches all chains.
func (s *Service) GetByAddress(ctx context.Context, address string, chainID int64) ([]domainobituary.Obituary, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	normalized, err := domainobituary.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if chainID < 0 {
		return nil, fmt.Errorf("%w: got %d", domainobituary.ErrInvalidChainID, chainID)
	}

	items, err := s.repo.ListByAddress(ctx, normalized, chainID)
	if err != nil {
		return nil, classify(err, "list obituaries by address")
	}
	return items, nil
}

// Search answers from the in-memory index and never touches the store.
func (s *Service) Search(ctx context.Context, query domainobituary.SearchQuery) (domainobituary.Page, error) {
	if err := checkContext(ctx); err != nil {
		return domainobituary.Page{}, err
	}
	return s.index.Search(query)
}

func (s *Service) ListVerifications(ctx context.Context, id string) ([]domainobituary.Verification, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	votes, err := s.repo.ListVerifications(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, classify(err, "list verifications")
	}
	return votes, nil
}
