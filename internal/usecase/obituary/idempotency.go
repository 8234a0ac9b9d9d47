package obituary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/ports"
)

// replay looks up key and decodes a stored result into out. It reports
// whether a result was found. A key first used for another operation is a
// validation error.
func (s *Service) replay(ctx context.Context, key string, operation string, out any) (bool, error) {
	if key == "" {
		return false, nil
	}
	record, found, err := s.keys.LookupIdempotency(ctx, key)
	if err != nil {
		return false, classify(err, "lookup idempotency key")
	}
	if !found {
		return false, nil
	}
	if record.Operation != operation {
		return false, fmt.Errorf("%w: key %q belongs to %s", domainobituary.ErrIdempotencyUsed, key, record.Operation)
	}
	if err := json.Unmarshal([]byte(record.ResultJSON), out); err != nil {
		return false, errs.Wrap(err, "decode idempotent result")
	}
	return true, nil
}

// remember stores result under key inside the caller's transaction.
func (s *Service) remember(txCtx context.Context, key string, operation string, result any) error {
	if key == "" {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errs.Wrap(err, "encode idempotent result")
	}
	saved, err := s.keys.SaveIdempotency(txCtx, ports.IdempotencyRecord{
		Key:        key,
		Operation:  operation,
		ResultJSON: string(raw),
		CreatedAt:  s.now(),
	})
	if err != nil {
		return err
	}
	if !saved {
		return fmt.Errorf("%w: key %q", domainobituary.ErrIdempotencyUsed, key)
	}
	return nil
}

func normalizeIdempotencyKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if len(key) > 255 {
		return "", errs.E(errs.CodeValidation, "idempotency key longer than 255 characters")
	}
	return key, nil
}
