package commands

import (
	"context"
	"strings"
	"time"

	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
	"agora/contexts/governance/governance-engine/ports"
)

// idempotencyScope namespaces a caller key by operation and actor so two
// participants can reuse the same client key.
func idempotencyScope(operation string, actorID string, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return operation + ":" + strings.TrimSpace(actorID) + ":" + key
}

// replayedResource returns the stored resource id for key when the request
// hash matches, and ErrIdempotencyConflict when it does not.
func replayedResource(
	ctx context.Context,
	store ports.IdempotencyStore,
	key string,
	requestHash string,
	now time.Time,
) (string, bool, error) {
	if key == "" || store == nil {
		return "", false, nil
	}
	record, found, err := store.Get(ctx, key, now)
	if err != nil || !found {
		return "", false, err
	}
	if record.RequestHash != requestHash {
		return "", false, domainerrors.ErrIdempotencyConflict
	}
	return record.ResourceID, true, nil
}

func rememberResource(
	ctx context.Context,
	store ports.IdempotencyStore,
	key string,
	requestHash string,
	resourceID string,
	expiresAt time.Time,
) error {
	if key == "" || store == nil {
		return nil
	}
	return store.Put(ctx, ports.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		ResourceID:  resourceID,
		ExpiresAt:   expiresAt,
	})
}

func resolveIdempotencyTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultIdempotencyTTL
	}
	return ttl
}
