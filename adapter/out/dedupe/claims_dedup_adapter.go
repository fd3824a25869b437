// Package dedupe implements the content-hash deduplication gate on Redis.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"claims_server/core/port/out"
)

const keyPrefix = "claims:dedup:"

// Deletes the key only while it still holds the caller's job id, so a
// concurrent re-claim after expiry is never released by a stale owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// =============================================================================
// Dedup Adapter (Redis)
// =============================================================================

// DedupAdapter implements out.DedupStore with SET NX EX. Redis serializes the
// SET, so under concurrent arrival of one hash exactly one caller wins and
// everyone else reads the winner's job id.
type DedupAdapter struct {
	client    *redis.Client
	retention time.Duration
}

// NewDedupAdapter creates the dedup gate with the given retention window.
// After expiry the same content may be reprocessed as new.
func NewDedupAdapter(client *redis.Client, retention time.Duration) *DedupAdapter {
	return &DedupAdapter{client: client, retention: retention}
}

// CheckAndRegister atomically claims the content hash for the candidate job.
func (a *DedupAdapter) CheckAndRegister(ctx context.Context, contentHash string, candidate uuid.UUID) (out.DedupResult, error) {
	key := keyPrefix + contentHash

	won, err := a.client.SetNX(ctx, key, candidate.String(), a.retention).Result()
	if err != nil {
		return out.DedupResult{}, fmt.Errorf("dedup setnx: %w", err)
	}
	if won {
		return out.DedupResult{New: true}, nil
	}

	stored, err := a.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// The winner's entry expired between SETNX and GET. Claim it now.
		if won, err := a.client.SetNX(ctx, key, candidate.String(), a.retention).Result(); err == nil && won {
			return out.DedupResult{New: true}, nil
		}
		stored, err = a.client.Get(ctx, key).Result()
		if err != nil {
			return out.DedupResult{}, fmt.Errorf("dedup get after expiry race: %w", err)
		}
	} else if err != nil {
		return out.DedupResult{}, fmt.Errorf("dedup get: %w", err)
	}

	existing, err := uuid.Parse(stored)
	if err != nil {
		return out.DedupResult{}, fmt.Errorf("dedup entry %q is not a job id: %w", stored, err)
	}
	return out.DedupResult{DuplicateOf: existing}, nil
}

// Release gives the hash back when the owning job could not be created.
func (a *DedupAdapter) Release(ctx context.Context, contentHash string, owner uuid.UUID) error {
	key := keyPrefix + contentHash
	if err := releaseScript.Run(ctx, a.client, []string{key}, owner.String()).Err(); err != nil {
		return fmt.Errorf("dedup release: %w", err)
	}
	return nil
}
