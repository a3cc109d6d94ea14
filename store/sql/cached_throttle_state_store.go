package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-integrations/throttle"
)

const throttleStateCacheKeyPrefix = "go-integrations::flow_throttle_state::v1"

type CachedThrottleStateStore struct {
	base  throttle.StateStore
	cache repositorycache.CacheService
}

func NewCachedThrottleStateStore(
	base throttle.StateStore,
	cacheService repositorycache.CacheService,
) (*CachedThrottleStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base throttle state store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: throttle cache service is required")
	}
	return &CachedThrottleStateStore{base: base, cache: cacheService}, nil
}

// ThrottleStateCacheKey returns the deterministic cache key contract for
// throttle state reads: go-integrations::flow_throttle_state::v1::<domain>::<source>
// with each segment URL-path escaped after key normalization.
func ThrottleStateCacheKey(key throttle.Key) (string, error) {
	normalized := normalizeThrottleKey(key)
	if err := validateThrottleKey(normalized); err != nil {
		return "", err
	}
	segments := []string{
		normalized.Domain,
		string(normalized.Source),
	}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(append([]string{throttleStateCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedThrottleStateStore) Get(ctx context.Context, key throttle.Key) (throttle.State, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return throttle.State{}, fmt.Errorf("sqlstore: cached throttle state store is not configured")
	}
	normalized := normalizeThrottleKey(key)
	cacheKey, err := ThrottleStateCacheKey(normalized)
	if err != nil {
		return throttle.State{}, err
	}

	state, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (throttle.State, error) {
		fetched, fetchErr := s.base.Get(ctx, normalized)
		if fetchErr != nil {
			return throttle.State{}, fetchErr
		}
		fetched.Key = normalizeThrottleKey(fetched.Key)
		return cloneThrottleState(fetched), nil
	})
	if err != nil {
		return throttle.State{}, err
	}
	return cloneThrottleState(state), nil
}

func (s *CachedThrottleStateStore) Upsert(ctx context.Context, state throttle.State) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached throttle state store is not configured")
	}
	state.Key = normalizeThrottleKey(state.Key)
	if err := validateThrottleKey(state.Key); err != nil {
		return err
	}
	state.Metadata = copyAnyMap(state.Metadata)

	if err := s.base.Upsert(ctx, state); err != nil {
		return err
	}

	cacheKey, err := ThrottleStateCacheKey(state.Key)
	if err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return err
	}
	return nil
}

func cloneThrottleState(state throttle.State) throttle.State {
	cloned := state
	cloned.Key = normalizeThrottleKey(state.Key)
	cloned.Metadata = copyAnyMap(state.Metadata)
	cloned.ThrottledUntil = cloneTimePointer(state.ThrottledUntil)
	return cloned
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

var _ throttle.StateStore = (*CachedThrottleStateStore)(nil)
