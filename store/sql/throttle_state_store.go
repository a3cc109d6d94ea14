package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/throttle"
)

type ThrottleStateStore struct {
	db   *bun.DB
	repo repository.Repository[*throttleStateRecord]
}

func NewThrottleStateStore(db *bun.DB) (*ThrottleStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*throttleStateRecord](db, throttleStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid throttle state repository wiring: %w", err)
		}
	}
	return &ThrottleStateStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *ThrottleStateStore) Get(ctx context.Context, key throttle.Key) (throttle.State, error) {
	if s == nil || s.db == nil {
		return throttle.State{}, fmt.Errorf("sqlstore: throttle state store is not configured")
	}
	key = normalizeThrottleKey(key)
	if err := validateThrottleKey(key); err != nil {
		return throttle.State{}, err
	}

	record := &throttleStateRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.domain = ?", key.Domain).
		Where("?TableAlias.source = ?", string(key.Source)).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return throttle.State{}, throttle.ErrStateNotFound
		}
		return throttle.State{}, err
	}
	return record.toDomain(), nil
}

func (s *ThrottleStateStore) Upsert(ctx context.Context, state throttle.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: throttle state store is not configured")
	}
	state.Key = normalizeThrottleKey(state.Key)
	if err := validateThrottleKey(state.Key); err != nil {
		return err
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	state.Metadata = copyAnyMap(state.Metadata)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findThrottleStateTx(ctx, tx, state.Key)
		if err != nil {
			return err
		}
		created := false
		if record == nil {
			created = true
			record = &throttleStateRecord{
				ID:        uuid.NewString(),
				Domain:    state.Key.Domain,
				Source:    string(state.Key.Source),
				CreatedAt: state.UpdatedAt,
			}
		}
		record.Domain = state.Key.Domain
		record.Source = string(state.Key.Source)
		record.Attempts = state.Attempts
		record.LastOutcome = string(state.LastOutcome)
		record.Metadata = state.Metadata
		record.UpdatedAt = state.UpdatedAt.UTC()
		record.ThrottledUntil = copyTimePointer(state.ThrottledUntil)

		if created {
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				return insertErr
			}
			return nil
		}
		if _, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		return nil
	})
}

func findThrottleStateTx(
	ctx context.Context,
	tx bun.Tx,
	key throttle.Key,
) (*throttleStateRecord, error) {
	record := &throttleStateRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.domain = ?", key.Domain).
		Where("?TableAlias.source = ?", string(key.Source)).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func normalizeThrottleKey(key throttle.Key) throttle.Key {
	return throttle.Key{
		Domain: strings.TrimSpace(strings.ToLower(key.Domain)),
		Source: core.Source(strings.TrimSpace(strings.ToLower(string(key.Source)))),
	}
}

func validateThrottleKey(key throttle.Key) error {
	if strings.TrimSpace(key.Domain) == "" {
		return fmt.Errorf("sqlstore: throttle domain is required")
	}
	if strings.TrimSpace(string(key.Source)) == "" {
		return fmt.Errorf("sqlstore: throttle source is required")
	}
	return nil
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

var _ throttle.StateStore = (*ThrottleStateStore)(nil)
