package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-integrations/bootstrap"
)

type BootstrapRunStore struct {
	db   *bun.DB
	repo repository.Repository[*bootstrapRunRecord]
}

func NewBootstrapRunStore(db *bun.DB) (*BootstrapRunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*bootstrapRunRecord](db, bootstrapRunHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid bootstrap run repository wiring: %w", err)
		}
	}
	return &BootstrapRunStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *BootstrapRunStore) Create(ctx context.Context, run bootstrap.Run) (bootstrap.Run, error) {
	if s == nil || s.repo == nil {
		return bootstrap.Run{}, fmt.Errorf("sqlstore: bootstrap run store is not configured")
	}
	if strings.TrimSpace(run.ID) == "" {
		return bootstrap.Run{}, fmt.Errorf("sqlstore: bootstrap run id is required")
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}

	created, err := s.repo.Create(ctx, newBootstrapRunRecord(run))
	if err != nil {
		return bootstrap.Run{}, err
	}
	return created.toDomain(), nil
}

func (s *BootstrapRunStore) Get(ctx context.Context, id string) (bootstrap.Run, error) {
	if s == nil || s.db == nil {
		return bootstrap.Run{}, fmt.Errorf("sqlstore: bootstrap run store is not configured")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return bootstrap.Run{}, fmt.Errorf("sqlstore: bootstrap run id is required")
	}

	record := &bootstrapRunRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", trimmed).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return bootstrap.Run{}, bootstrap.ErrRunNotFound
		}
		return bootstrap.Run{}, err
	}
	return record.toDomain(), nil
}

func (s *BootstrapRunStore) Update(ctx context.Context, run bootstrap.Run) (bootstrap.Run, error) {
	if s == nil || s.repo == nil {
		return bootstrap.Run{}, fmt.Errorf("sqlstore: bootstrap run store is not configured")
	}
	trimmed := strings.TrimSpace(run.ID)
	if trimmed == "" {
		return bootstrap.Run{}, fmt.Errorf("sqlstore: bootstrap run id is required")
	}
	current, err := s.Get(ctx, trimmed)
	if err != nil {
		return bootstrap.Run{}, err
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = current.CreatedAt
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = time.Now().UTC()
	}

	updated, err := s.repo.Update(ctx, newBootstrapRunRecord(run), repository.UpdateByID(trimmed))
	if err != nil {
		return bootstrap.Run{}, err
	}
	return updated.toDomain(), nil
}
