package sqlstore

import (
	"context"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-integrations/core"
)

// EntryStore persists the whole entry collection in a relational table. Save
// replaces the previous snapshot in one transaction so readers never observe
// a partially written collection.
type EntryStore struct {
	db   *bun.DB
	repo repository.Repository[*entryRecord]
	now  func() time.Time
}

func NewEntryStore(db *bun.DB) (*EntryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*entryRecord](db, entryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid entry repository wiring: %w", err)
		}
	}
	return &EntryStore{
		db:   db,
		repo: repo,
		now:  time.Now,
	}, nil
}

func (s *EntryStore) Load(ctx context.Context) ([]core.EntryRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: entry store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("position ASC"))
	if err != nil {
		return nil, err
	}
	out := make([]core.EntryRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *EntryStore) Save(ctx context.Context, records []core.EntryRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: entry store is not configured")
	}
	now := s.now().UTC()
	rows := make([]*entryRecord, 0, len(records))
	for position, record := range records {
		rows = append(rows, newEntryRecord(record, position, now))
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*entryRecord)(nil)).
			Where("1 = 1").
			Exec(ctx); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}
