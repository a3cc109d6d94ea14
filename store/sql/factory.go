package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/goliatone/go-integrations/core"
)

type RepositoryFactory struct {
	db *bun.DB

	entryStore         *EntryStore
	throttleStateStore *ThrottleStateStore
	bootstrapRunStore  *BootstrapRunStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	return NewRepositoryFactory().BuildStores(client)
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	return NewRepositoryFactory().BuildStores(db)
}

// BuildStores resolves a bun handle from source and constructs the stores
// over it. Repeat calls on an already built factory are no-ops.
func (f *RepositoryFactory) BuildStores(source any) (*RepositoryFactory, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(source)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) EntryStore() *EntryStore {
	if f == nil {
		return nil
	}
	return f.entryStore
}

func (f *RepositoryFactory) ThrottleStateStore() *ThrottleStateStore {
	if f == nil {
		return nil
	}
	return f.throttleStateStore
}

func (f *RepositoryFactory) BootstrapRunStore() *BootstrapRunStore {
	if f == nil {
		return nil
	}
	return f.bootstrapRunStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

// initStores builds the three stores as a unit: fields are assigned only
// once every constructor succeeded, so a failed build can be retried.
func (f *RepositoryFactory) initStores() error {
	if f.entryStore != nil && f.throttleStateStore != nil && f.bootstrapRunStore != nil {
		return nil
	}
	entries, err := NewEntryStore(f.db)
	if err != nil {
		return err
	}
	throttles, err := NewThrottleStateStore(f.db)
	if err != nil {
		return err
	}
	runs, err := NewBootstrapRunStore(f.db)
	if err != nil {
		return err
	}
	f.entryStore, f.throttleStateStore, f.bootstrapRunStore = entries, throttles, runs
	return nil
}

func resolveBunDB(source any) (*bun.DB, error) {
	switch db := source.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return db, nil
	case interface{ DB() *bun.DB }:
		if inner := db.DB(); inner != nil {
			return inner, nil
		}
		return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", source)
	}
}

// clientConfig adapts core.StorageConfig to the persistence client contract.
type clientConfig struct {
	driver string
	dsn    string
}

func (c clientConfig) GetDebug() bool                { return false }
func (c clientConfig) GetDriver() string             { return c.driver }
func (c clientConfig) GetServer() string             { return c.dsn }
func (c clientConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c clientConfig) GetOtelIdentifier() string     { return "go-integrations" }

// OpenClient opens the SQL backend named by the storage configuration and
// returns a persistence client ready for migrations and store construction.
// The caller owns the client and is responsible for closing it.
func OpenClient(cfg core.StorageConfig) (*persistence.Client, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: storage dsn is required")
	}
	driver, dialect, err := resolveDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s database: %w", driver, err)
	}
	client, err := persistence.New(clientConfig{driver: driver, dsn: dsn}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return client, nil
}

func resolveDialect(name string) (string, schema.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "postgres", "pg", "postgresql":
		return "postgres", pgdialect.New(), nil
	case "sqlite", "sqlite3":
		return "sqlite3", sqlitedialect.New(), nil
	default:
		return "", nil, fmt.Errorf("sqlstore: unsupported storage dialect %q", name)
	}
}
