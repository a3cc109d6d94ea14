package integrations

import (
	"fmt"

	integrationscommand "github.com/goliatone/go-integrations/command"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/discovery"
	integrationsquery "github.com/goliatone/go-integrations/query"
	"github.com/goliatone/go-integrations/secrets"
	filestore "github.com/goliatone/go-integrations/store/file"
	sqlstore "github.com/goliatone/go-integrations/store/sql"
	"github.com/goliatone/go-integrations/throttle"
)

type Commands struct {
	AddEntry        *integrationscommand.AddEntryCommand
	RemoveEntry     *integrationscommand.RemoveEntryCommand
	StartFlow       *integrationscommand.StartFlowCommand
	ConfigureFlow   *integrationscommand.ConfigureFlowCommand
	AbortFlow       *integrationscommand.AbortFlowCommand
	IngestDiscovery *integrationscommand.IngestDiscoveryCommand
}

type Queries struct {
	ListEntries  *integrationsquery.ListEntriesQuery
	ListDomains  *integrationsquery.ListDomainsQuery
	GetEntry     *integrationsquery.GetEntryQuery
	FlowProgress *integrationsquery.FlowProgressQuery
}

type Facade struct {
	service   *core.Service
	processor *discovery.Processor
	commands  Commands
	queries   Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	processor *discovery.Processor
	ledger    discovery.Ledger
	starter   discovery.FlowStarter
}

// WithDiscoveryProcessor replaces the facade's discovery pipeline wholesale.
func WithDiscoveryProcessor(processor *discovery.Processor) FacadeOption {
	return func(options *facadeOptions) {
		options.processor = processor
	}
}

// WithDiscoveryLedger swaps the announcement dedupe ledger, typically for a
// durable implementation.
func WithDiscoveryLedger(ledger discovery.Ledger) FacadeOption {
	return func(options *facadeOptions) {
		options.ledger = ledger
	}
}

// WithFlowStarter rebinds how accepted announcements start flows. Hosts that
// route every write through a command bus point this at their dispatcher.
func WithFlowStarter(starter discovery.FlowStarter) FacadeOption {
	return func(options *facadeOptions) {
		options.starter = starter
	}
}

// NewFacade bundles the command and query handlers for one entry service.
// Discovery ingestion gets a processor wired to the service's flow manager
// unless an option supplies one.
func NewFacade(service *core.Service, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("integrations: entry service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	processor := cfg.processor
	if processor == nil {
		processor = buildDiscoveryProcessor(service, cfg)
	}

	flows := service.Flows()
	facade := &Facade{service: service, processor: processor}
	facade.commands = Commands{
		AddEntry:        integrationscommand.NewAddEntryCommand(service),
		RemoveEntry:     integrationscommand.NewRemoveEntryCommand(service),
		StartFlow:       integrationscommand.NewStartFlowCommand(flows),
		ConfigureFlow:   integrationscommand.NewConfigureFlowCommand(flows),
		AbortFlow:       integrationscommand.NewAbortFlowCommand(flows),
		IngestDiscovery: integrationscommand.NewIngestDiscoveryCommand(processor),
	}
	facade.queries = Queries{
		ListEntries:  integrationsquery.NewListEntriesQuery(service),
		ListDomains:  integrationsquery.NewListDomainsQuery(service),
		GetEntry:     integrationsquery.NewGetEntryQuery(service),
		FlowProgress: integrationsquery.NewFlowProgressQuery(flows),
	}

	return facade, nil
}

// New assembles the whole subsystem from configuration: record store by
// storage driver, secret provider, flow throttle, then the service and its
// facade. Callers needing finer control build the service themselves and use
// NewFacade.
func New(cfg Config, opts ...Option) (*Facade, error) {
	service, err := NewServiceFromConfig(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return NewFacade(service)
}

// NewServiceFromConfig materializes Config.Storage, Config.Secrets, and
// Config.Flows.Throttle into concrete collaborators before delegating to
// core.NewService. Explicit options are applied after the materialized ones
// and win on conflict.
func NewServiceFromConfig(cfg Config, opts ...Option) (*core.Service, error) {
	// A blank driver means in-process memory, not the config-file default.
	// Stamping it keeps the resolved Config reporting the store actually wired.
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = core.StorageDriverMemory
	}

	registry := core.NewHandlerRegistry()
	built := []core.Option{core.WithRegistry(registry)}

	var secretProvider core.SecretProvider
	if cfg.Secrets.Enabled {
		provider, err := secrets.FromConfig(cfg.Secrets)
		if err != nil {
			return nil, err
		}
		secretProvider = provider
		built = append(built, core.WithSecretProvider(provider))
	}

	var throttleStore throttle.StateStore

	switch cfg.Storage.Driver {
	case core.StorageDriverMemory:
	case core.StorageDriverFile:
		fileOpts := []filestore.Option{
			filestore.WithSensitiveFields(registrySensitiveFields(registry)),
		}
		if secretProvider != nil {
			fileOpts = append(fileOpts, filestore.WithSecretProvider(secretProvider))
		}
		store, err := filestore.New(cfg.Storage.Path, fileOpts...)
		if err != nil {
			return nil, err
		}
		built = append(built, core.WithRecordStore(store))
	case core.StorageDriverSQL:
		client, err := sqlstore.OpenClient(cfg.Storage)
		if err != nil {
			return nil, err
		}
		factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
		if err != nil {
			return nil, err
		}
		built = append(built, core.WithRecordStore(factory.EntryStore()))
		throttleStore = factory.ThrottleStateStore()
	default:
		return nil, fmt.Errorf("integrations: unsupported storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Flows.Throttle.Enabled {
		if throttleStore == nil {
			throttleStore = throttle.NewMemoryStateStore()
		}
		built = append(built, core.WithFlowThrottle(throttle.FromConfig(throttleStore, cfg.Flows.Throttle)))
	}

	return core.NewService(cfg, append(built, opts...)...)
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() *core.Service {
	if f == nil {
		return nil
	}
	return f.service
}

// Discovery exposes the announcement processor behind IngestDiscovery, for
// hosts that feed announcements directly instead of through the command.
func (f *Facade) Discovery() *discovery.Processor {
	if f == nil {
		return nil
	}
	return f.processor
}

func buildDiscoveryProcessor(service *core.Service, cfg facadeOptions) *discovery.Processor {
	ledger := cfg.ledger
	if ledger == nil {
		ledger = discovery.NewMemoryLedger()
	}
	starter := cfg.starter
	if starter == nil {
		starter = discovery.FlowStarterFunc(service.Flows().Init)
	}

	processor := discovery.NewProcessor(ledger, starter)
	processor.Flows = service.Flows()

	dcfg := service.Config().Discovery
	if dcfg.ClaimLease > 0 {
		processor.ClaimLease = dcfg.ClaimLease
	}
	if dcfg.MaxAttempts > 0 {
		processor.MaxAttempts = dcfg.MaxAttempts
	}
	if dcfg.BurstLimit > 0 {
		processor.Burst = discovery.NewBurstController(discovery.BurstOptions{
			Limit:  dcfg.BurstLimit,
			Window: dcfg.BurstWindow,
		})
	}
	return processor
}

// registrySensitiveFields resolves a domain's sensitive field names through
// its registered handler schema, so the file store seals exactly the fields
// the integration marked.
func registrySensitiveFields(registry core.Registry) func(domain string) []string {
	return func(domain string) []string {
		factory, ok := registry.Lookup(domain)
		if !ok || factory == nil {
			return nil
		}
		handler := factory()
		if handler == nil {
			return nil
		}
		return handler.Schema().SensitiveFields()
	}
}
