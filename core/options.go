package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

// ConfigProvider loads service configuration from an external source, layered
// over compiled-in defaults.
type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

// RawConfigLoader feeds a ConfigProvider with unparsed key value pairs.
type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

// OptionsResolver merges the defaults, loaded, and runtime configuration
// layers into the effective Config, lowest priority first.
type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig        Config
	logger               Logger
	loggerProvider       LoggerProvider
	metricsRecorder      MetricsRecorder
	errorFactory         ErrorFactory
	errorMapper          ErrorMapper
	configProvider       ConfigProvider
	optionsResolver      OptionsResolver
	registry             Registry
	recordStore          EntryRecordStore
	componentLoader      ComponentLoader
	componentHost        ComponentHost
	requirementsResolver RequirementsResolver
	secretProvider       SecretProvider
	flowThrottle         FlowThrottle
	listeners            []EntryListener
	idGenerator          func() string
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) { b.logger = logger }
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) { b.loggerProvider = provider }
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) { b.metricsRecorder = recorder }
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) { b.errorFactory = factory }
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) { b.errorMapper = mapper }
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) { b.configProvider = provider }
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) { b.optionsResolver = resolver }
}

func WithRegistry(registry Registry) Option {
	return func(b *serviceBuilder) { b.registry = registry }
}

func WithRecordStore(store EntryRecordStore) Option {
	return func(b *serviceBuilder) { b.recordStore = store }
}

func WithComponentLoader(loader ComponentLoader) Option {
	return func(b *serviceBuilder) { b.componentLoader = loader }
}

func WithComponentHost(host ComponentHost) Option {
	return func(b *serviceBuilder) { b.componentHost = host }
}

func WithRequirementsResolver(resolver RequirementsResolver) Option {
	return func(b *serviceBuilder) { b.requirementsResolver = resolver }
}

func WithSecretProvider(provider SecretProvider) Option {
	return func(b *serviceBuilder) { b.secretProvider = provider }
}

func WithFlowThrottle(throttle FlowThrottle) Option {
	return func(b *serviceBuilder) { b.flowThrottle = throttle }
}

func WithEntryListener(listener EntryListener) Option {
	return func(b *serviceBuilder) {
		if listener != nil {
			b.listeners = append(b.listeners, listener)
		}
	}
}

// WithIDGenerator overrides entry and flow id generation, mainly for tests
// that need deterministic ids.
func WithIDGenerator(generate func() string) Option {
	return func(b *serviceBuilder) { b.idGenerator = generate }
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("integrations", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		registry:        NewHandlerRegistry(),
	}
}

// restoreDefaults reinstates any ambient dependency an option explicitly
// cleared, so construction never proceeds with a nil seam.
func (b *serviceBuilder) restoreDefaults() {
	if b.errorFactory == nil {
		b.errorFactory = goerrors.New
	}
	if b.errorMapper == nil {
		b.errorMapper = defaultErrorMapper
	}
	if b.metricsRecorder == nil {
		b.metricsRecorder = NopMetricsRecorder{}
	}
	if b.configProvider == nil {
		b.configProvider = NewCfgxConfigProvider(nil)
	}
	if b.optionsResolver == nil {
		b.optionsResolver = GoOptionsResolver{}
	}
	if b.registry == nil {
		b.registry = NewHandlerRegistry()
	}
	if b.idGenerator == nil {
		b.idGenerator = uuid.NewString
	}
}

// CfgxConfigProvider loads configuration through cfgx from whatever raw
// source its Loader yields. A nil Loader decodes an empty value set, which
// leaves the defaults in effect.
type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	raw := map[string]any{}
	if p.Loader != nil {
		loaded, err := p.Loader.LoadRaw(ctx)
		if err != nil {
			return Config{}, err
		}
		raw = loaded
	}
	return buildConfig(raw, defaults)
}

// GoOptionsResolver layers defaults, loaded, and runtime configuration with
// go-options scopes and rebuilds the merged map into a validated Config.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: build config layer stack: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: merge config layers: %w", err)
	}
	resolved, err := buildConfig(merged.Value, defaults)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// buildConfig is the one path raw values take into a Config: cfgx decode with
// defaults backfill, then struct validation.
func buildConfig(raw map[string]any, defaults Config) (Config, error) {
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// configToLayerMap projects a Config onto the nested key space the resolver
// merges. Zero values are kept only for the defaults layer so higher layers
// do not clobber settings they never mention.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	storage := map[string]any{}
	if includeZero || cfg.Storage.Driver != "" {
		storage["driver"] = string(cfg.Storage.Driver)
	}
	if includeZero || strings.TrimSpace(cfg.Storage.Path) != "" {
		storage["path"] = cfg.Storage.Path
	}
	if includeZero || cfg.Storage.SaveDelay != 0 {
		storage["save_delay"] = cfg.Storage.SaveDelay
	}
	if includeZero || cfg.Storage.ResetStatesOnLoad {
		storage["reset_states_on_load"] = cfg.Storage.ResetStatesOnLoad
	}
	if includeZero || strings.TrimSpace(cfg.Storage.DSN) != "" {
		storage["dsn"] = cfg.Storage.DSN
	}
	if includeZero || strings.TrimSpace(cfg.Storage.Dialect) != "" {
		storage["dialect"] = cfg.Storage.Dialect
	}
	if len(storage) > 0 {
		layer["storage"] = storage
	}

	if includeZero || cfg.Flows.Throttle.Enabled {
		layer["flows"] = map[string]any{
			"throttle": map[string]any{
				"enabled":            cfg.Flows.Throttle.Enabled,
				"window":             cfg.Flows.Throttle.Window,
				"max_attempts":       cfg.Flows.Throttle.MaxAttempts,
				"initial_backoff":    cfg.Flows.Throttle.InitialBackoff,
				"max_backoff":        cfg.Flows.Throttle.MaxBackoff,
				"include_user_flows": cfg.Flows.Throttle.IncludeUserFlows,
			},
		}
	}
	if includeZero || cfg.Secrets.Enabled {
		layer["secrets"] = map[string]any{
			"enabled":       cfg.Secrets.Enabled,
			"active_key_id": cfg.Secrets.ActiveKeyID,
			"keys":          cfg.Secrets.Keys,
		}
	}

	discovery := map[string]any{}
	if includeZero || cfg.Discovery.ClaimLease != 0 {
		discovery["claim_lease"] = cfg.Discovery.ClaimLease
	}
	if includeZero || cfg.Discovery.MaxAttempts != 0 {
		discovery["max_attempts"] = cfg.Discovery.MaxAttempts
	}
	if includeZero || cfg.Discovery.BurstLimit != 0 {
		discovery["burst_limit"] = cfg.Discovery.BurstLimit
	}
	if includeZero || cfg.Discovery.BurstWindow != 0 {
		discovery["burst_window"] = cfg.Discovery.BurstWindow
	}
	if len(discovery) > 0 {
		layer["discovery"] = discovery
	}
	return layer
}
