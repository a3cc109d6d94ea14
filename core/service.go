package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config               Config
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

	mu      sync.Mutex
	entries []*Entry
	byID    map[string]*Entry

	saveMu    sync.Mutex
	saveTimer *time.Timer

	flows *FlowManager
}

type ServiceDependencies struct {
	Logger               Logger
	LoggerProvider       LoggerProvider
	MetricsRecorder      MetricsRecorder
	ErrorFactory         ErrorFactory
	ErrorMapper          ErrorMapper
	ConfigProvider       ConfigProvider
	OptionsResolver      OptionsResolver
	Registry             Registry
	RecordStore          EntryRecordStore
	ComponentLoader      ComponentLoader
	ComponentHost        ComponentHost
	RequirementsResolver RequirementsResolver
	SecretProvider       SecretProvider
	FlowThrottle         FlowThrottle
	Listeners            []EntryListener
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}
	builder.restoreDefaults()

	provider, logger := glog.Resolve("integrations", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("integrations"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapWithFallback(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapWithFallback(builder.errorMapper, err)
	}

	if builder.recordStore == nil {
		builder.recordStore = NewMemoryRecordStore()
	}

	svc := &Service{
		config:               finalConfig,
		logger:               logger,
		loggerProvider:       provider,
		metricsRecorder:      builder.metricsRecorder,
		errorFactory:         builder.errorFactory,
		errorMapper:          builder.errorMapper,
		configProvider:       builder.configProvider,
		optionsResolver:      builder.optionsResolver,
		registry:             builder.registry,
		recordStore:          builder.recordStore,
		componentLoader:      builder.componentLoader,
		componentHost:        builder.componentHost,
		requirementsResolver: builder.requirementsResolver,
		secretProvider:       builder.secretProvider,
		flowThrottle:         builder.flowThrottle,
		listeners:            builder.listeners,
		idGenerator:          builder.idGenerator,
		byID:                 map[string]*Entry{},
	}
	svc.flows = newFlowManager(svc)
	return svc, nil
}

// Setup builds a service; it exists for hosts that wire every subsystem
// through a uniform Setup entrypoint.
func Setup(cfg Config, opts ...Option) (*Service, error) { return NewService(cfg, opts...) }

// mapWithFallback runs err through mapper, falling back to the original when
// no mapper is wired or the mapper declines.
func mapWithFallback(mapper ErrorMapper, err error) error {
	if err == nil || mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:               s.logger,
		LoggerProvider:       s.loggerProvider,
		MetricsRecorder:      s.metricsRecorder,
		ErrorFactory:         s.errorFactory,
		ErrorMapper:          s.errorMapper,
		ConfigProvider:       s.configProvider,
		OptionsResolver:      s.optionsResolver,
		Registry:             s.registry,
		RecordStore:          s.recordStore,
		ComponentLoader:      s.componentLoader,
		ComponentHost:        s.componentHost,
		RequirementsResolver: s.requirementsResolver,
		SecretProvider:       s.secretProvider,
		FlowThrottle:         s.flowThrottle,
		Listeners:            s.listeners,
	}
}

// Flows exposes the flow manager bound to this service.
func (s *Service) Flows() *FlowManager {
	if s == nil {
		return nil
	}
	return s.flows
}

// resolveHandler returns a fresh handler instance for domain. When the domain
// has no registered factory it falls back to the component loader, resolves
// component requirements, and looks the factory up again. Requirements are
// only resolved on that fallback path so already registered domains skip the
// cost entirely.
func (s *Service) resolveHandler(ctx context.Context, domain string) (Handler, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, s.errorFactory("handler domain is required", goerrors.CategoryBadInput).
			WithTextCode(IntegrationErrorBadInput)
	}
	if s.registry == nil {
		return nil, s.mapError(fmt.Errorf("core: handler registry unavailable"))
	}

	if factory, ok := s.registry.Lookup(domain); ok {
		if handler := factory(); handler != nil {
			return handler, nil
		}
		return nil, s.mapError(NewUnknownHandlerError(domain))
	}

	if s.componentLoader == nil {
		return nil, s.mapError(NewUnknownHandlerError(domain))
	}
	component, err := s.componentLoader.Load(ctx, domain)
	if err != nil {
		return nil, s.mapError(NewUnknownHandlerError(domain))
	}
	if s.requirementsResolver != nil {
		if err := s.requirementsResolver.Resolve(ctx, domain, component); err != nil {
			return nil, s.mapError(err)
		}
	}

	factory, ok := s.registry.Lookup(domain)
	if !ok {
		return nil, s.mapError(NewUnknownHandlerError(domain))
	}
	if handler := factory(); handler != nil {
		return handler, nil
	}
	return nil, s.mapError(NewUnknownHandlerError(domain))
}

func (s *Service) mapError(err error) error {
	if s == nil {
		return err
	}
	return mapWithFallback(s.errorMapper, err)
}
