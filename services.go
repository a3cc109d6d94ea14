package integrations

import "github.com/goliatone/go-integrations/core"

type Config = core.Config

type StorageConfig = core.StorageConfig
type FlowsConfig = core.FlowsConfig
type ThrottleConfig = core.ThrottleConfig
type SecretsConfig = core.SecretsConfig
type DiscoveryConfig = core.DiscoveryConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type Entry = core.Entry
type EntryState = core.EntryState
type EntryRecord = core.EntryRecord
type EntryRecordStore = core.EntryRecordStore
type EntryListener = core.EntryListener
type Source = core.Source
type RemoveResult = core.RemoveResult
type ProgressRecord = core.ProgressRecord

type AddEntryInput = core.AddEntryInput

type FlowManager = core.FlowManager
type FlowResult = core.FlowResult
type FlowContext = core.FlowContext
type StepFunc = core.StepFunc
type StepResult = core.StepResult
type StepResultKind = core.StepResultKind

type DataSchema = core.DataSchema
type FieldSpec = core.FieldSpec
type FieldType = core.FieldType

type Handler = core.Handler
type HandlerFactory = core.HandlerFactory
type Registry = core.Registry
type HandlerRegistry = core.HandlerRegistry
type Component = core.Component
type EntryUnloader = core.EntryUnloader
type ComponentLoader = core.ComponentLoader
type ComponentHost = core.ComponentHost
type RequirementsResolver = core.RequirementsResolver
type SecretProvider = core.SecretProvider
type FlowThrottle = core.FlowThrottle
type MetricsRecorder = core.MetricsRecorder

var (
	WithLogger               = core.WithLogger
	WithLoggerProvider       = core.WithLoggerProvider
	WithMetricsRecorder      = core.WithMetricsRecorder
	WithErrorFactory         = core.WithErrorFactory
	WithErrorMapper          = core.WithErrorMapper
	WithConfigProvider       = core.WithConfigProvider
	WithOptionsResolver      = core.WithOptionsResolver
	WithRegistry             = core.WithRegistry
	WithRecordStore          = core.WithRecordStore
	WithComponentLoader      = core.WithComponentLoader
	WithComponentHost        = core.WithComponentHost
	WithRequirementsResolver = core.WithRequirementsResolver
	WithSecretProvider       = core.WithSecretProvider
	WithFlowThrottle         = core.WithFlowThrottle
	WithEntryListener        = core.WithEntryListener
	WithIDGenerator          = core.WithIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
