package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/discovery"
)

// EntryWriter covers the entry mutations commands delegate to. A
// *core.Service satisfies it.
type EntryWriter interface {
	AddEntry(ctx context.Context, input core.AddEntryInput) (*core.Entry, error)
	RemoveEntry(ctx context.Context, entryID string) (core.RemoveResult, error)
}

// FlowRunner covers the flow mutations. A *core.FlowManager satisfies it.
type FlowRunner interface {
	Init(ctx context.Context, domain string, source core.Source, data map[string]any) (*core.FlowResult, error)
	Configure(ctx context.Context, flowID string, input map[string]any) (*core.FlowResult, error)
	Abort(ctx context.Context, flowID string) error
}

// AnnouncementProcessor covers discovery ingestion. A *discovery.Processor
// satisfies it.
type AnnouncementProcessor interface {
	Process(ctx context.Context, ann discovery.Announcement) (discovery.Result, error)
}

type AddEntryCommand struct {
	service EntryWriter
}

func NewAddEntryCommand(service EntryWriter) *AddEntryCommand {
	return &AddEntryCommand{service: service}
}

func (c *AddEntryCommand) Execute(ctx context.Context, msg AddEntryMessage) error {
	if c == nil || c.service == nil {
		return dependencyError("command: entry service is required")
	}
	entry, err := c.service.AddEntry(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, entry)
	return nil
}

type RemoveEntryCommand struct {
	service EntryWriter
}

func NewRemoveEntryCommand(service EntryWriter) *RemoveEntryCommand {
	return &RemoveEntryCommand{service: service}
}

func (c *RemoveEntryCommand) Execute(ctx context.Context, msg RemoveEntryMessage) error {
	if c == nil || c.service == nil {
		return dependencyError("command: entry service is required")
	}
	result, err := c.service.RemoveEntry(ctx, msg.EntryID)
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

type StartFlowCommand struct {
	flows FlowRunner
}

func NewStartFlowCommand(flows FlowRunner) *StartFlowCommand {
	return &StartFlowCommand{flows: flows}
}

func (c *StartFlowCommand) Execute(ctx context.Context, msg StartFlowMessage) error {
	if c == nil || c.flows == nil {
		return dependencyError("command: flow manager is required")
	}
	source := msg.Source
	if source == "" {
		source = core.SourceUser
	}
	result, err := c.flows.Init(ctx, msg.Domain, source, msg.Data)
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

type ConfigureFlowCommand struct {
	flows FlowRunner
}

func NewConfigureFlowCommand(flows FlowRunner) *ConfigureFlowCommand {
	return &ConfigureFlowCommand{flows: flows}
}

func (c *ConfigureFlowCommand) Execute(ctx context.Context, msg ConfigureFlowMessage) error {
	if c == nil || c.flows == nil {
		return dependencyError("command: flow manager is required")
	}
	result, err := c.flows.Configure(ctx, msg.FlowID, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

type AbortFlowCommand struct {
	flows FlowRunner
}

func NewAbortFlowCommand(flows FlowRunner) *AbortFlowCommand {
	return &AbortFlowCommand{flows: flows}
}

func (c *AbortFlowCommand) Execute(ctx context.Context, msg AbortFlowMessage) error {
	if c == nil || c.flows == nil {
		return dependencyError("command: flow manager is required")
	}
	return c.flows.Abort(ctx, msg.FlowID)
}

type IngestDiscoveryCommand struct {
	processor AnnouncementProcessor
}

func NewIngestDiscoveryCommand(processor AnnouncementProcessor) *IngestDiscoveryCommand {
	return &IngestDiscoveryCommand{processor: processor}
}

func (c *IngestDiscoveryCommand) Execute(ctx context.Context, msg IngestDiscoveryMessage) error {
	if c == nil || c.processor == nil {
		return dependencyError("command: discovery processor is required")
	}
	result, err := c.processor.Process(ctx, msg.Announcement)
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

// storeResult hands value to the dispatch result collector when one rides
// on the context.
func storeResult[T any](ctx context.Context, value T) {
	if collector := gocmd.ResultFromContext[T](ctx); collector != nil {
		collector.Store(value)
	}
}
