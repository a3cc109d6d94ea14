package integrations_test

import (
	"context"
	"fmt"
	"testing"

	gocmd "github.com/goliatone/go-command"
	integrations "github.com/goliatone/go-integrations"
	integrationscommand "github.com/goliatone/go-integrations/command"
	"github.com/goliatone/go-integrations/components/example"
	"github.com/goliatone/go-integrations/core"
	integrationsquery "github.com/goliatone/go-integrations/query"
)

func TestDownstreamComposition_RunsEntryLifecycleWithoutOwningRuntimeInternals(t *testing.T) {
	registry := core.NewHandlerRegistry()
	loader, err := integrations.NewStaticLoader(registry, integrations.ExamplePack())
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	svc, err := integrations.NewService(
		integrations.Config{},
		integrations.WithRegistry(registry),
		integrations.WithComponentLoader(loader),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	facade, err := integrations.NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	console := onboardingConsole{
		commands: facade.Commands(),
		queries:  facade.Queries(),
	}

	form, err := console.BeginOnboarding(context.Background(), example.Domain)
	if err != nil {
		t.Fatalf("begin onboarding through public surface: %v", err)
	}
	if form.Kind != core.StepResultForm || form.StepID != "user" {
		t.Fatalf("expected the first onboarding form, got %#v", form)
	}
	if form.Schema == nil || form.Schema.Field("host") == nil {
		t.Fatalf("expected host field on the onboarding form schema")
	}

	created, err := console.SubmitAnswers(context.Background(), form.FlowID, map[string]any{
		"host":    "hub.local",
		"api_key": "hub-key",
	})
	if err != nil {
		t.Fatalf("submit onboarding answers: %v", err)
	}
	if created.Kind != core.StepResultCreateEntry || created.EntryID == "" {
		t.Fatalf("expected onboarding to finish with an entry, got %#v", created)
	}

	devices, err := console.ConfiguredDevices(context.Background())
	if err != nil {
		t.Fatalf("list configured devices: %v", err)
	}
	if len(devices) != 1 || devices[0].EntryID != created.EntryID {
		t.Fatalf("expected the onboarded device, got %#v", devices)
	}
	if devices[0].State != core.EntryStateLoaded {
		t.Fatalf("expected onboarded device running, got state %q", devices[0].State)
	}

	restart, err := console.Decommission(context.Background(), created.EntryID)
	if err != nil {
		t.Fatalf("decommission device: %v", err)
	}
	if restart {
		t.Fatalf("expected clean unload while the component loader is wired")
	}

	// Without a loader there is nothing to unload, so decommissioning keeps
	// the removal but reports that a restart is needed to free the runtime.
	bareRegistry := core.NewHandlerRegistry()
	if err := integrations.RegisterExample(bareRegistry); err != nil {
		t.Fatalf("register example: %v", err)
	}
	bareService, err := integrations.NewService(integrations.Config{}, integrations.WithRegistry(bareRegistry))
	if err != nil {
		t.Fatalf("new bare service: %v", err)
	}
	bareFacade, err := integrations.NewFacade(bareService)
	if err != nil {
		t.Fatalf("new bare facade: %v", err)
	}
	bareConsole := onboardingConsole{
		commands: bareFacade.Commands(),
		queries:  bareFacade.Queries(),
	}

	entry, err := bareConsole.Provision(context.Background(), example.Domain, "Imported Hub", map[string]any{
		"host": "hub2.local",
	})
	if err != nil {
		t.Fatalf("provision imported device: %v", err)
	}
	restart, err = bareConsole.Decommission(context.Background(), entry.EntryID)
	if err != nil {
		t.Fatalf("decommission imported device: %v", err)
	}
	if !restart {
		t.Fatalf("expected restart requirement without a component loader")
	}
	if remaining, err := bareConsole.ConfiguredDevices(context.Background()); err != nil || len(remaining) != 0 {
		t.Fatalf("expected record removed despite restart requirement, got %#v err=%v", remaining, err)
	}
}

// onboardingConsole is a downstream device-onboarding surface. It owns its
// own vocabulary and composes the integration runtime purely through the
// facade's exported commands and queries.
type onboardingConsole struct {
	commands integrations.Commands
	queries  integrations.Queries
}

func (c onboardingConsole) BeginOnboarding(ctx context.Context, domain string) (*core.FlowResult, error) {
	if c.commands.StartFlow == nil {
		return nil, fmt.Errorf("start flow command is required")
	}
	collector := gocmd.NewResult[*core.FlowResult]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := c.commands.StartFlow.Execute(ctx, integrationscommand.StartFlowMessage{Domain: domain}); err != nil {
		return nil, err
	}
	result, ok := collector.Load()
	if !ok {
		return nil, fmt.Errorf("start flow produced no result")
	}
	return result, nil
}

func (c onboardingConsole) SubmitAnswers(ctx context.Context, flowID string, answers map[string]any) (*core.FlowResult, error) {
	if c.commands.ConfigureFlow == nil {
		return nil, fmt.Errorf("configure flow command is required")
	}
	collector := gocmd.NewResult[*core.FlowResult]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := c.commands.ConfigureFlow.Execute(ctx, integrationscommand.ConfigureFlowMessage{
		FlowID: flowID,
		Input:  answers,
	}); err != nil {
		return nil, err
	}
	result, ok := collector.Load()
	if !ok {
		return nil, fmt.Errorf("configure flow produced no result")
	}
	return result, nil
}

func (c onboardingConsole) Provision(ctx context.Context, domain, title string, data map[string]any) (*core.Entry, error) {
	if c.commands.AddEntry == nil {
		return nil, fmt.Errorf("add entry command is required")
	}
	collector := gocmd.NewResult[*core.Entry]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := c.commands.AddEntry.Execute(ctx, integrationscommand.AddEntryMessage{
		Input: core.AddEntryInput{Domain: domain, Title: title, Data: data},
	}); err != nil {
		return nil, err
	}
	entry, ok := collector.Load()
	if !ok {
		return nil, fmt.Errorf("add entry produced no result")
	}
	return entry, nil
}

func (c onboardingConsole) ConfiguredDevices(ctx context.Context) ([]*core.Entry, error) {
	if c.queries.ListEntries == nil {
		return nil, fmt.Errorf("list entries query is required")
	}
	return c.queries.ListEntries.Query(ctx, integrationsquery.ListEntriesMessage{})
}

func (c onboardingConsole) Decommission(ctx context.Context, entryID string) (bool, error) {
	if c.commands.RemoveEntry == nil {
		return false, fmt.Errorf("remove entry command is required")
	}
	collector := gocmd.NewResult[core.RemoveResult]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := c.commands.RemoveEntry.Execute(ctx, integrationscommand.RemoveEntryMessage{EntryID: entryID}); err != nil {
		return false, err
	}
	result, ok := collector.Load()
	if !ok {
		return false, fmt.Errorf("remove entry produced no result")
	}
	return result.RequireRestart, nil
}
