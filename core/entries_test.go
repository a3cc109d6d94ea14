package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func demoHandler() *testHandler {
	return &testHandler{
		version: 1,
		schema:  hostPortSchema(),
		steps: map[string]StepFunc{
			StepInit: createStep("Kitchen", map[string]any{"host": "10.0.0.5"}),
		},
	}
}

func TestService_AddEntry_SetsUpDirectlyWhenComponentRunning(t *testing.T) {
	ctx := context.Background()
	host := newTestHost()
	component := newTestComponent()
	host.setRunning("demo", component)
	listener := &testListener{}

	svc := newTestService(t, Config{},
		WithComponentHost(host),
		WithEntryListener(listener),
	)
	registerTestHandler(t, svc, "demo", demoHandler())

	entry, err := svc.AddEntry(ctx, AddEntryInput{
		Domain: "demo",
		Title:  "Kitchen",
		Data:   map[string]any{"host": "10.0.0.5"},
	})
	if err != nil {
		t.Fatalf("add entry: %v", err)
	}
	if entry.State != EntryStateLoaded {
		t.Fatalf("expected direct setup to load the entry, got %q", entry.State)
	}
	if entry.Source != SourceUser {
		t.Fatalf("expected default user source, got %q", entry.Source)
	}
	if component.setupCount() != 1 {
		t.Fatalf("expected one setup call, got %d", component.setupCount())
	}
	if host.requestCount() != 0 {
		t.Fatalf("running component must not trigger a component setup request")
	}

	if got := len(listener.added); got != 1 {
		t.Fatalf("expected one added event, got %d", got)
	}
	changed := listener.changedEvents()
	if len(changed) != 1 || changed[0] != entry.EntryID+":not_loaded->loaded" {
		t.Fatalf("expected one state change event, got %v", changed)
	}
}

func TestService_AddEntry_RequestsComponentSetupWhenNotRunning(t *testing.T) {
	ctx := context.Background()
	host := newTestHost()

	svc := newTestService(t, Config{}, WithComponentHost(host))
	registerTestHandler(t, svc, "demo", demoHandler())

	entry, err := svc.AddEntry(ctx, AddEntryInput{
		Domain: "demo",
		Title:  "Kitchen",
		Data:   map[string]any{"host": "10.0.0.5"},
	})
	if err != nil {
		t.Fatalf("add entry: %v", err)
	}
	if entry.State != EntryStateNotLoaded {
		t.Fatalf("expected entry to wait for component setup, got %q", entry.State)
	}
	if host.requestCount() != 1 {
		t.Fatalf("expected one component setup request, got %d", host.requestCount())
	}
	if host.setupRequests[0] != "demo" {
		t.Fatalf("expected setup request for demo, got %q", host.setupRequests[0])
	}
}

func TestService_AddEntry_ComponentHostSetsUpWholeDomain(t *testing.T) {
	ctx := context.Background()
	host := newTestHost()
	component := newTestComponent()

	svc := newTestService(t, Config{}, WithComponentHost(host))
	registerTestHandler(t, svc, "demo", demoHandler())

	// The host boots the component on request and hands every pending
	// entry of the domain to it, mirroring a component startup.
	host.onRequest = func(ctx context.Context, domain string) error {
		host.setRunning(domain, component)
		return svc.SetupDomainEntries(ctx, domain, component)
	}

	entry, err := svc.AddEntry(ctx, AddEntryInput{
		Domain: "demo",
		Title:  "Kitchen",
		Data:   map[string]any{"host": "10.0.0.5"},
	})
	if err != nil {
		t.Fatalf("add entry: %v", err)
	}

	got, err := svc.GetEntry(entry.EntryID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.State != EntryStateLoaded {
		t.Fatalf("expected the component boot to set up the new entry, got %q", got.State)
	}
	if component.setupCount() != 1 {
		t.Fatalf("expected one setup call, got %d", component.setupCount())
	}
}

func TestService_AddEntry_LoaderFallbackWithoutHost(t *testing.T) {
	ctx := context.Background()
	component := newTestComponent()
	loader := &testLoader{component: component}

	svc := newTestService(t, Config{}, WithComponentLoader(loader))
	registerTestHandler(t, svc, "demo", demoHandler())

	entry, err := svc.AddEntry(ctx, AddEntryInput{
		Domain: "demo",
		Title:  "Kitchen",
		Data:   map[string]any{"host": "10.0.0.5"},
	})
	if err != nil {
		t.Fatalf("add entry: %v", err)
	}
	if entry.State != EntryStateLoaded {
		t.Fatalf("expected loader fallback setup, got %q", entry.State)
	}
}

func TestService_AddEntry_SchemaRejectionLeavesCollectionUnchanged(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})
	registerTestHandler(t, svc, "demo", demoHandler())

	_, err := svc.AddEntry(ctx, AddEntryInput{
		Domain: "demo",
		Title:  "Kitchen",
		Data:   map[string]any{"port": 80},
	})
	if err == nil {
		t.Fatalf("expected schema rejection")
	}
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got: %v", err)
	}
	if entries := svc.Entries(""); len(entries) != 0 {
		t.Fatalf("expected collection unchanged, got %d entries", len(entries))
	}
}

func TestService_AddEntry_NormalizesDataThroughSchema(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})
	registerTestHandler(t, svc, "demo", demoHandler())

	entry, err := svc.AddEntry(ctx, AddEntryInput{
		Domain: "demo",
		Title:  "Kitchen",
		Data:   map[string]any{"host": "10.0.0.5", "port": "8080"},
	})
	if err != nil {
		t.Fatalf("add entry: %v", err)
	}
	if entry.Data["port"] != 8080 {
		t.Fatalf("expected coerced port 8080 stored, got %v", entry.Data["port"])
	}
	if entry.Version != 1 {
		t.Fatalf("expected handler version stamped, got %d", entry.Version)
	}
}

func TestService_AddEntry_UnknownDomain(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})

	_, err := svc.AddEntry(ctx, AddEntryInput{Domain: "ghost", Title: "Nope"})
	if err == nil {
		t.Fatalf("expected unknown handler error")
	}
	if !IsUnknownHandler(err) {
		t.Fatalf("expected unknown handler, got: %v", err)
	}
}

func TestService_AddEntry_SetupFailuresNeverPropagate(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name      string
		component *testComponent
	}{
		{"setup returns error", &testComponent{setupErr: fmt.Errorf("boom")}},
		{"setup declines", &testComponent{setupOK: false}},
		{"setup panics", &testComponent{setupOK: true, setupPanic: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host := newTestHost()
			host.setRunning("demo", tc.component)
			svc := newTestService(t, Config{}, WithComponentHost(host))
			registerTestHandler(t, svc, "demo", demoHandler())

			entry, err := svc.AddEntry(ctx, AddEntryInput{
				Domain: "demo",
				Title:  "Kitchen",
				Data:   map[string]any{"host": "10.0.0.5"},
			})
			if err != nil {
				t.Fatalf("setup failure must not propagate from add: %v", err)
			}
			if entry.State != EntryStateSetupError {
				t.Fatalf("expected setup_error, got %q", entry.State)
			}
		})
	}
}

func TestService_RemoveEntry_UnloadOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("clean unload", func(t *testing.T) {
		host := newTestHost()
		component := newTestComponent()
		host.setRunning("demo", component)
		svc := newTestService(t, Config{}, WithComponentHost(host))
		registerTestHandler(t, svc, "demo", demoHandler())

		entry, err := svc.AddEntry(ctx, AddEntryInput{
			Domain: "demo", Title: "Kitchen", Data: map[string]any{"host": "10.0.0.5"},
		})
		if err != nil {
			t.Fatalf("add entry: %v", err)
		}

		result, err := svc.RemoveEntry(ctx, entry.EntryID)
		if err != nil {
			t.Fatalf("remove entry: %v", err)
		}
		if result.RequireRestart {
			t.Fatalf("clean unload must not require restart")
		}
		if component.unloadCount() != 1 {
			t.Fatalf("expected one unload call, got %d", component.unloadCount())
		}
		if entries := svc.Entries(""); len(entries) != 0 {
			t.Fatalf("expected empty collection, got %d", len(entries))
		}
	})

	t.Run("no unload capability", func(t *testing.T) {
		host := newTestHost()
		host.setRunning("demo", &setupOnlyComponent{})
		svc := newTestService(t, Config{}, WithComponentHost(host))
		registerTestHandler(t, svc, "demo", demoHandler())

		entry, err := svc.AddEntry(ctx, AddEntryInput{
			Domain: "demo", Title: "Kitchen", Data: map[string]any{"host": "10.0.0.5"},
		})
		if err != nil {
			t.Fatalf("add entry: %v", err)
		}

		result, err := svc.RemoveEntry(ctx, entry.EntryID)
		if err != nil {
			t.Fatalf("remove must succeed even without unload support: %v", err)
		}
		if !result.RequireRestart {
			t.Fatalf("missing unload capability must require restart")
		}
		if entries := svc.Entries(""); len(entries) != 0 {
			t.Fatalf("record removal must succeed regardless of unload")
		}
	})

	t.Run("unload fails", func(t *testing.T) {
		host := newTestHost()
		component := newTestComponent()
		component.unloadOK = false
		component.unloadErr = fmt.Errorf("stuck")
		host.setRunning("demo", component)
		svc := newTestService(t, Config{}, WithComponentHost(host))
		registerTestHandler(t, svc, "demo", demoHandler())

		entry, err := svc.AddEntry(ctx, AddEntryInput{
			Domain: "demo", Title: "Kitchen", Data: map[string]any{"host": "10.0.0.5"},
		})
		if err != nil {
			t.Fatalf("add entry: %v", err)
		}

		result, err := svc.RemoveEntry(ctx, entry.EntryID)
		if err != nil {
			t.Fatalf("remove must succeed despite unload failure: %v", err)
		}
		if !result.RequireRestart {
			t.Fatalf("failed unload must require restart")
		}
	})

	t.Run("unload panics", func(t *testing.T) {
		host := newTestHost()
		component := newTestComponent()
		component.unloadPanic = true
		host.setRunning("demo", component)
		svc := newTestService(t, Config{}, WithComponentHost(host))
		registerTestHandler(t, svc, "demo", demoHandler())

		entry, err := svc.AddEntry(ctx, AddEntryInput{
			Domain: "demo", Title: "Kitchen", Data: map[string]any{"host": "10.0.0.5"},
		})
		if err != nil {
			t.Fatalf("add entry: %v", err)
		}

		result, err := svc.RemoveEntry(ctx, entry.EntryID)
		if err != nil {
			t.Fatalf("unload panic must not propagate: %v", err)
		}
		if !result.RequireRestart {
			t.Fatalf("panicked unload must require restart")
		}
	})
}

func TestService_RemoveEntry_UnknownIDLeavesCollectionUnchanged(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})
	registerTestHandler(t, svc, "demo", demoHandler())

	if _, err := svc.AddEntry(ctx, AddEntryInput{
		Domain: "demo", Title: "Kitchen", Data: map[string]any{"host": "10.0.0.5"},
	}); err != nil {
		t.Fatalf("add entry: %v", err)
	}

	_, err := svc.RemoveEntry(ctx, "missing")
	if err == nil {
		t.Fatalf("expected unknown entry error")
	}
	if !IsUnknownEntry(err) {
		t.Fatalf("expected unknown entry, got: %v", err)
	}
	if entries := svc.Entries(""); len(entries) != 1 {
		t.Fatalf("failed removal must leave the collection unchanged")
	}
}

func TestService_AddRemoveSequences_CollectionStaysConsistent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})
	registerTestHandler(t, svc, "demo", &testHandler{version: 1})

	ids := make([]string, 0, 3)
	for _, title := range []string{"A", "B", "C"} {
		entry, err := svc.AddEntry(ctx, AddEntryInput{Domain: "demo", Title: title})
		if err != nil {
			t.Fatalf("add %s: %v", title, err)
		}
		ids = append(ids, entry.EntryID)
	}

	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("entry id %q reused", id)
		}
		seen[id] = struct{}{}
	}

	if _, err := svc.RemoveEntry(ctx, ids[1]); err != nil {
		t.Fatalf("remove: %v", err)
	}

	entries := svc.Entries("")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].EntryID != ids[0] || entries[1].EntryID != ids[2] {
		t.Fatalf("expected insertion order preserved after removal")
	}

	replacement, err := svc.AddEntry(ctx, AddEntryInput{Domain: "demo", Title: "B2"})
	if err != nil {
		t.Fatalf("add replacement: %v", err)
	}
	if replacement.EntryID == ids[1] {
		t.Fatalf("removed entry id must never be reused")
	}
}

func TestService_Domains_FirstSeenOrderNoDuplicates(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})
	registerTestHandler(t, svc, "demo", &testHandler{})
	registerTestHandler(t, svc, "hue", &testHandler{})

	for _, input := range []AddEntryInput{
		{Domain: "demo", Title: "One"},
		{Domain: "hue", Title: "Two"},
		{Domain: "demo", Title: "Three"},
	} {
		if _, err := svc.AddEntry(ctx, input); err != nil {
			t.Fatalf("add %s: %v", input.Title, err)
		}
	}

	domains := svc.Domains()
	if len(domains) != 2 || domains[0] != "demo" || domains[1] != "hue" {
		t.Fatalf("expected [demo hue], got %v", domains)
	}
}

func TestService_Entries_FilterAndSnapshotSemantics(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})
	registerTestHandler(t, svc, "demo", &testHandler{})
	registerTestHandler(t, svc, "hue", &testHandler{})

	if _, err := svc.AddEntry(ctx, AddEntryInput{
		Domain: "demo", Title: "One", Data: map[string]any{"host": "a"},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AddEntry(ctx, AddEntryInput{Domain: "hue", Title: "Two"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if got := svc.Entries("demo"); len(got) != 1 || got[0].Domain != "demo" {
		t.Fatalf("expected one demo entry, got %v", got)
	}

	snapshot := svc.Entries("")
	snapshot[0].Title = "Mutated"
	snapshot[0].Data["host"] = "changed"

	fresh := svc.Entries("")
	if fresh[0].Title != "One" || fresh[0].Data["host"] != "a" {
		t.Fatalf("mutating a snapshot leaked into service state")
	}
}

func TestService_GetEntry(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})
	registerTestHandler(t, svc, "demo", &testHandler{})

	entry, err := svc.AddEntry(ctx, AddEntryInput{Domain: "demo", Title: "One"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := svc.GetEntry(entry.EntryID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.EntryID != entry.EntryID || got.Title != "One" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	if _, err := svc.GetEntry("missing"); !IsUnknownEntry(err) {
		t.Fatalf("expected unknown entry, got: %v", err)
	}
}

func TestService_DebouncedSave_CoalescesRapidChanges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecordStore()

	var mu sync.Mutex
	saves := 0
	var lastCount int
	store.AfterSave = func(records []EntryRecord) {
		mu.Lock()
		saves++
		lastCount = len(records)
		mu.Unlock()
	}

	svc := newTestService(t,
		Config{Storage: StorageConfig{SaveDelay: 30 * time.Millisecond}},
		WithRecordStore(store),
	)
	registerTestHandler(t, svc, "demo", &testHandler{})

	for _, title := range []string{"A", "B", "C"} {
		if _, err := svc.AddEntry(ctx, AddEntryInput{Domain: "demo", Title: title}); err != nil {
			t.Fatalf("add %s: %v", title, err)
		}
	}

	waitFor(t, 2*time.Second, "debounced save", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return saves > 0
	})

	mu.Lock()
	gotSaves, gotCount := saves, lastCount
	mu.Unlock()
	if gotSaves != 1 {
		t.Fatalf("expected rapid changes to coalesce into one save, got %d", gotSaves)
	}
	if gotCount != 3 {
		t.Fatalf("expected the single save to carry all 3 entries, got %d", gotCount)
	}

	if _, err := svc.AddEntry(ctx, AddEntryInput{Domain: "demo", Title: "D"}); err != nil {
		t.Fatalf("add D: %v", err)
	}
	waitFor(t, 2*time.Second, "second save window", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return saves == 2
	})
}

func TestService_Flush_ForcesPendingSave(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecordStore()

	svc := newTestService(t,
		Config{Storage: StorageConfig{SaveDelay: time.Hour}},
		WithRecordStore(store),
	)
	registerTestHandler(t, svc, "demo", &testHandler{})

	if _, err := svc.AddEntry(ctx, AddEntryInput{Domain: "demo", Title: "One"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	records, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected nothing persisted before the window elapses")
	}

	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	records, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 1 || records[0].Title != "One" {
		t.Fatalf("expected flushed record, got %v", records)
	}
}

func TestService_SaveFailuresDoNotFailMutations(t *testing.T) {
	ctx := context.Background()
	store := &failingRecordStore{saveErr: fmt.Errorf("disk full")}

	svc := newTestService(t,
		Config{Storage: StorageConfig{SaveDelay: 5 * time.Millisecond}},
		WithRecordStore(store),
	)
	registerTestHandler(t, svc, "demo", &testHandler{})

	if _, err := svc.AddEntry(ctx, AddEntryInput{Domain: "demo", Title: "One"}); err != nil {
		t.Fatalf("background save failure must not fail add: %v", err)
	}

	if err := svc.Flush(ctx); err == nil {
		t.Fatalf("explicit flush must surface the save failure")
	}
}

func TestService_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("missing payload yields empty collection", func(t *testing.T) {
		svc := newTestService(t, Config{})
		if err := svc.Load(ctx); err != nil {
			t.Fatalf("load: %v", err)
		}
		if entries := svc.Entries(""); len(entries) != 0 {
			t.Fatalf("expected empty collection, got %d", len(entries))
		}
	})

	t.Run("restores records and trusts state verbatim", func(t *testing.T) {
		store := NewMemoryRecordStore()
		if err := store.Save(ctx, []EntryRecord{
			{EntryID: "a", Version: 1, Domain: "demo", Title: "One", Source: "user", State: "loaded"},
			{EntryID: "b", Version: 1, Domain: "hue", Title: "Two", Source: "discovery", State: "setup_error"},
		}); err != nil {
			t.Fatalf("seed store: %v", err)
		}

		svc := newTestService(t, Config{}, WithRecordStore(store))
		if err := svc.Load(ctx); err != nil {
			t.Fatalf("load: %v", err)
		}

		entries := svc.Entries("")
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(entries))
		}
		if entries[0].State != EntryStateLoaded || entries[1].State != EntryStateSetupError {
			t.Fatalf("persisted states must be trusted verbatim: %q %q", entries[0].State, entries[1].State)
		}
	})

	t.Run("reset states on load", func(t *testing.T) {
		store := NewMemoryRecordStore()
		if err := store.Save(ctx, []EntryRecord{
			{EntryID: "a", Version: 1, Domain: "demo", Title: "One", Source: "user", State: "loaded"},
		}); err != nil {
			t.Fatalf("seed store: %v", err)
		}

		svc := newTestService(t,
			Config{Storage: StorageConfig{ResetStatesOnLoad: true}},
			WithRecordStore(store),
		)
		if err := svc.Load(ctx); err != nil {
			t.Fatalf("load: %v", err)
		}
		if entries := svc.Entries(""); entries[0].State != EntryStateNotLoaded {
			t.Fatalf("expected reset to not_loaded, got %q", entries[0].State)
		}
	})

	t.Run("duplicate ids keep the latest record in first position", func(t *testing.T) {
		store := NewMemoryRecordStore()
		if err := store.Save(ctx, []EntryRecord{
			{EntryID: "a", Version: 1, Domain: "demo", Title: "Old", Source: "user"},
			{EntryID: "b", Version: 1, Domain: "hue", Title: "Mid", Source: "user"},
			{EntryID: "a", Version: 2, Domain: "demo", Title: "New", Source: "user"},
		}); err != nil {
			t.Fatalf("seed store: %v", err)
		}

		svc := newTestService(t, Config{}, WithRecordStore(store))
		if err := svc.Load(ctx); err != nil {
			t.Fatalf("load: %v", err)
		}

		entries := svc.Entries("")
		if len(entries) != 2 {
			t.Fatalf("expected duplicates collapsed, got %d", len(entries))
		}
		if entries[0].EntryID != "a" || entries[0].Title != "New" || entries[0].Version != 2 {
			t.Fatalf("expected latest duplicate in first position, got %+v", entries[0])
		}
	})

	t.Run("store failure propagates", func(t *testing.T) {
		store := &failingRecordStore{loadErr: fmt.Errorf("corrupt")}
		svc := newTestService(t, Config{}, WithRecordStore(store))
		if err := svc.Load(ctx); err == nil {
			t.Fatalf("expected load failure to propagate")
		}
	})
}

func TestService_SetupDomainEntries_SkipsLoadedAndContinuesOnError(t *testing.T) {
	ctx := context.Background()
	host := newTestHost()
	svc := newTestService(t, Config{}, WithComponentHost(host))
	registerTestHandler(t, svc, "demo", &testHandler{})

	first, err := svc.AddEntry(ctx, AddEntryInput{Domain: "demo", Title: "One"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	second, err := svc.AddEntry(ctx, AddEntryInput{Domain: "demo", Title: "Two"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	component := newTestComponent()
	component.onSetupEntry = func(entry *Entry) {
		if entry.EntryID == first.EntryID {
			panic("first entry setup exploded")
		}
	}

	if err := svc.SetupDomainEntries(ctx, "demo", component); err != nil {
		t.Fatalf("setup domain: %v", err)
	}

	got1, _ := svc.GetEntry(first.EntryID)
	got2, _ := svc.GetEntry(second.EntryID)
	if got1.State != EntryStateSetupError {
		t.Fatalf("expected panicked setup to mark setup_error, got %q", got1.State)
	}
	if got2.State != EntryStateLoaded {
		t.Fatalf("expected remaining entry still set up, got %q", got2.State)
	}

	// A second pass only touches entries that are not loaded yet.
	if err := svc.SetupDomainEntries(ctx, "demo", component); err != nil {
		t.Fatalf("setup domain again: %v", err)
	}
	calls := component.setupCount()
	if calls != 3 {
		t.Fatalf("expected 2 then 1 setup calls, got %d total", calls)
	}
}
