package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// AddEntryInput carries the fields of a new config entry. Version is
// optional; when zero the entry is stamped with the handler's current
// version.
type AddEntryInput struct {
	Domain  string
	Title   string
	Data    map[string]any
	Source  Source
	Version int
}

// Domains returns the distinct domains across all entries, preserving
// first-seen order.
func (s *Service) Domains() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]struct{}{}
	domains := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		if _, ok := seen[entry.Domain]; ok {
			continue
		}
		seen[entry.Domain] = struct{}{}
		domains = append(domains, entry.Domain)
	}
	return domains
}

// Entries returns a snapshot of all entries in insertion order, filtered by
// domain when one is given. Mutating the returned entries does not touch the
// service state.
func (s *Service) Entries(domain string) []*Entry {
	domain = strings.TrimSpace(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if domain != "" && entry.Domain != domain {
			continue
		}
		entries = append(entries, entry.Clone())
	}
	return entries
}

// GetEntry returns a snapshot of the entry with the given id.
func (s *Service) GetEntry(entryID string) (*Entry, error) {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return nil, s.errorFactory("entry id is required", goerrors.CategoryBadInput).
			WithTextCode(IntegrationErrorBadInput)
	}

	s.mu.Lock()
	entry, ok := s.byID[entryID]
	var snapshot *Entry
	if ok {
		snapshot = entry.Clone()
	}
	s.mu.Unlock()

	if !ok {
		return nil, s.mapError(NewUnknownEntryError(entryID))
	}
	return snapshot, nil
}

// AddEntry validates input against the domain handler's schema, appends the
// entry, schedules a debounced save, and triggers setup. When the domain's
// component is already running the entry is set up directly; otherwise setup
// of the whole component is requested and that component is expected to set
// up all of its entries, including this one. Validation failure leaves the
// collection unchanged. Setup failures never propagate from this call.
func (s *Service) AddEntry(ctx context.Context, input AddEntryInput) (entry *Entry, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"domain": input.Domain,
		"source": string(input.Source),
	}
	defer func() {
		if entry != nil {
			fields["entry_id"] = entry.EntryID
		}
		s.observeOperation(ctx, startedAt, "add_entry", err, fields)
	}()

	domain := strings.TrimSpace(input.Domain)
	if domain == "" {
		err = s.errorFactory("entry domain is required", goerrors.CategoryBadInput).
			WithTextCode(IntegrationErrorBadInput)
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		err = s.errorFactory("entry title is required", goerrors.CategoryBadInput).
			WithTextCode(IntegrationErrorBadInput)
		return nil, err
	}
	source := input.Source
	if source == "" {
		source = SourceUser
	}
	if sourceErr := source.Validate(); sourceErr != nil {
		err = s.mapError(sourceErr)
		return nil, err
	}

	handler, err := s.resolveHandler(ctx, domain)
	if err != nil {
		return nil, err
	}

	data := input.Data
	if schema := handler.Schema(); schema != nil {
		applied, applyErr := schema.Apply(data)
		if applyErr != nil {
			err = s.mapError(applyErr)
			return nil, err
		}
		data = applied
	}
	version := input.Version
	if version == 0 {
		version = handler.Version()
	}

	created := &Entry{
		EntryID: s.idGenerator(),
		Version: version,
		Domain:  domain,
		Title:   title,
		Data:    cloneAnyMap(data),
		Source:  source,
		State:   EntryStateNotLoaded,
	}

	s.mu.Lock()
	s.entries = append(s.entries, created)
	s.byID[created.EntryID] = created
	s.mu.Unlock()

	s.scheduleSave()
	s.notifyEntryAdded(ctx, created)
	s.startEntrySetup(ctx, created)

	return s.cloneEntry(created), nil
}

// RemoveEntry drops the entry record immediately, schedules a debounced
// save, then attempts component unload. Removal of the record always
// succeeds once the id matched; RequireRestart reports whether the running
// component could not be cleanly stopped.
func (s *Service) RemoveEntry(ctx context.Context, entryID string) (result RemoveResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"entry_id": entryID}
	defer func() {
		s.observeOperation(ctx, startedAt, "remove_entry", err, fields)
	}()

	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		err = s.errorFactory("entry id is required", goerrors.CategoryBadInput).
			WithTextCode(IntegrationErrorBadInput)
		return RemoveResult{}, err
	}

	s.mu.Lock()
	entry, ok := s.byID[entryID]
	if !ok {
		s.mu.Unlock()
		err = s.mapError(NewUnknownEntryError(entryID))
		return RemoveResult{}, err
	}
	delete(s.byID, entryID)
	for index, candidate := range s.entries {
		if candidate.EntryID == entryID {
			s.entries = append(s.entries[:index], s.entries[index+1:]...)
			break
		}
	}
	s.mu.Unlock()
	fields["domain"] = entry.Domain

	s.scheduleSave()

	unloaded := s.unloadEntry(ctx, entry)
	s.notifyEntryRemoved(ctx, entry)
	return RemoveResult{RequireRestart: !unloaded}, nil
}

// Load replaces the in-memory collection with the persisted one. A missing
// persisted payload yields an empty collection. Persisted state fields are
// trusted verbatim unless Storage.ResetStatesOnLoad forces freshly loaded
// entries back to not loaded.
func (s *Service) Load(ctx context.Context) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "load_entries", err, fields)
	}()

	if s.recordStore == nil {
		s.mu.Lock()
		s.entries = nil
		s.byID = map[string]*Entry{}
		s.mu.Unlock()
		return nil
	}

	records, loadErr := s.recordStore.Load(ctx)
	if loadErr != nil {
		err = s.mapError(goerrors.Wrap(
			loadErr,
			goerrors.CategoryOperation,
			"core: loading integration entries failed",
		).WithTextCode(IntegrationErrorStorage))
		return err
	}

	entries := make([]*Entry, 0, len(records))
	byID := make(map[string]*Entry, len(records))
	for _, record := range records {
		entry := EntryFromRecord(record)
		if s.config.Storage.ResetStatesOnLoad {
			entry.State = EntryStateNotLoaded
		}
		if existing, ok := byID[entry.EntryID]; ok {
			// Duplicate ids keep the latest record in the position of the
			// first occurrence.
			*existing = *entry
			continue
		}
		entries = append(entries, entry)
		byID[entry.EntryID] = entry
	}

	s.mu.Lock()
	s.entries = entries
	s.byID = byID
	s.mu.Unlock()

	fields["count"] = len(entries)
	return nil
}

// Flush cancels any pending debounced save and persists the collection now.
func (s *Service) Flush(ctx context.Context) (err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.observeOperation(ctx, startedAt, "flush_entries", err, nil)
	}()

	s.saveMu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	s.saveMu.Unlock()

	err = s.persistEntries(ctx)
	return err
}

// SetupDomainEntries runs component setup for every entry of domain that is
// not already loaded. Component hosts call this after the component itself
// finished booting. Individual setup failures park the affected entry in
// setup error and do not stop the remaining entries.
func (s *Service) SetupDomainEntries(ctx context.Context, domain string, component Component) error {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return s.errorFactory("domain is required", goerrors.CategoryBadInput).
			WithTextCode(IntegrationErrorBadInput)
	}
	if component == nil {
		return s.errorFactory("component is required", goerrors.CategoryBadInput).
			WithTextCode(IntegrationErrorBadInput)
	}

	s.mu.Lock()
	pending := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.Domain != domain || entry.State == EntryStateLoaded {
			continue
		}
		pending = append(pending, entry)
	}
	s.mu.Unlock()

	for _, entry := range pending {
		s.setupEntry(ctx, entry, component)
	}
	return nil
}

// scheduleSave arms the debounced save timer, superseding any pending one.
// Rapid successive schedules within the delay window coalesce into a single
// write.
func (s *Service) scheduleSave() {
	delay := s.config.Storage.SaveDelay

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(delay, s.saveFromTimer)
}

func (s *Service) saveFromTimer() {
	ctx := context.Background()
	startedAt := time.Now().UTC()
	err := s.persistEntries(ctx)
	s.observeOperation(ctx, startedAt, "save_entries", err, nil)
}

func (s *Service) persistEntries(ctx context.Context) error {
	if s.recordStore == nil {
		return nil
	}

	s.mu.Lock()
	records := make([]EntryRecord, 0, len(s.entries))
	for _, entry := range s.entries {
		records = append(records, entry.Snapshot())
	}
	s.mu.Unlock()

	if err := s.recordStore.Save(ctx, records); err != nil {
		return s.mapError(goerrors.Wrap(
			err,
			goerrors.CategoryOperation,
			"core: persisting integration entries failed",
		).WithTextCode(IntegrationErrorStorage))
	}
	return nil
}

// startEntrySetup picks the setup path for a freshly added entry. A running
// component handles the entry directly; otherwise component setup is
// requested and that component owns setting up its entries. Without a host
// the component loader stands in so single process embedders still work.
func (s *Service) startEntrySetup(ctx context.Context, entry *Entry) {
	domain := entry.Domain

	if s.componentHost != nil {
		if component, ok := s.componentHost.RunningComponent(domain); ok && component != nil {
			s.setupEntry(ctx, entry, component)
			return
		}
		if err := s.componentHost.RequestSetup(ctx, domain); err != nil {
			s.logError(ctx, "component setup request failed", map[string]any{
				"domain":   domain,
				"entry_id": entry.EntryID,
				"error":    err.Error(),
			})
		}
		return
	}

	if s.componentLoader != nil {
		component, err := s.componentLoader.Load(ctx, domain)
		if err != nil {
			s.logError(ctx, "component load failed", map[string]any{
				"domain":   domain,
				"entry_id": entry.EntryID,
				"error":    err.Error(),
			})
			return
		}
		s.setupEntry(ctx, entry, component)
		return
	}

	s.logWarn(ctx, "no component host or loader wired, entry stays not loaded", map[string]any{
		"domain":   domain,
		"entry_id": entry.EntryID,
	})
}

// setupEntry drives one entry through the component's setup callback. The
// callback runs outside the service mutex. Failures, contract violations,
// and panics park the entry in setup error and never propagate.
func (s *Service) setupEntry(ctx context.Context, entry *Entry, component Component) {
	ok, err := s.callSetup(ctx, entry, component)

	next := EntryStateLoaded
	if err != nil || !ok {
		next = EntryStateSetupError
	}
	if err != nil {
		s.logError(ctx, "entry setup failed", map[string]any{
			"domain":   entry.Domain,
			"entry_id": entry.EntryID,
			"title":    entry.Title,
			"error":    err.Error(),
		})
	} else if !ok {
		s.logWarn(ctx, "component declined entry setup", map[string]any{
			"domain":   entry.Domain,
			"entry_id": entry.EntryID,
			"title":    entry.Title,
		})
	}

	s.setEntryState(ctx, entry, next)
}

func (s *Service) callSetup(ctx context.Context, entry *Entry, component Component) (ok bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ok = false
			err = fmt.Errorf("core: setup panic for domain %s: %v", entry.Domain, recovered)
		}
	}()
	return component.SetupEntry(ctx, entry)
}

// unloadEntry attempts component unload for a removed entry. Unload support
// is detected structurally; components without it report false. Errors and
// panics from the callback also report false. The entry leaves the loaded
// state regardless of the outcome because its record is already gone.
func (s *Service) unloadEntry(ctx context.Context, entry *Entry) bool {
	component := s.runningComponent(ctx, entry.Domain)
	if component == nil {
		s.setEntryState(ctx, entry, EntryStateNotLoaded)
		return false
	}
	unloader, supported := component.(EntryUnloader)
	if !supported {
		s.setEntryState(ctx, entry, EntryStateNotLoaded)
		return false
	}

	ok, err := s.callUnload(ctx, entry, unloader)
	if err != nil {
		s.logError(ctx, "entry unload failed", map[string]any{
			"domain":   entry.Domain,
			"entry_id": entry.EntryID,
			"title":    entry.Title,
			"error":    err.Error(),
		})
		ok = false
	}
	s.setEntryState(ctx, entry, EntryStateNotLoaded)
	return ok
}

func (s *Service) callUnload(ctx context.Context, entry *Entry, unloader EntryUnloader) (ok bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ok = false
			err = fmt.Errorf("core: unload panic for domain %s: %v", entry.Domain, recovered)
		}
	}()
	return unloader.UnloadEntry(ctx, entry)
}

func (s *Service) runningComponent(ctx context.Context, domain string) Component {
	if s.componentHost != nil {
		if component, ok := s.componentHost.RunningComponent(domain); ok {
			return component
		}
		return nil
	}
	if s.componentLoader != nil {
		component, err := s.componentLoader.Load(ctx, domain)
		if err != nil {
			s.logWarn(ctx, "component load failed", map[string]any{
				"domain": domain,
				"error":  err.Error(),
			})
			return nil
		}
		return component
	}
	return nil
}

// setEntryState applies a state transition under the service mutex and
// notifies listeners when the state actually changed. Illegal transitions
// are logged and dropped rather than propagated because they are always the
// result of plugin behavior the orchestrator must survive.
func (s *Service) setEntryState(ctx context.Context, entry *Entry, next EntryState) {
	s.mu.Lock()
	previous := entry.State
	transitionErr := entry.TransitionTo(next)
	s.mu.Unlock()

	if transitionErr != nil {
		s.logWarn(ctx, "entry state transition rejected", map[string]any{
			"domain":   entry.Domain,
			"entry_id": entry.EntryID,
			"from":     string(previous),
			"to":       string(next),
		})
		return
	}
	if previous != next {
		s.notifyEntryStateChanged(ctx, entry, previous)
	}
}

func (s *Service) cloneEntry(entry *Entry) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return entry.Clone()
}
