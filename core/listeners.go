package core

import "context"

// Listener notifications are fire and forget. Each listener call is panic
// guarded and receives an entry snapshot, so a misbehaving listener can
// neither crash the service nor mutate its state.

func (s *Service) notifyEntryAdded(ctx context.Context, entry *Entry) {
	snapshot := s.cloneEntry(entry)
	for _, listener := range s.listeners {
		if listener == nil {
			continue
		}
		s.safeNotify(ctx, "entry_added", func() {
			listener.EntryAdded(ctx, snapshot.Clone())
		})
	}
}

func (s *Service) notifyEntryRemoved(ctx context.Context, entry *Entry) {
	snapshot := s.cloneEntry(entry)
	for _, listener := range s.listeners {
		if listener == nil {
			continue
		}
		s.safeNotify(ctx, "entry_removed", func() {
			listener.EntryRemoved(ctx, snapshot.Clone())
		})
	}
}

func (s *Service) notifyEntryStateChanged(ctx context.Context, entry *Entry, previous EntryState) {
	snapshot := s.cloneEntry(entry)
	for _, listener := range s.listeners {
		if listener == nil {
			continue
		}
		s.safeNotify(ctx, "entry_state_changed", func() {
			listener.EntryStateChanged(ctx, snapshot.Clone(), previous)
		})
	}
}

func (s *Service) safeNotify(ctx context.Context, event string, notify func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logWarn(ctx, "entry listener panicked", map[string]any{
				"event": event,
				"panic": recovered,
			})
		}
	}()
	notify()
}
