package query

import "strings"

const (
	TypeListEntries  = "integrations.query.entries.list"
	TypeListDomains  = "integrations.query.domains.list"
	TypeGetEntry     = "integrations.query.entries.get"
	TypeFlowProgress = "integrations.query.flows.progress"
)

// ListEntriesMessage asks for the entry snapshot. A blank domain lists
// every entry.
type ListEntriesMessage struct {
	Domain string
}

func (ListEntriesMessage) Type() string { return TypeListEntries }

func (ListEntriesMessage) Validate() error { return nil }

type ListDomainsMessage struct{}

func (ListDomainsMessage) Type() string { return TypeListDomains }

func (ListDomainsMessage) Validate() error { return nil }

type GetEntryMessage struct {
	EntryID string
}

func (GetEntryMessage) Type() string { return TypeGetEntry }

func (m GetEntryMessage) Validate() error {
	if strings.TrimSpace(m.EntryID) == "" {
		return validationError("entry_id", "entry id is required")
	}
	return nil
}

// FlowProgressMessage asks for in-progress flows. A blank domain lists
// every flow.
type FlowProgressMessage struct {
	Domain string
}

func (FlowProgressMessage) Type() string { return TypeFlowProgress }

func (FlowProgressMessage) Validate() error { return nil }
