package command

import (
	"strings"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/discovery"
)

const (
	TypeAddEntry        = "integrations.command.entry.add"
	TypeRemoveEntry     = "integrations.command.entry.remove"
	TypeStartFlow       = "integrations.command.flow.start"
	TypeConfigureFlow   = "integrations.command.flow.configure"
	TypeAbortFlow       = "integrations.command.flow.abort"
	TypeIngestDiscovery = "integrations.command.discovery.ingest"
)

type AddEntryMessage struct {
	Input core.AddEntryInput
}

func (AddEntryMessage) Type() string { return TypeAddEntry }

func (m AddEntryMessage) Validate() error {
	if strings.TrimSpace(m.Input.Domain) == "" {
		return validationError("domain", "entry domain is required")
	}
	if strings.TrimSpace(m.Input.Title) == "" {
		return validationError("title", "entry title is required")
	}
	return nil
}

type RemoveEntryMessage struct {
	EntryID string
}

func (RemoveEntryMessage) Type() string { return TypeRemoveEntry }

func (m RemoveEntryMessage) Validate() error {
	if strings.TrimSpace(m.EntryID) == "" {
		return validationError("entry_id", "entry id is required")
	}
	return nil
}

type StartFlowMessage struct {
	Domain string
	Source core.Source
	Data   map[string]any
}

func (StartFlowMessage) Type() string { return TypeStartFlow }

func (m StartFlowMessage) Validate() error {
	if strings.TrimSpace(m.Domain) == "" {
		return validationError("domain", "flow domain is required")
	}
	return nil
}

type ConfigureFlowMessage struct {
	FlowID string
	Input  map[string]any
}

func (ConfigureFlowMessage) Type() string { return TypeConfigureFlow }

func (m ConfigureFlowMessage) Validate() error {
	if strings.TrimSpace(m.FlowID) == "" {
		return validationError("flow_id", "flow id is required")
	}
	return nil
}

type AbortFlowMessage struct {
	FlowID string
}

func (AbortFlowMessage) Type() string { return TypeAbortFlow }

func (m AbortFlowMessage) Validate() error {
	if strings.TrimSpace(m.FlowID) == "" {
		return validationError("flow_id", "flow id is required")
	}
	return nil
}

type IngestDiscoveryMessage struct {
	Announcement discovery.Announcement
}

func (IngestDiscoveryMessage) Type() string { return TypeIngestDiscovery }

func (m IngestDiscoveryMessage) Validate() error {
	if strings.TrimSpace(m.Announcement.Domain) == "" {
		return validationError("domain", "announcement domain is required")
	}
	if strings.TrimSpace(m.Announcement.AnnouncementID) == "" {
		return validationError("announcement_id", "announcement id is required")
	}
	return nil
}
