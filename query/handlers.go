package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-integrations/core"
)

// EntryReader covers the read side of the entry collection. A
// *core.Service satisfies it.
type EntryReader interface {
	Entries(domain string) []*core.Entry
	Domains() []string
	GetEntry(entryID string) (*core.Entry, error)
}

// FlowProgressReader reports in-progress flows. A *core.FlowManager
// satisfies it.
type FlowProgressReader interface {
	Progress() []core.ProgressRecord
	ProgressForDomain(domain string) []core.ProgressRecord
}

type ListEntriesQuery struct {
	reader EntryReader
}

func NewListEntriesQuery(reader EntryReader) *ListEntriesQuery {
	return &ListEntriesQuery{reader: reader}
}

func (q *ListEntriesQuery) Query(_ context.Context, msg ListEntriesMessage) ([]*core.Entry, error) {
	if q == nil || q.reader == nil {
		return nil, dependencyError("query: entry reader is required")
	}
	return q.reader.Entries(strings.TrimSpace(msg.Domain)), nil
}

type ListDomainsQuery struct {
	reader EntryReader
}

func NewListDomainsQuery(reader EntryReader) *ListDomainsQuery {
	return &ListDomainsQuery{reader: reader}
}

func (q *ListDomainsQuery) Query(_ context.Context, _ ListDomainsMessage) ([]string, error) {
	if q == nil || q.reader == nil {
		return nil, dependencyError("query: entry reader is required")
	}
	return q.reader.Domains(), nil
}

type GetEntryQuery struct {
	reader EntryReader
}

func NewGetEntryQuery(reader EntryReader) *GetEntryQuery {
	return &GetEntryQuery{reader: reader}
}

func (q *GetEntryQuery) Query(_ context.Context, msg GetEntryMessage) (*core.Entry, error) {
	if q == nil || q.reader == nil {
		return nil, dependencyError("query: entry reader is required")
	}
	return q.reader.GetEntry(msg.EntryID)
}

type FlowProgressQuery struct {
	flows FlowProgressReader
}

func NewFlowProgressQuery(flows FlowProgressReader) *FlowProgressQuery {
	return &FlowProgressQuery{flows: flows}
}

func (q *FlowProgressQuery) Query(_ context.Context, msg FlowProgressMessage) ([]core.ProgressRecord, error) {
	if q == nil || q.flows == nil {
		return nil, dependencyError("query: flow manager is required")
	}
	domain := strings.TrimSpace(msg.Domain)
	if domain == "" {
		return q.flows.Progress(), nil
	}
	return q.flows.ProgressForDomain(domain), nil
}
