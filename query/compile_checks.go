package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/core"
)

var (
	_ gocmd.Querier[ListEntriesMessage, []*core.Entry]          = (*ListEntriesQuery)(nil)
	_ gocmd.Querier[ListDomainsMessage, []string]               = (*ListDomainsQuery)(nil)
	_ gocmd.Querier[GetEntryMessage, *core.Entry]               = (*GetEntryQuery)(nil)
	_ gocmd.Querier[FlowProgressMessage, []core.ProgressRecord] = (*FlowProgressQuery)(nil)
)
