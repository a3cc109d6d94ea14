package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[AddEntryMessage]        = (*AddEntryCommand)(nil)
	_ gocmd.Commander[RemoveEntryMessage]     = (*RemoveEntryCommand)(nil)
	_ gocmd.Commander[StartFlowMessage]       = (*StartFlowCommand)(nil)
	_ gocmd.Commander[ConfigureFlowMessage]   = (*ConfigureFlowCommand)(nil)
	_ gocmd.Commander[AbortFlowMessage]       = (*AbortFlowCommand)(nil)
	_ gocmd.Commander[IngestDiscoveryMessage] = (*IngestDiscoveryCommand)(nil)
)
