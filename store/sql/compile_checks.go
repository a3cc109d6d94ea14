package sqlstore

import (
	"github.com/goliatone/go-integrations/bootstrap"
	"github.com/goliatone/go-integrations/core"
)

var (
	_ core.EntryRecordStore = (*EntryStore)(nil)
	_ bootstrap.RunStore    = (*BootstrapRunStore)(nil)
)
