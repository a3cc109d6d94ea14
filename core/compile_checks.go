package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Registry         = (*HandlerRegistry)(nil)
	_ EntryRecordStore = (*MemoryRecordStore)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
