package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ MetricsRecorder = NopMetricsRecorder{}
	_ EventEmitter    = NopEmitter{}
	_ EventEmitter    = (*OutboxEmitter)(nil)
	_ EventEmitter    = (*AsyncEmitter)(nil)
	_ EventDispatcher = (*OutboxDispatcher)(nil)
	_ ReplayLedger    = (*MemoryReplayLedger)(nil)
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
