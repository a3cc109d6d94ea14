// Package gologger resolves the glog logging stack into the contracts
// go-job workers consume, so queue-backed setup runs log through the
// same provider as the rest of the subsystem.
package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// ForWorker resolves name against the provider-over-logger-over-nop
// precedence and returns both the resolved glog pair and the go-job
// bridges a queue worker wants.
func ForWorker(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, BridgeProvider(resolvedProvider), BridgeLogger(resolvedLogger)
}

// BridgeProvider maps a glog provider onto go-job's provider contract.
// A nil provider stays nil so go-job applies its own fallback.
func BridgeProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// BridgeLogger maps a glog logger onto go-job's logger contract.
func BridgeLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}
