// Package gologger resolves the webhook service's logger stack and bridges
// component loggers into go-job's logging contracts for broker-backed queue
// components.
package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Stack is the resolved logger pair for one service instance. Components pull
// scoped loggers from it instead of resolving precedence themselves.
type Stack struct {
	Provider glog.LoggerProvider
	Logger   glog.Logger
}

// ResolveStack applies the precedence provider > logger > nop. The name
// scopes the fallback logger derived from a bare logger.
func ResolveStack(name string, provider glog.LoggerProvider, logger glog.Logger) Stack {
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	return Stack{Provider: resolvedProvider, Logger: resolvedLogger}
}

// Component returns the named logger from the provider, or the resolved
// service logger when no provider is configured.
func (s Stack) Component(name string) glog.Logger {
	if s.Provider != nil {
		return s.Provider.GetLogger(name)
	}
	return glog.Ensure(s.Logger)
}

// JobProvider bridges the resolved provider into go-job's provider contract.
func (s Stack) JobProvider() job.LoggerProvider {
	if s.Provider == nil {
		return nil
	}
	return job.GoLoggerProvider(s.Provider)
}

// JobLogger bridges the named component logger into go-job's logger contract,
// so the broker notification path logs through the same stack as everything
// else.
func (s Stack) JobLogger(name string) job.Logger {
	return job.GoLogger(s.Component(name))
}
