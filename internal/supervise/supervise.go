// Package supervise wires the daemon's long-running services into a suture
// supervision tree that restarts them on failure and logs lifecycle events
// through the shared logger.
package supervise

import (
	"context"

	"github.com/insetd/insetd/internal/util"
	"github.com/thejerf/suture/v4"
)

// Service forces long-running services to name themselves for event logs.
type Service interface {
	String() string
	suture.Service
}

// New builds a supervisor whose events are reported through the logger.
func New(name string, logger *util.Logger) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook: eventHook(logger),
	})
}

// Add registers a named service with the supervisor.
func Add(super *suture.Supervisor, service Service) suture.ServiceToken {
	return super.Add(service)
}

// ServiceFunc adapts a plain run function into a named service.
type ServiceFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewServiceFunc wraps fn as a service called name.
func NewServiceFunc(name string, fn func(ctx context.Context) error) ServiceFunc {
	return ServiceFunc{name: name, fn: fn}
}

func (s ServiceFunc) String() string {
	return s.name
}

func (s ServiceFunc) Serve(ctx context.Context) error {
	return s.fn(ctx)
}

func eventHook(logger *util.Logger) suture.EventHook {
	return func(ei suture.Event) {
		switch e := ei.(type) {
		case suture.EventStopTimeout:
			logger.Warnf("service %s did not stop in time (supervisor %s)", e.ServiceName, e.SupervisorName)
		case suture.EventServicePanic:
			logger.Errorf("service panic: %s", e.PanicMsg)
			logger.Debugf("%s", e.Stacktrace)
		case suture.EventServiceTerminate:
			logger.Errorf("service %s terminated: %v (supervisor %s)", e.ServiceName, e.Err, e.SupervisorName)
		case suture.EventBackoff:
			logger.Debugf("supervisor %s entering backoff after repeated failures", e.SupervisorName)
		case suture.EventResume:
			logger.Debugf("supervisor %s resumed", e.SupervisorName)
		default:
			logger.Debugf("supervisor event type %d", int(e.Type()))
		}
	}
}
