package health

import (
	"context"
	"fmt"
)

// Pinger is anything that can confirm it is reachable, such as a store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck is a critical check backed by p.Ping.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// EngineStatus is the view of the engine registry the engine check needs.
type EngineStatus interface {
	CurrentName() string
	CurrentAvailable() bool
}

// EngineCheck warns while the selected summarisation engine is unavailable.
// Summaries still complete through the offline engine, so it never fails
// readiness.
func EngineCheck(s EngineStatus) Checker {
	return Checker{
		Name: "engines",
		Warn: true,
		Check: func(context.Context) error {
			if !s.CurrentAvailable() {
				return fmt.Errorf("engine %q unavailable, summaries use the offline engine", s.CurrentName())
			}
			return nil
		},
	}
}
