// Package subsystem defines the capability every polled component exposes.
package subsystem

import (
	"fmt"
	"time"
)

// Subsystem is a component driven by the node's polling loop. Setup is
// mandatory; components with no periodic work embed NoRun.
type Subsystem interface {
	Setup() error
	Run(dt time.Duration)
}

// NoRun provides the default no-op Run.
type NoRun struct{}

// Run does nothing.
func (NoRun) Run(time.Duration) {}

// Group runs a fixed list of subsystems in order.
type Group []Subsystem

// Setup calls Setup on every member in order and stops at the first error.
func (g Group) Setup() error {
	for i, s := range g {
		if err := s.Setup(); err != nil {
			return fmt.Errorf("setup subsystem %d (%T): %w", i, s, err)
		}
	}
	return nil
}

// Run calls Run on every member in order.
func (g Group) Run(dt time.Duration) {
	for _, s := range g {
		s.Run(dt)
	}
}
