// Package simulation lets external callers run the glucose simulation.
package simulation

import (
	"context"

	"glucose-monitor/internal/tasks"
)

// Options re-exposes the tasks.Options type for external callers.
type Options = tasks.Options

// Summary re-exposes the run outcome.
type Summary = tasks.Summary

// Run loads the configuration, applies opts and runs the simulation until it
// finishes or ctx ends.
func Run(ctx context.Context, opts Options) (Summary, error) {
	return tasks.InitAndRunSimulation(ctx, opts)
}
