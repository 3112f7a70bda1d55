package talk

import (
	"context"
	"fmt"
	"sort"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

// Dispatcher routes sweeps and actions to the engine of their workflow.
// It is built once at startup and read-only afterwards.
type Dispatcher struct {
	engines map[string]*Engine
}

// NewDispatcher indexes engines by workflow label.
func NewDispatcher(engines ...*Engine) (*Dispatcher, error) {
	d := &Dispatcher{engines: make(map[string]*Engine, len(engines))}
	for _, e := range engines {
		if _, ok := d.engines[e.Label()]; ok {
			return nil, fmt.Errorf("talk: duplicate workflow %q", e.Label())
		}
		d.engines[e.Label()] = e
	}
	return d, nil
}

// Engine returns the engine for label.
func (d *Dispatcher) Engine(label string) (*Engine, bool) {
	e, ok := d.engines[label]
	return e, ok
}

// Labels returns the registered workflow labels, sorted.
func (d *Dispatcher) Labels() []string {
	labels := make([]string, 0, len(d.engines))
	for l := range d.engines {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Sweep runs a sweep of the workflow with the given label.
func (d *Dispatcher) Sweep(ctx context.Context, label string) (SweepReport, error) {
	e, ok := d.engines[label]
	if !ok {
		return SweepReport{Workflow: label}, fmt.Errorf("talk: %w %q", ErrUnknownWorkflow, label)
	}
	return e.Sweep(ctx)
}

// HandleAction routes action by its workflow label. Actions without a label
// go to the only engine when exactly one is registered.
func (d *Dispatcher) HandleAction(ctx context.Context, action protocol.Action) error {
	e, ok := d.engines[action.Workflow]
	if !ok && action.Workflow == "" && len(d.engines) == 1 {
		for _, only := range d.engines {
			e, ok = only, true
		}
	}
	if !ok {
		return fmt.Errorf("talk: %w %q", ErrUnknownWorkflow, action.Workflow)
	}
	_, err := e.HandleAction(ctx, action)
	return err
}
