// Package migration is the versioned state migration engine: a compiled-in
// registry of (from, to) keyed steps, a breadth-first path resolver over
// those steps, and an executor that applies a path with a durable checkpoint
// after every step.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/foundation"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// KeySeparator joins the two versions of a step key, e.g. "0.1.4::0.1.5".
const KeySeparator = "::"

// KV is the slice of the state store that migration actions may mutate.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Device is the mutable appliance state handed to every action.
type Device struct {
	KV      KV
	DataDir string
	Logger  *slog.Logger
}

// Action transforms device state. Actions must tolerate being re-run against
// state a crashed earlier attempt already partially mutated.
type Action func(ctx context.Context, dev *Device) error

// Definition is the compiled-in form of a step before validation.
type Definition struct {
	Key         string
	Description string
	Action      Action
	downgrade   bool
}

// Define declares an upgrade step named "<from>::<to>" with from < to.
func Define(key, description string, action Action) Definition {
	return Definition{Key: key, Description: description, Action: action}
}

// Downgrade declares an explicit downgrade step named "<from>::<to>" with from > to.
// Downgrades are never inferred from upgrade steps.
func Downgrade(key, description string, action Action) Definition {
	return Definition{Key: key, Description: description, Action: action, downgrade: true}
}

// Step is an immutable, validated registry entry.
type Step struct {
	From        emver.Version
	To          emver.Version
	Description string
	Downgrade   bool
	action      Action
}

// Name returns the registry key of the step.
func (s Step) Name() string {
	return s.From.String() + KeySeparator + s.To.String()
}

// Apply runs the step's action.
func (s Step) Apply(ctx context.Context, dev *Device) error {
	return s.action(ctx, dev)
}

// Registry holds the steps in insertion order with at most one step per ordered pair.
type Registry struct {
	steps []Step
	index map[string]int
}

// ErrInvalidRegistry is returned when compiled-in definitions are inconsistent.
var ErrInvalidRegistry = errors.InternalError("invalid migration registry").Build()

func registryErr(key, reason string) error {
	return errors.InternalError(ErrInvalidRegistry.Message()).
		WithContext("step", key).
		WithCause(fmt.Errorf("%s", reason)).
		Build()
}

// ParseKey splits a "<from>::<to>" literal into its two versions.
func ParseKey(key string) (emver.Version, emver.Version, error) {
	fromText, toText, ok := strings.Cut(key, KeySeparator)
	if !ok {
		return emver.Version{}, emver.Version{}, registryErr(key, "missing "+KeySeparator+" separator")
	}
	from, err := emver.Parse(fromText)
	if err != nil {
		return emver.Version{}, emver.Version{}, registryErr(key, err.Error())
	}
	to, err := emver.Parse(toText)
	if err != nil {
		return emver.Version{}, emver.Version{}, registryErr(key, err.Error())
	}
	return from, to, nil
}

// NewRegistry validates definitions and builds a registry.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(defs))}
	for _, def := range defs {
		from, to, err := ParseKey(def.Key)
		if err != nil {
			return nil, err
		}
		switch cmp := emver.Compare(from, to); {
		case cmp == 0:
			return nil, registryErr(def.Key, "step must change the version")
		case cmp > 0 && !def.downgrade:
			return nil, registryErr(def.Key, "from must be lower than to; declare downgrades explicitly")
		case cmp < 0 && def.downgrade:
			return nil, registryErr(def.Key, "downgrade step must go from a higher to a lower version")
		}
		if def.Action == nil {
			return nil, registryErr(def.Key, "step has no action")
		}

		step := Step{From: from, To: to, Description: def.Description, Downgrade: def.downgrade, action: def.Action}
		name := step.Name()
		if _, dup := r.index[name]; dup {
			return nil, registryErr(def.Key, "duplicate step for pair")
		}
		r.index[name] = len(r.steps)
		r.steps = append(r.steps, step)
	}
	return r, nil
}

// MustRegistry is NewRegistry for the compiled-in chain; an inconsistent chain
// means the binary is broken, so it panics.
func MustRegistry(defs ...Definition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// StepFor returns the step registered for the ordered pair, if any.
func (r *Registry) StepFor(from, to emver.Version) foundation.Option[Step] {
	i, ok := r.index[from.String()+KeySeparator+to.String()]
	if !ok {
		return foundation.None[Step]()
	}
	return foundation.Some(r.steps[i])
}

// AllSteps returns every step in registration order.
func (r *Registry) AllSteps() []Step {
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Versions returns every version that appears in a step, in first-seen order.
func (r *Registry) Versions() []emver.Version {
	seen := make(map[string]bool)
	var out []emver.Version
	for _, s := range r.steps {
		for _, v := range []emver.Version{s.From, s.To} {
			if !seen[v.String()] {
				seen[v.String()] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// Latest returns the highest version reachable by any step, or None for an empty registry.
func (r *Registry) Latest() foundation.Option[emver.Version] {
	versions := r.Versions()
	if len(versions) == 0 {
		return foundation.None[emver.Version]()
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if latest.Less(v) {
			latest = v
		}
	}
	return foundation.Some(latest)
}
