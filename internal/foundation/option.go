// Package foundation holds small generic helpers shared across the agent.
package foundation

// Option is a value that may be absent. Registry lookups and status queries
// return it instead of a nil pointer or a sentinel zero value.
type Option[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](v T) Option[T] { return Option[T]{value: v, ok: true} }

// None is the absent value.
func None[T any]() Option[T] { return Option[T]{} }

func (o Option[T]) IsSome() bool { return o.ok }
func (o Option[T]) IsNone() bool { return !o.ok }

// Get is the comma-ok form.
func (o Option[T]) Get() (T, bool) { return o.value, o.ok }

// Unwrap returns the value and panics on None. Use it only after IsSome.
func (o Option[T]) Unwrap() T {
	if !o.ok {
		panic("foundation: Unwrap on None")
	}
	return o.value
}
