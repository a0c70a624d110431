package pipeline

// Outcome is the result of one stage: a value or the reason it failed.
type Outcome[T any] struct {
	value T
	err   error
}

// Success wraps a stage value.
func Success[T any](value T) Outcome[T] {
	return Outcome[T]{value: value}
}

// Failure wraps a stage error.
func Failure[T any](err error) Outcome[T] {
	return Outcome[T]{err: err}
}

// Ok reports whether the stage succeeded.
func (o Outcome[T]) Ok() bool {
	return o.err == nil
}

// Err returns the failure reason, nil on success.
func (o Outcome[T]) Err() error {
	return o.err
}

// OrDefault returns the value on success, otherwise the value built by def.
func (o Outcome[T]) OrDefault(def func() T) T {
	if o.err != nil {
		return def()
	}
	return o.value
}
