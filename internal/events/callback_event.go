package events

// CallbackEvent calls registered functions synchronously on Notify, in the
// notifier's goroutine. Callbacks run outside the internal lock, so they may
// register or unregister listeners themselves.
type CallbackEvent[T any] struct {
	reg registry[func(T), T]
}

// NewCallbackEvent creates a CallbackEvent. With replayLast set, a callback
// registered after the first Notify is invoked immediately with the latest value.
func NewCallbackEvent[T any](replayLast bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{reg: newRegistry[func(T), T](replayLast)}
}

// Listen registers callback and returns the function that unregisters it.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}
	id, last, replay := e.reg.add(callback)
	if replay {
		callback(last)
	}
	return func() { e.reg.remove(id) }
}

// Notify invokes every registered callback with value.
func (e *CallbackEvent[T]) Notify(value T) {
	for _, callback := range e.reg.record(value) {
		callback(value)
	}
}

// Last returns the most recently notified value.
func (e *CallbackEvent[T]) Last() (T, bool) {
	return e.reg.lastValue()
}

// ListenerCount returns the number of registered callbacks.
func (e *CallbackEvent[T]) ListenerCount() int {
	return e.reg.count()
}
