package events

// ChannelEvent fans a value out to registered channels.
// Delivery never blocks the notifier: a listener whose channel is full misses
// that value, so listeners that must not miss values need a buffered channel
// sized for their burst.
type ChannelEvent[T any] struct {
	reg registry[chan<- T, T]
}

// NewChannelEvent creates a ChannelEvent. With replayLast set, a channel
// registered after the first Notify immediately receives the latest value.
func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{reg: newRegistry[chan<- T, T](replayLast)}
}

// Listen registers ch and returns the function that unregisters it.
// The returned function may be called more than once.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}
	id, last, replay := e.reg.add(ch)
	if replay {
		trySend(ch, last)
	}
	return func() { e.reg.remove(id) }
}

// Notify delivers value to every registered channel without blocking.
func (e *ChannelEvent[T]) Notify(value T) {
	for _, ch := range e.reg.record(value) {
		trySend(ch, value)
	}
}

// Last returns the most recently notified value.
func (e *ChannelEvent[T]) Last() (T, bool) {
	return e.reg.lastValue()
}

// ListenerCount returns the number of registered channels.
func (e *ChannelEvent[T]) ListenerCount() int {
	return e.reg.count()
}

func trySend[T any](ch chan<- T, value T) {
	select {
	case ch <- value:
	default:
	}
}
