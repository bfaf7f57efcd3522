package runtime

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when you don't need the rest of a
// streaming channel (e.g., a provider stream abandoned after an interrupt).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// DrainPending removes all currently buffered values from ch without
// blocking and returns how many were discarded. Unlike [Drain] it does not
// wait for the channel to close, so it is safe on channels that remain open.
func DrainPending[T any](ch <-chan T) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
