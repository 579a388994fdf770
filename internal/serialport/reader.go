package serialport

import (
	"io"
	"sync"
)

// Reader holds the read lock of a port. Read blocks until bytes arrive, the
// stream ends, or Cancel is called; both of the latter return io.EOF.
type Reader struct {
	port   *streamPort
	chunks <-chan chunk
	abort  chan struct{}

	cancelOnce sync.Once

	mu       sync.Mutex
	released bool
	reading  bool
}

func newReader(port *streamPort, chunks <-chan chunk) *Reader {
	return &Reader{
		port:   port,
		chunks: chunks,
		abort:  make(chan struct{}),
	}
}

// Read returns the next chunk. It is not safe to call from two goroutines at
// once; the second caller gets ErrReadPending.
func (r *Reader) Read() ([]byte, error) {
	// a cancelled reader stays at end-of-stream, released or not
	select {
	case <-r.abort:
		return nil, io.EOF
	default:
	}

	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil, ErrReaderReleased
	}
	if r.reading {
		r.mu.Unlock()
		return nil, ErrReadPending
	}
	r.reading = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.reading = false
		r.mu.Unlock()
	}()

	// Cancel may have raced the checks above; queued chunks must not win
	select {
	case <-r.abort:
		return nil, io.EOF
	default:
	}

	select {
	case <-r.abort:
		return nil, io.EOF
	case c, ok := <-r.chunks:
		if !ok {
			if err := r.port.streamErr(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return c.data, nil
	}
}

// Cancel makes a pending and every later Read return io.EOF. It is safe to
// call more than once and from any goroutine.
func (r *Reader) Cancel() {
	r.cancelOnce.Do(func() {
		close(r.abort)
	})
}

// Release gives the read lock back to the port so another Reader can be
// taken. It fails with ErrReadPending while a Read is blocked; call Cancel
// and wait for the Read to return first. Releasing twice is a no-op.
func (r *Reader) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return nil
	}
	if r.reading {
		return ErrReadPending
	}
	r.released = true
	return nil
}

func (r *Reader) forceRelease() {
	r.mu.Lock()
	r.released = true
	r.mu.Unlock()
}

func (r *Reader) pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reading
}

func (r *Reader) isReleased() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}
