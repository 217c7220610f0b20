package stub

import (
	"errors"
	"sync"

	"buywatch/internal/solana"
)

// LogStream implements solana.LogStream for testing. Notifications pushed
// with Notify are delivered by ReadLoop; Fail ends ReadLoop with an error.
type LogStream struct {
	notifications chan solana.LogNotification
	failures      chan error
	closed        chan struct{}
	closeOnce     sync.Once

	mu      sync.Mutex
	filters []solana.LogsFilter

	// SubscribeErr, when set, is returned by SubscribeLogs.
	SubscribeErr error
}

// NewLogStream creates a new stub log stream.
func NewLogStream() *LogStream {
	return &LogStream{
		notifications: make(chan solana.LogNotification, 64),
		failures:      make(chan error, 1),
		closed:        make(chan struct{}),
	}
}

var _ solana.LogStream = (*LogStream)(nil)

// SubscribeLogs records filter.
func (s *LogStream) SubscribeLogs(filter solana.LogsFilter) error {
	if s.IsClosed() {
		return solana.ErrStreamClosed
	}
	if s.SubscribeErr != nil {
		return s.SubscribeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, filter)
	return nil
}

// Filters returns the filters passed to SubscribeLogs.
func (s *LogStream) Filters() []solana.LogsFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]solana.LogsFilter, len(s.filters))
	copy(out, s.filters)
	return out
}

// ReadLoop delivers pushed notifications until Close or Fail.
func (s *LogStream) ReadLoop(handle func(solana.LogNotification)) error {
	for {
		select {
		case <-s.closed:
			return solana.ErrStreamClosed
		case err := <-s.failures:
			return err
		case n := <-s.notifications:
			handle(n)
		}
	}
}

// Notify queues a notification for ReadLoop.
func (s *LogStream) Notify(n solana.LogNotification) {
	s.notifications <- n
}

// Fail makes ReadLoop return err, as a dropped connection would.
func (s *LogStream) Fail(err error) {
	if err == nil {
		err = errors.New("connection reset")
	}
	select {
	case s.failures <- err:
	default:
	}
}

// Close closes the stream. Safe to call more than once.
func (s *LogStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// IsClosed reports whether Close was called.
func (s *LogStream) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
