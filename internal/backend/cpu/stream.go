package cpu

import (
	"fmt"
	"sync"

	"github.com/born-ml/cumat/internal/device"
)

// streamQueueDepth bounds the number of queued kernels before submit blocks.
const streamQueueDepth = 256

// Stream is an in-order execution queue served by a single worker goroutine.
type Stream struct {
	owner *CPUBackend

	mu     sync.Mutex
	tasks  chan func() error
	closed bool

	// pending counts submitted tasks that have not finished. Unlike a
	// WaitGroup it allows wait and submit from different goroutines.
	pendMu  sync.Mutex
	pendCnd *sync.Cond
	pending int

	errMu sync.Mutex
	err   error
}

var _ device.Stream = (*Stream)(nil)

func newStream(owner *CPUBackend) *Stream {
	s := &Stream{
		owner: owner,
		tasks: make(chan func() error, streamQueueDepth),
	}
	s.pendCnd = sync.NewCond(&s.pendMu)
	go s.worker()
	return s
}

func (s *Stream) worker() {
	for task := range s.tasks {
		s.run(task)
	}
}

func (s *Stream) run(task func() error) {
	defer s.done()
	defer func() {
		if r := recover(); r != nil {
			s.record(device.NewError(device.ErrTypeBackend, "cpu.Stream", fmt.Sprintf("kernel panic: %v", r), nil))
		}
	}()
	if err := task(); err != nil {
		s.record(err)
	}
}

// record keeps the first error until the next Synchronize.
func (s *Stream) record(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *Stream) submit(task func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return device.NewError(device.ErrTypeUnavailable, "cpu.Stream", "stream released", nil)
	}
	s.pendMu.Lock()
	s.pending++
	s.pendMu.Unlock()
	s.tasks <- task
	return nil
}

func (s *Stream) done() {
	s.pendMu.Lock()
	s.pending--
	if s.pending == 0 {
		s.pendCnd.Broadcast()
	}
	s.pendMu.Unlock()
}

// wait blocks until every queued task has run, leaving recorded errors in place.
func (s *Stream) wait() {
	s.pendMu.Lock()
	for s.pending > 0 {
		s.pendCnd.Wait()
	}
	s.pendMu.Unlock()
}

// Synchronize blocks until all queued work finishes and returns the first
// error raised since the previous Synchronize.
func (s *Stream) Synchronize() error {
	s.wait()
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.err
	s.err = nil
	return err
}

// Release drains the stream and stops its worker. Calling it twice is a no-op.
func (s *Stream) Release() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.tasks)
	s.mu.Unlock()

	err := s.Synchronize()
	if s.owner != nil && s != s.owner.def {
		s.owner.forget(s)
	}
	return err
}
