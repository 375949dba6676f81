package upload

import (
	"sync"
	"time"
)

// task identifies a kind of scheduled work. At most one task of each kind
// is pending at a time.
type task uint8

const (
	taskPairingTimeout task = iota
	taskResend
	taskSettle
	taskPageRetry
	taskPoll
	taskDeadline
)

func (t task) String() string {
	switch t {
	case taskPairingTimeout:
		return "pairing-timeout"
	case taskResend:
		return "resend"
	case taskSettle:
		return "settle"
	case taskPageRetry:
		return "page-retry"
	case taskPoll:
		return "poll"
	case taskDeadline:
		return "deadline"
	default:
		return "unknown"
	}
}

// timerEvent is posted when a scheduled task fires.
type timerEvent struct {
	task  task
	token uint64
}

type pendingTask struct {
	token uint64
	timer Timer
}

// scheduler arms timers that post timerEvents instead of running session
// code. A firing whose token no longer matches was cancelled or replaced
// and must be dropped by the receiver via claim.
type scheduler struct {
	clock   TimeProvider
	post    func(timerEvent)
	mu      sync.Mutex
	pending map[task]pendingTask
	next    uint64
	stopped bool
}

func newScheduler(clock TimeProvider, post func(timerEvent)) *scheduler {
	return &scheduler{
		clock:   clock,
		post:    post,
		pending: make(map[task]pendingTask),
	}
}

// schedule cancels any pending task of the same kind and arms a new one.
func (s *scheduler) schedule(t task, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.cancelLocked(t)

	s.next++
	ev := timerEvent{task: t, token: s.next}
	timer := s.clock.AfterFunc(d, func() { s.post(ev) })
	s.pending[t] = pendingTask{token: ev.token, timer: timer}
}

// cancel stops the pending task of kind t, if any.
func (s *scheduler) cancel(t task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(t)
}

func (s *scheduler) cancelLocked(t task) {
	if p, ok := s.pending[t]; ok {
		p.timer.Stop()
		delete(s.pending, t)
	}
}

// claim reports whether ev is the live firing of its task and, if so,
// forgets the task so it can be re-armed.
func (s *scheduler) claim(ev timerEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[ev.task]
	if !ok || p.token != ev.token {
		return false
	}
	delete(s.pending, ev.task)
	return true
}

// isPending reports whether a task of kind t is armed.
func (s *scheduler) isPending(t task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[t]
	return ok
}

// stop cancels everything and refuses new work.
func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for t := range s.pending {
		s.cancelLocked(t)
	}
	s.stopped = true
}
