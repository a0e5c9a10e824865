package workqueue

import "sync"

// ConcurrencyStrategy controls how many tasks a queue runs at once.
// The strategy tracks running tasks and decides whether a new one can start.
type ConcurrencyStrategy interface {
	// CanStart returns true if another task can start given current state
	CanStart() bool
	// OnStart is called when a task starts
	OnStart()
	// OnComplete is called when a task completes
	OnComplete()
}

// ============================================================================
// SerializedStrategy - one task at a time
// ============================================================================

// SerializedStrategy runs one task at a time.
type SerializedStrategy struct {
	mu      sync.Mutex
	running bool
}

// NewSerializedStrategy creates a strategy that serializes all tasks.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

func (s *SerializedStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *SerializedStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// ============================================================================
// WorkerLimitStrategy - up to N parallel tasks
// ============================================================================

// WorkerLimitStrategy allows up to maxWorkers tasks to run in parallel.
type WorkerLimitStrategy struct {
	mu         sync.Mutex
	maxWorkers int
	running    int
}

// NewWorkerLimitStrategy creates a strategy with a fixed worker limit.
func NewWorkerLimitStrategy(maxWorkers int) *WorkerLimitStrategy {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerLimitStrategy{
		maxWorkers: maxWorkers,
	}
}

func (s *WorkerLimitStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running < s.maxWorkers
}

func (s *WorkerLimitStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
}

func (s *WorkerLimitStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
}
