package timer

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrManagerStopped is returned when scheduling against a stopped manager.
var ErrManagerStopped = errors.New("timer manager is stopped")

// Task is a callback scheduled for future execution.
type Task struct {
	ID       string
	ExpiryAt time.Time
	Callback func()
	index    int // index in the heap
}

// taskHeap is a min-heap of Tasks ordered by ExpiryAt.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].ExpiryAt.Before(h[j].ExpiryAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	n := len(*h)
	task := x.(*Task)
	task.index = n
	*h = append(*h, task)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil // avoid memory leak
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// Manager runs callbacks at scheduled wall-clock times. Rescheduling
// an ID replaces the pending task, which keeps recurring jobs from
// piling up.
type Manager struct {
	mu      sync.Mutex
	heap    taskHeap
	tasks   map[string]*Task // O(1) lookup by ID
	wakeup  chan struct{}
	stopCh  chan struct{}
	stopped bool
}

// NewManager creates a timer manager. Call Start to begin dispatching.
func NewManager() *Manager {
	m := &Manager{
		heap:   make(taskHeap, 0),
		tasks:  make(map[string]*Task),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	heap.Init(&m.heap)
	return m
}

// Start launches the dispatch loop.
func (m *Manager) Start() {
	go m.run()
}

// Stop stops the manager. Pending tasks are discarded; a callback
// already started is allowed to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true
	close(m.stopCh)
}

// Schedule registers a callback to run at expiryAt, replacing any
// pending task with the same ID.
func (m *Manager) Schedule(id string, expiryAt time.Time, callback func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}

	if existing, ok := m.tasks[id]; ok {
		heap.Remove(&m.heap, existing.index)
		delete(m.tasks, id)
	}

	task := &Task{
		ID:       id,
		ExpiryAt: expiryAt,
		Callback: callback,
	}

	heap.Push(&m.heap, task)
	m.tasks[id] = task

	// Wake the dispatcher if this became the earliest task.
	if m.heap[0] == task {
		select {
		case m.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// Cancel removes a pending task. Returns false if the ID has no
// pending task.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return false
	}

	heap.Remove(&m.heap, task.index)
	delete(m.tasks, id)
	return true
}

// Pending returns the number of scheduled tasks.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *Manager) run() {
	for {
		m.mu.Lock()

		if m.stopped {
			m.mu.Unlock()
			return
		}

		var waitDuration time.Duration
		if m.heap.Len() == 0 {
			waitDuration = 24 * time.Hour
		} else {
			next := m.heap[0]
			waitDuration = time.Until(next.ExpiryAt)

			if waitDuration <= 0 {
				task := heap.Pop(&m.heap).(*Task)
				delete(m.tasks, task.ID)

				go task.Callback()

				m.mu.Unlock()
				continue
			}
		}

		m.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-m.wakeup:
			timer.Stop()
		case <-m.stopCh:
			timer.Stop()
			return
		}
	}
}
