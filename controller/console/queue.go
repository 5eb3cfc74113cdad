package console

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Task is a received console line waiting to be interpreted.
type Task struct {
	ID       uint64    `json:"id"`
	Text     string    `json:"text"`
	Received time.Time `json:"received"`
}

// Queue is a FIFO of console tasks processed by a single worker.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []Task
	current *Task
	seq     uint64
	closed  bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// AddTask enqueues text unless an identical command is queued or running.
func (q *Queue) AddTask(text string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("console queue closed")
	}
	// unknown text is only echoed, so repeats are kept
	if _, unknown := Parse(text).(UnknownCommand); !unknown {
		if q.current != nil && q.current.Text == text {
			return fmt.Errorf("command %q already in progress", text)
		}
		for _, t := range q.tasks {
			if t.Text == text {
				return fmt.Errorf("command %q already queued", text)
			}
		}
	}
	q.seq++
	q.tasks = append(q.tasks, Task{ID: q.seq, Text: text, Received: time.Now()})
	q.cond.Signal()
	return nil
}

// ListTasks returns pending tasks, oldest first.
func (q *Queue) ListTasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := make([]Task, len(q.tasks))
	copy(tasks, q.tasks)
	return tasks
}

func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// ProcessTasks runs worker for each task in order until ctx is done.
func (q *Queue) ProcessTasks(ctx context.Context, worker func(Task)) {
	stop := context.AfterFunc(ctx, q.Close)
	defer stop()
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		next := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.current = &next
		q.mu.Unlock()

		worker(next)

		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
	}
}
