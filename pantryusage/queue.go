// Package pantryusage estimates how much of each pantry item a planned meal
// consumes. Estimation runs off the request path: the meal generator enqueues
// a Task and a Worker pool drains the queue.
package pantryusage

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("pantry usage queue closed")

// Task asks for the pantry usage of the meal placed in a plan slot.
type Task struct {
	MealID     string `json:"meal_id"`
	UserID     string `json:"user_id"`
	PlanMealID string `json:"plan_meal_id"`
	// Attempts counts failed runs of this task.
	Attempts int `json:"attempts,omitempty"`
}

type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available, ctx is done or the queue is
	// closed.
	Dequeue(ctx context.Context) (Task, error)
	Close() error
}

// MemoryQueue is an in-process queue for single-binary deployments and tests.
type MemoryQueue struct {
	tasks chan Task

	closeOnce sync.Once
	done      chan struct{}
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 128
	}
	return &MemoryQueue{tasks: make(chan Task, size), done: make(chan struct{})}
}

// Enqueue blocks while the queue is full. Close releases blocked callers
// with ErrQueueClosed.
func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.tasks <- task:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case task := <-q.tasks:
		return task, nil
	default:
	}
	select {
	case task := <-q.tasks:
		return task, nil
	case <-q.done:
		// Drain what was queued before Close.
		select {
		case task := <-q.tasks:
			return task, nil
		default:
			return Task{}, ErrQueueClosed
		}
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// Len reports the number of queued tasks.
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}
