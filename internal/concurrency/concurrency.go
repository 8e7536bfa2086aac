// Package concurrency holds the scheduler's fixed-size worker pool and
// the keyed semaphores that cap per-provider parallelism.
package concurrency

import (
	"context"
	"sync"
	"time"
)

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool starts workers goroutines draining the task queue.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		tasks:  make(chan func(), workers*2),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}
	return pool
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			if task != nil {
				task()
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// Submit queues a task, blocking while the queue is full. Returns the
// pool's context error after Shutdown. The up-front Err check keeps the
// select from nondeterministically enqueueing into a stopped pool when
// the buffered queue still has room.
func (p *WorkerPool) Submit(task func()) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Shutdown stops the workers, waiting up to timeout for in-flight tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// KeyedSemaphore caps concurrency independently per key. The scheduler
// keys it by provider to respect provider rate limits.
type KeyedSemaphore struct {
	mu       sync.Mutex
	capacity int
	sems     map[string]chan struct{}
}

// NewKeyedSemaphore builds a semaphore set with the given per-key cap.
func NewKeyedSemaphore(capacity int) *KeyedSemaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &KeyedSemaphore{
		capacity: capacity,
		sems:     make(map[string]chan struct{}),
	}
}

func (k *KeyedSemaphore) sem(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.sems[key]
	if !ok {
		s = make(chan struct{}, k.capacity)
		k.sems[key] = s
	}
	return s
}

// Acquire takes a permit for key, honoring ctx cancellation.
func (k *KeyedSemaphore) Acquire(ctx context.Context, key string) error {
	select {
	case k.sem(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit for key.
func (k *KeyedSemaphore) Release(key string) {
	select {
	case <-k.sem(key):
	default:
	}
}
