// Package dispatch runs cross-component messages and their continuations.
// A continuation always runs after its action has returned, as its own step.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type Action func(ctx context.Context) error

type Continuation func(ctx context.Context, result error)

type Dispatcher interface {
	Go(ctx context.Context, name string, action Action, then Continuation)
}

var (
	ErrQueueFull  = errors.New("dispatch queue full")
	ErrPoolClosed = errors.New("dispatch pool closed")
)

// Inline runs the action and then the continuation on the caller's goroutine.
type Inline struct{}

func (Inline) Go(ctx context.Context, name string, action Action, then Continuation) {
	err := safeRun(ctx, action)
	if then != nil {
		then(ctx, err)
	}
}

type job struct {
	name   string
	action Action
	then   Continuation
}

// Pool runs messages on a fixed set of workers. Messages are detached from the
// submitting request's context so an HTTP disconnect cannot strand a payout.
type Pool struct {
	workers int
	queue   chan job
	logger  *zap.Logger

	mu      sync.RWMutex
	baseCtx context.Context
	closed  bool
	wg      sync.WaitGroup
}

func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		workers: workers,
		queue:   make(chan job, queueSize),
		logger:  logger,
		baseCtx: context.Background(),
	}
}

// Run starts the workers and blocks until ctx is done and the queue is drained.
// Once ctx is done the pool refuses new messages.
func (p *Pool) Run(ctx context.Context) {
	p.mu.Lock()
	p.baseCtx = context.WithoutCancel(ctx)
	p.mu.Unlock()
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	<-ctx.Done()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	// Workers may exit before a message accepted just ahead of close lands.
	for {
		select {
		case j := <-p.queue:
			p.execute(j)
		default:
			return
		}
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.queue:
			p.execute(j)
		case <-ctx.Done():
			for {
				select {
				case j := <-p.queue:
					p.execute(j)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) execute(j job) {
	p.mu.RLock()
	ctx := p.baseCtx
	p.mu.RUnlock()
	err := safeRun(ctx, j.action)
	if err != nil {
		p.logger.Warn("dispatch action failed", zap.String("name", j.name), zap.Error(err))
	}
	if j.then != nil {
		p.runContinuation(ctx, j, err)
	}
}

func (p *Pool) runContinuation(ctx context.Context, j job, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch continuation panic", zap.String("name", j.name), zap.Any("panic", r))
		}
	}()
	j.then(ctx, err)
}

// Go enqueues the message. When the queue is full, or the pool has shut
// down, the continuation runs immediately with ErrQueueFull or ErrPoolClosed
// so the caller's failure path still fires.
func (p *Pool) Go(ctx context.Context, name string, action Action, then Continuation) {
	p.mu.RLock()
	closed := p.closed
	accepted := false
	if !closed {
		select {
		case p.queue <- job{name: name, action: action, then: then}:
			accepted = true
		default:
		}
	}
	p.mu.RUnlock()
	if accepted {
		return
	}
	reason := ErrQueueFull
	if closed {
		reason = ErrPoolClosed
	}
	p.logger.Warn("dispatch refused", zap.String("name", name), zap.Error(reason))
	if then != nil {
		then(context.WithoutCancel(ctx), reason)
	}
}

func safeRun(ctx context.Context, action Action) (err error) {
	if action == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch action panic: %v", r)
		}
	}()
	return action(ctx)
}
