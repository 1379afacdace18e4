package worker

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolStopped = errors.New("worker pool is stopped")

// Task — единица работы пула.
type Task func(ctx context.Context) error

// Pool — ограниченный пул воркеров. Ошибки задач копятся и отдаются из Wait.
type Pool struct {
	workers int
	tasks   chan Task
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu   sync.Mutex
	errs []error
}

func New(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{
		workers: workers,
		tasks:   make(chan Task, workers*2),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			if err := task(p.ctx); err != nil {
				p.mu.Lock()
				p.errs = append(p.errs, err)
				p.mu.Unlock()
			}
		}
	}
}

// Submit блокируется, пока в очереди нет места.
func (p *Pool) Submit(task Task) error {
	if p.ctx.Err() != nil {
		return ErrPoolStopped
	}
	select {
	case <-p.ctx.Done():
		return ErrPoolStopped
	case p.tasks <- task:
		return nil
	}
}

// Wait закрывает очередь, дожидается воркеров и возвращает накопленные ошибки.
func (p *Pool) Wait() []error {
	close(p.tasks)
	p.wg.Wait()
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs
}

// Stop прерывает обработку: задачи, не взятые в работу, отбрасываются.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Run прогоняет tasks через пул из workers воркеров.
func Run(ctx context.Context, workers int, tasks []Task) []error {
	p := New(ctx, workers)
	p.Start()
	for _, t := range tasks {
		if err := p.Submit(t); err != nil {
			p.mu.Lock()
			p.errs = append(p.errs, err)
			p.mu.Unlock()
			break
		}
	}
	return p.Wait()
}
