package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nadmax/forgeq/internal/notify"
	"github.com/nadmax/forgeq/internal/queue"
	"github.com/nadmax/forgeq/internal/store"
	"github.com/nadmax/forgeq/internal/task"
	"go.uber.org/zap"
)

// Pool runs a fixed number of workers per category against a shared queue and store.
type Pool struct {
	name         string
	queue        queue.Queue
	store        store.Store
	handlers     map[task.Category]TaskHandler
	publisher    notify.Publisher
	logger       *zap.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	workers []*Worker
	wg      sync.WaitGroup
}

func NewPool(name string, q queue.Queue, s store.Store) *Pool {
	return &Pool{
		name:         name,
		queue:        q,
		store:        s,
		handlers:     make(map[task.Category]TaskHandler),
		logger:       zap.NewNop(),
		pollInterval: DefaultPollInterval,
	}
}

func (p *Pool) RegisterHandler(category task.Category, handler TaskHandler) {
	p.handlers[category] = handler
}

func (p *Pool) SetLogger(logger *zap.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

func (p *Pool) SetPublisher(pub notify.Publisher) {
	p.publisher = pub
}

func (p *Pool) SetPollInterval(d time.Duration) {
	if d > 0 {
		p.pollInterval = d
	}
}

// Start launches concurrency[c] workers for each category c. Every category with a
// positive count needs a registered handler.
func (p *Pool) Start(ctx context.Context, concurrency map[task.Category]int) error {
	for c, n := range concurrency {
		if n > 0 && p.handlers[c] == nil {
			return fmt.Errorf("no handler registered for category %s", c)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range task.Categories() {
		for i := 0; i < concurrency[c]; i++ {
			w := NewWorker(fmt.Sprintf("%s-%s-%d", p.name, c, i+1), p.queue, p.store)
			w.RegisterHandler(c, p.handlers[c])
			w.SetPollInterval(p.pollInterval)
			w.SetLogger(p.logger)
			w.SetPublisher(p.publisher)
			p.workers = append(p.workers, w)

			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				w.Start(ctx)
			}()
		}
	}
	return nil
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Stop signals every worker and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	for _, w := range p.workers {
		w.Stop()
	}
	p.mu.Unlock()
	p.wg.Wait()
}
