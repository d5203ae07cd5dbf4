package schedule

import (
	"context"
	"log"
	"sync"
	"time"
)

// Poller runs a task on a fixed interval until stopped. A failing run is
// logged and the poller fires again on the next tick.
type Poller struct {
	log      *log.Logger
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	stopped  bool
}

func NewPoller(logger *log.Logger, name string, interval time.Duration, task func(ctx context.Context) error) *Poller {
	return &Poller{
		log:      logger,
		name:     name,
		interval: interval,
		task:     task,
		done:     make(chan struct{}),
	}
}

// Start begins polling in the background. The first run happens one
// interval after Start.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer func() {
		ticker.Stop()
		close(p.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.task(ctx); err != nil && ctx.Err() == nil {
				p.log.Printf("poll %s: %v", p.name, err)
			}
		}
	}
}

// Stop cancels the poller and waits for an in-flight run to return. It is
// safe to call more than once and before Start; a stopped poller cannot be
// restarted.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		if p.started {
			p.cancel()
		} else {
			close(p.done)
		}
	}
	p.mu.Unlock()

	<-p.done
}
