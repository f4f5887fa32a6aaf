package worker

import (
	"context"
	"sync"

	"github.com/ayo6706/p2p-settlement/internal/observability"
	"github.com/ayo6706/p2p-settlement/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Deliverer sends one committed status change to the merchant.
type Deliverer interface {
	Deliver(ctx context.Context, ev service.Event) error
}

// CallbackPool delivers merchant callbacks on a fixed number of workers fed
// by a bounded queue. It implements service.CallbackQueue.
type CallbackPool struct {
	deliverer Deliverer
	workers   int
	queue     chan service.Event

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewCallbackPool(d Deliverer, workers, queueSize int) *CallbackPool {
	return &CallbackPool{
		deliverer: d,
		workers:   max(workers, 1),
		queue:     make(chan service.Event, max(queueSize, 1)),
		done:      make(chan struct{}),
	}
}

// Enqueue never blocks. A full queue drops the event and reports false.
func (p *CallbackPool) Enqueue(ev service.Event) bool {
	select {
	case p.queue <- ev:
		observability.SetCallbackQueueSize(len(p.queue))
		return true
	default:
		observability.IncrementCallback("dropped")
		zap.L().Error("callback queue full, event dropped",
			zap.String("transaction_id", ev.TransactionID.String()),
			zap.String("status", ev.Status.String()),
		)
		return false
	}
}

// Start blocks until ctx is done and every worker has returned.
func (p *CallbackPool) Start(ctx context.Context) error {
	zap.L().Info("callback pool starting", zap.Int("workers", p.workers), zap.Int("queue", cap(p.queue)))
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(ctx)
			return nil
		})
	}
	err := g.Wait()
	if pending := len(p.queue); pending > 0 {
		zap.L().Warn("callback pool stopped with pending events", zap.Int("pending", pending))
	}
	return err
}

// Run starts the pool in a goroutine and returns a function that stops it
// and waits for in-flight deliveries to return.
func (p *CallbackPool) Run(ctx context.Context) func() {
	ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		defer close(p.done)
		_ = p.Start(ctx)
	}()
	return p.Stop
}

func (p *CallbackPool) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
	})
}

func (p *CallbackPool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			observability.SetCallbackQueueSize(len(p.queue))
			if err := p.deliverer.Deliver(ctx, ev); err != nil {
				zap.L().Warn("callback delivery failed",
					zap.String("transaction_id", ev.TransactionID.String()),
					zap.String("status", ev.Status.String()),
					zap.Error(err),
				)
			}
		}
	}
}

var _ service.CallbackQueue = (*CallbackPool)(nil)
