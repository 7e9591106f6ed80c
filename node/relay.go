package node

import (
	"context"
	"sync"

	"github.com/SipengXie/safecore/executor"
	"github.com/go-faster/errors"
	"github.com/ledgerwatch/log/v3"
	"golang.org/x/sync/errgroup"
)

// Relay restores the pending sets of every served wallet and executes sets
// as soon as they reach their threshold.
type Relay struct {
	node   *Node
	coord  *executor.Coordinator
	logger log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewRelay(n *Node) *Relay {
	logger := n.logger.New("service", "relay")
	return &Relay{
		node:   n,
		coord:  executor.NewCoordinator(n.ledger, n.config.Executor, logger),
		logger: logger,
	}
}

func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrNodeRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	r.cancel, r.group = cancel, group

	// 恢复与执行在同一 goroutine 中，Run 启动时会执行已满足阈值的集合
	group.Go(func() error {
		r.restore(ctx)
		return r.coord.Run(ctx, r.node.pool)
	})
	r.logger.Info("Relay started", "safes", len(r.node.safes))
	return nil
}

// restore tracks the stored sets of every served wallet. Satisfied ones are
// executed when the coordinator loop starts.
func (r *Relay) restore(ctx context.Context) {
	for _, s := range r.node.Safes() {
		n, err := s.LoadPending(ctx)
		if err != nil {
			r.logger.Warn("Failed to restore pending transactions", "safe", s.Address(), "err", err)
		}
		if n > 0 {
			r.logger.Info("Restored pending transactions", "safe", s.Address(), "count", n)
		}
	}
}

func (r *Relay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	err := r.group.Wait()
	r.cancel, r.group = nil, nil
	r.logger.Info("Relay stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
