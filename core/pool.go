package core

import (
	"hash/maphash"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ledgerwatch/log/v3"
	"github.com/puzpuzpuz/xsync/v2"
)

func hashSafeTxHash(seed maphash.Seed, h common.Hash) uint64 {
	var mh maphash.Hash
	mh.SetSeed(seed)
	mh.Write(h[:])
	return mh.Sum64()
}

// SignaturePool holds the signature sets being collected, keyed by
// transaction hash. Sets of different hashes never share a lock.
type SignaturePool struct {
	sets   *xsync.MapOf[common.Hash, *SignatureSet]
	feed   event.Feed
	scope  event.SubscriptionScope
	logger log.Logger
}

func NewSignaturePool(logger log.Logger) *SignaturePool {
	if logger == nil {
		logger = log.Root()
	}
	return &SignaturePool{
		sets:   xsync.NewTypedMapOf[common.Hash, *SignatureSet](hashSafeTxHash),
		logger: logger,
	}
}

// Track registers set unless a set for the same hash is already tracked;
// the tracked set is returned either way.
func (p *SignaturePool) Track(set *SignatureSet) *SignatureSet {
	actual, loaded := p.sets.LoadOrCompute(set.Hash(), func() *SignatureSet {
		set.feed = &p.feed
		return set
	})
	if !loaded {
		p.logger.Debug("Tracking signature set", "safeTxHash", set.Hash(), "safe", set.Safe())
	}
	return actual
}

func (p *SignaturePool) Get(hash common.Hash) (*SignatureSet, bool) {
	return p.sets.Load(hash)
}

// Remove stops tracking hash, typically after execution.
func (p *SignaturePool) Remove(hash common.Hash) {
	if _, ok := p.sets.LoadAndDelete(hash); ok {
		p.logger.Debug("Dropped signature set", "safeTxHash", hash)
	}
}

func (p *SignaturePool) Len() int {
	return p.sets.Size()
}

// Range calls f for every tracked set until f returns false.
func (p *SignaturePool) Range(f func(hash common.Hash, set *SignatureSet) bool) {
	p.sets.Range(f)
}

// SubscribeSignatureEvents registers a subscription of SignatureEvent for
// every set tracked by the pool.
func (p *SignaturePool) SubscribeSignatureEvents(ch chan<- SignatureEvent) event.Subscription {
	return p.scope.Track(p.feed.Subscribe(ch))
}

// Close unsubscribes all subscribers.
func (p *SignaturePool) Close() {
	p.scope.Close()
}
