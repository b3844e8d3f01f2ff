// Package blockproducer implements the Block Producer (C8, spec.md
// §4.7): genesis block creation per tenant and periodic/on-demand
// production of new blocks that stamp committed transactions.
package blockproducer

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/storage/cache"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

// ProductionInterval is the nominal age at which the current block is
// rolled over (spec.md §4.7 "≈500 ms nominal").
const ProductionInterval = 500 * time.Millisecond

// Producer maintains, per tenant, the current block and decides when to
// roll it over.
type Producer struct {
	store *storage.Tagged
	cache *cache.Cache // nil is valid

	mu      sync.Mutex
	known   map[tenant.ID]struct{}
	nowFunc func() time.Time
}

func New(store *storage.Tagged, c *cache.Cache) *Producer {
	return &Producer{store: store, cache: c, known: make(map[tenant.ID]struct{}), nowFunc: time.Now}
}

// Genesis inserts the first block for a newly created tenant: block
// height 0, parent slot 0, block time now, a random blockhash.
func (p *Producer) Genesis(ctx context.Context, t tenant.ID) (*domain.Block, error) {
	block := &domain.Block{
		Blockhash:         randomHash(),
		PreviousBlockhash: solana.Hash{},
		ParentSlot:        0,
		BlockHeight:       0,
		Slot:              0,
		BlockTime:         p.nowFunc().Unix(),
	}
	if err := p.store.InsertBlock(ctx, t, block); err != nil {
		return nil, err
	}
	p.register(t)
	if p.cache != nil {
		p.cache.CacheBlock(ctx, t, block)
	}
	return block, nil
}

func (p *Producer) register(t tenant.ID) {
	p.mu.Lock()
	p.known[t] = struct{}{}
	p.mu.Unlock()
}

// ProduceNow unconditionally rolls a new block for t on top of its
// current latest block, for the on-demand test hook (spec.md §4.7).
func (p *Producer) ProduceNow(ctx context.Context, t tenant.ID) (*domain.Block, error) {
	latest, err := p.store.LatestBlock(ctx, t)
	if err != nil {
		return nil, err
	}
	next := &domain.Block{
		Blockhash:         randomHash(),
		PreviousBlockhash: latest.Blockhash,
		ParentSlot:        latest.Slot,
		BlockHeight:       latest.BlockHeight + 1,
		Slot:              latest.Slot + 1,
		BlockTime:         p.nowFunc().Unix(),
	}
	if err := p.store.InsertBlock(ctx, t, next); err != nil {
		return nil, err
	}
	p.register(t)
	if p.cache != nil {
		p.cache.CacheBlock(ctx, t, next)
		p.cache.PublishCommit(ctx, cache.CommitNotification{Tenant: t.String(), Kind: "block", Slot: next.Slot})
	}
	return next, nil
}

// Run polls every known tenant's latest block on interval (ProductionInterval
// if zero) and rolls a new one when it has aged past that window, until ctx
// is cancelled.
func (p *Producer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = ProductionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, interval)
		}
	}
}

func (p *Producer) tick(ctx context.Context, interval time.Duration) {
	p.mu.Lock()
	tenants := make([]tenant.ID, 0, len(p.known))
	for t := range p.known {
		tenants = append(tenants, t)
	}
	p.mu.Unlock()

	for _, t := range tenants {
		latest, err := p.store.LatestBlock(ctx, t)
		if err != nil {
			continue
		}
		if p.nowFunc().Sub(time.Unix(latest.BlockTime, 0)) < interval {
			continue
		}
		if _, err := p.ProduceNow(ctx, t); err != nil {
			log.Error("blockproducer: failed to roll block", "tenant", t, "err", err)
		}
	}
}

func randomHash() solana.Hash {
	var h solana.Hash
	if _, err := rand.Read(h[:]); err != nil {
		log.Error("blockproducer: crypto/rand failed, using zero hash", "err", err)
	}
	return h
}
