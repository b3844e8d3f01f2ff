// Package cache implements the read-through account cache (blocks are
// written with CacheBlock but have no read-through method) and the
// commit-notification bus described in SPEC_FULL.md §3 "Domain Stack":
// both ride the same redis-go client, matching the spec's description of
// cache and bus as one shared piece of infrastructure.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

const (
	accountTTL = 30 * time.Second
	blockTTL   = 10 * time.Second

	// CommitChannel is the pub/sub channel blockproducer and the pipeline
	// publish to on every committed transaction/block, fanning out to the
	// websocket subscription server.
	CommitChannel = "svm-engine:commits"
)

// Cache wraps a redis client as a read-through layer in front of a
// storage.Store. Failures are non-fatal (storage.CacheError, spec.md §7);
// callers fall back to the underlying store.
type Cache struct {
	rdb   *redis.Client
	store storage.Store
}

func New(rdb *redis.Client, store storage.Store) *Cache {
	return &Cache{rdb: rdb, store: store}
}

func Connect(cacheURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(cacheURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse CACHE_URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

func accountKey(t tenant.ID, address solana.PublicKey) string {
	return fmt.Sprintf("acct:%s:%s", t.String(), address.String())
}

func blockKey(t tenant.ID, slot uint64) string {
	return fmt.Sprintf("block:%s:%d", t.String(), slot)
}

type wireAccount struct {
	Lamports   uint64 `json:"lamports"`
	Data       []byte `json:"data"`
	Owner      string `json:"owner"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rent_epoch"`
	Label      string `json:"label,omitempty"`
}

func toWire(a *domain.Account) wireAccount {
	return wireAccount{Lamports: a.Lamports, Data: a.Data, Owner: a.Owner.String(), Executable: a.Executable, RentEpoch: a.RentEpoch, Label: a.Label}
}

func fromWire(w wireAccount) *domain.Account {
	return &domain.Account{
		Lamports:   w.Lamports,
		Data:       w.Data,
		Owner:      solana.MustPublicKeyFromBase58(w.Owner),
		Executable: w.Executable,
		RentEpoch:  w.RentEpoch,
		Label:      w.Label,
	}
}

// GetAccount tries the cache first, falling back to the store on a miss
// or a cache error, and repopulates the cache on a store hit.
func (c *Cache) GetAccount(ctx context.Context, t tenant.ID, address solana.PublicKey) (*domain.Account, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, accountKey(t, address)).Bytes()
		if err == nil {
			var w wireAccount
			if jsonErr := json.Unmarshal(raw, &w); jsonErr == nil {
				return fromWire(w), nil
			}
		} else if err != redis.Nil {
			log.Warn("cache: account get failed, falling back to store", "err", err)
		}
	}

	acc, err := c.store.GetAccount(ctx, t, address)
	if err != nil {
		return nil, err
	}
	c.putAccount(ctx, t, address, acc)
	return acc, nil
}

func (c *Cache) putAccount(ctx context.Context, t tenant.ID, address solana.PublicKey, acc *domain.Account) {
	if c.rdb == nil || acc == nil {
		return
	}
	raw, err := json.Marshal(toWire(acc))
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, accountKey(t, address), raw, accountTTL).Err(); err != nil {
		log.Warn("cache: account set failed", "err", err)
	}
}

// InvalidateAccounts drops cached entries for accounts the pipeline just
// wrote, so the next read observes the committed state rather than a
// stale cached copy.
func (c *Cache) InvalidateAccounts(ctx context.Context, t tenant.ID, addresses []solana.PublicKey) {
	if c.rdb == nil || len(addresses) == 0 {
		return
	}
	keys := make([]string, len(addresses))
	for i, a := range addresses {
		keys[i] = accountKey(t, a)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Warn("cache: invalidate failed", "err", err)
	}
}

// CacheBlock stores a just-produced block for fast repeated lookups
// within the freshness window (spec.md block producer section).
func (c *Cache) CacheBlock(ctx context.Context, t tenant.ID, block *domain.Block) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(block)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, blockKey(t, block.Slot), raw, blockTTL).Err(); err != nil {
		log.Warn("cache: block set failed", "err", err)
	}
}

// CommitNotification is published on CommitChannel whenever a transaction
// or block commits, for the websocket server to fan out to subscribers.
type CommitNotification struct {
	Tenant      string   `json:"tenant"`
	Kind        string   `json:"kind"` // "transaction" | "block"
	Signature   string   `json:"signature,omitempty"`
	Slot        uint64   `json:"slot,omitempty"`
	ErrString   string   `json:"err,omitempty"`
	AccountKeys []string `json:"accountKeys,omitempty"` // transaction kind only: logsSubscribe "mentions" filtering
}

// PublishCommit fans out a commit notification over redis pub/sub. A
// publish failure is logged and swallowed: it must never fail the
// transaction that already committed.
func (c *Cache) PublishCommit(ctx context.Context, note CommitNotification) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(note)
	if err != nil {
		return
	}
	if err := c.rdb.Publish(ctx, CommitChannel, raw).Err(); err != nil {
		log.Warn("cache: publish commit notification failed", "err", err)
	}
}

// Subscribe returns a redis pub/sub handle for the websocket server to
// range over for CommitNotification deliveries.
func (c *Cache) Subscribe(ctx context.Context) *redis.PubSub {
	return c.rdb.Subscribe(ctx, CommitChannel)
}
