// Package sysvar holds the engine-wide, lazily-populated cache of
// synthesised runtime constants (spec.md §5 "Sysvar cache"). It is
// read-only after initialization except through the explicit test-only
// Override hook.
package sysvar

import "sync"

// Clock mirrors the Solana Clock sysvar fields the pipeline needs.
type Clock struct {
	Slot                uint64
	EpochStartTimestamp int64
	Epoch               uint64
	LeaderScheduleEpoch uint64
	UnixTimestamp       int64
}

// Rent mirrors the Rent sysvar: the parameters the Rent Oracle (C2) uses
// to classify accounts (spec.md §4.2).
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
	BurnPercent         uint8
}

// EpochSchedule mirrors the EpochSchedule sysvar.
type EpochSchedule struct {
	SlotsPerEpoch            uint64
	LeaderScheduleSlotOffset uint64
	Warmup                   bool
	FirstNormalEpoch         uint64
	FirstNormalSlot          uint64
}

// EpochRewards and LastRestartSlot and StakeHistory are carried as opaque
// defaults: nothing in this engine's [MODULE] set computes staking
// rewards or tracks cluster restarts, but the sysvar cache must still
// answer reads for them (spec.md §5).
type EpochRewards struct {
	DistributedRewards     uint64
	DistributionStartsAt   uint64
	TotalPoints            uint64
	TotalRewards           uint64
	Active                 bool
}

type LastRestartSlot struct {
	LastRestartSlot uint64
}

type StakeHistoryEntry struct {
	Epoch      uint64
	Effective  uint64
	Activating uint64
}

// Cache is the process-wide sysvar store. One Cache is shared across all
// tenants: sysvars describe the engine's virtual clock, not per-tenant
// state, matching spec.md §5's "per-engine" scoping.
type Cache struct {
	mu            sync.RWMutex
	clock         Clock
	rent          Rent
	epochSchedule EpochSchedule
	epochRewards  EpochRewards
	lastRestart   LastRestartSlot
	stakeHistory  []StakeHistoryEntry
}

// New builds a Cache populated with the defaults a fresh mock cluster
// would report.
func New() *Cache {
	return &Cache{
		clock: Clock{Slot: 0, UnixTimestamp: 0},
		rent: Rent{
			LamportsPerByteYear: 3480,
			ExemptionThreshold:  2.0,
			BurnPercent:         50,
		},
		epochSchedule: EpochSchedule{
			SlotsPerEpoch:    432000,
			FirstNormalEpoch: 0,
			FirstNormalSlot:  0,
		},
	}
}

func (c *Cache) GetClock() Clock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clock
}

func (c *Cache) GetRent() Rent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rent
}

func (c *Cache) GetEpochSchedule() EpochSchedule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochSchedule
}

func (c *Cache) GetEpochRewards() EpochRewards {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochRewards
}

func (c *Cache) GetLastRestartSlot() LastRestartSlot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRestart
}

func (c *Cache) GetStakeHistory() []StakeHistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]StakeHistoryEntry(nil), c.stakeHistory...)
}

// AdvanceClock sets the Clock sysvar's Slot and UnixTimestamp. The Block
// Producer (C8) does not call it: producing a block leaves the clock as is.
func (c *Cache) AdvanceClock(slot uint64, unixTimestamp int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock.Slot = slot
	c.clock.UnixTimestamp = unixTimestamp
}

// Override is a test-only hook (spec.md §9 "wrap in an abstraction that
// exposes ... a test-only override(...)").
func (c *Cache) Override(mutate func(*Cache)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mutate(c)
}

// MinimumBalance computes the rent-exempt minimum lamport balance for an
// account holding dataLen bytes of data, per spec.md §4.2.
func (r Rent) MinimumBalance(dataLen int) uint64 {
	const accountStorageOverhead = 128
	bytesYear := float64(dataLen+accountStorageOverhead) * float64(r.LamportsPerByteYear)
	return uint64(bytesYear * r.ExemptionThreshold)
}
