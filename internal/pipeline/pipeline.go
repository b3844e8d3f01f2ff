// Package pipeline implements the Transaction Pipeline (C6, spec.md
// §4.5) and its simulation variant (C9, spec.md §4.8): the end-to-end
// state machine that takes a signed transaction from RECEIVED through
// COMMITTED, consulting every other component in order.
package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/accountview"
	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/engine"
	"github.com/web3-fighter/svm-mock-engine/internal/fee"
	"github.com/web3-fighter/svm-mock-engine/internal/lookup"
	"github.com/web3-fighter/svm-mock-engine/internal/programcache"
	"github.com/web3-fighter/svm-mock-engine/internal/rent"
	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/storage/cache"
	"github.com/web3-fighter/svm-mock-engine/internal/sysvar"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
	"github.com/web3-fighter/svm-mock-engine/internal/vm"
)

// BlockhashFreshness is the window a transaction's recent_blockhash stays
// valid for (spec.md §4.5 step 2, §4.7).
const BlockhashFreshness = 120 * time.Second

// DefaultComputeBudget is the per-transaction compute unit ceiling absent
// an explicit ComputeBudget SetComputeUnitLimit instruction.
const DefaultComputeBudget = 200_000

// ComputeBudgetProgramID is the native program whose instructions adjust
// the compute unit limit and priority fee (spec.md §4.3).
var ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// SanitizedMessage is the pipeline's normalized view of a transaction
// after step 1, shared by the fee calculator, program cache and VM host.
type SanitizedMessage struct {
	Signature                solana.Signature
	AccountKeys               []solana.PublicKey
	IsSigner                  []bool
	IsWritable                []bool
	RecentBlockhash           solana.Hash
	Instructions              []vm.Instruction
	ProgramIndices            map[int]bool
	SignatureCount            int
	PriorityFeeMicroLamports  uint64
	ComputeUnitLimit          uint64
}

// Pipeline wires every component the state machine drives.
type Pipeline struct {
	Store *storage.Tagged
	Cache *cache.Cache // nil is valid: commit still succeeds, just skips pub/sub
	Sysvars *sysvar.Cache
	Rent  *rent.Oracle
	Fee   *fee.Calculator
	VM    *vm.Host
}

func New(store *storage.Tagged, c *cache.Cache, sysvars *sysvar.Cache, rentOracle *rent.Oracle, feeCalc *fee.Calculator, host *vm.Host) *Pipeline {
	return &Pipeline{Store: store, Cache: c, Sysvars: sysvars, Rent: rentOracle, Fee: feeCalc, VM: host}
}

// Execute runs a transaction to completion through COMMITTED (spec.md
// §4.5). A non-chargeable failure returns (nil, err): nothing was
// persisted. A chargeable failure returns a record with Err set, already
// persisted with only the payer's reduced lamports. A success returns a
// fully persisted record with Err nil.
func (p *Pipeline) Execute(ctx context.Context, t tenant.ID, tx *solana.Transaction) (*domain.TransactionRecord, *engine.ExecError) {
	return p.run(ctx, t, tx, true)
}

// SimResult is what Simulate hands back (spec.md §4.8): no account
// mutation, no transaction record, no bus publish ever happens.
type SimResult struct {
	Signature            solana.Signature
	Err                  *engine.ExecError
	Logs                 []string
	ComputeUnitsConsumed uint64
	Fee                  uint64
	AccountKeys          []solana.PublicKey
	PreBalances          []uint64
	PostBalances         []uint64
}

// Simulate runs the same steps through rent-check (step 8) but never
// commits (spec.md §4.8).
func (p *Pipeline) Simulate(ctx context.Context, t tenant.ID, tx *solana.Transaction) (*SimResult, *engine.ExecError) {
	record, err := p.run(ctx, t, tx, false)
	if record == nil && err != nil {
		return nil, err
	}
	sim := &SimResult{
		Signature:            record.Signature,
		Err:                  err,
		Logs:                 record.LogMessages,
		ComputeUnitsConsumed: record.ComputeUnits,
		Fee:                  record.Fee,
		AccountKeys:          keysOf(record.AccountKeys),
		PreBalances:          record.PreBalances,
		PostBalances:         record.PostBalances,
	}
	return sim, err
}

func keysOf(metas []domain.AccountKeyMeta) []solana.PublicKey {
	out := make([]solana.PublicKey, len(metas))
	for i, m := range metas {
		out[i] = m.Pubkey
	}
	return out
}

// run drives steps 1-8 unconditionally and step 9 only when commit is
// true; Simulate reuses everything through step 8.
func (p *Pipeline) run(ctx context.Context, t tenant.ID, tx *solana.Transaction, commit bool) (*domain.TransactionRecord, *engine.ExecError) {
	msg, serr := p.sanitize(ctx, t, tx)
	if serr != nil {
		return nil, serr
	}

	block, err := p.Store.GetBlockByHash(ctx, t, msg.RecentBlockhash)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, engine.NewPreFee(engine.KindBlockhashNotFound, msg.RecentBlockhash.String(), nil)
		}
		return nil, engine.NewPreFee(engine.KindStoreError, err.Error(), err)
	}
	if time.Now().Unix()-block.BlockTime > int64(BlockhashFreshness.Seconds()) {
		return nil, engine.NewPreFee(engine.KindBlockhashTooOld, msg.RecentBlockhash.String(), nil)
	}

	if commit {
		_, err := p.Store.GetTransaction(ctx, t, msg.Signature)
		if err == nil {
			return nil, engine.NewPreFee(engine.KindAlreadyProcessed, msg.Signature.String(), nil)
		}
		if err != storage.ErrNotFound {
			return nil, engine.NewPreFee(engine.KindStoreError, err.Error(), err)
		}
	}

	fetched, err := p.Store.BatchGetAccounts(ctx, t, msg.AccountKeys)
	if err != nil {
		return nil, engine.NewPreFee(engine.KindStoreError, err.Error(), err)
	}
	view := accountview.New(fetched)
	preAccounts := snapshotAccounts(view, msg.AccountKeys)

	charge, cerr := p.Fee.Charge(view, fee.Message{
		AccountKeys:              msg.AccountKeys,
		IsSigner:                 msg.IsSigner,
		IsWritable:               msg.IsWritable,
		ProgramIndices:           msg.ProgramIndices,
		SignatureCount:           msg.SignatureCount,
		PriorityFeeMicroLamports: msg.PriorityFeeMicroLamports,
		PriorityFeeComputeUnits:  msg.ComputeUnitLimit,
	})
	if cerr != nil {
		return nil, asExecErr(cerr) // pre-fee: nothing persisted
	}
	feeDebitedPayer, _ := view.Get(charge.PayerKey)
	feeDebitedPayer = feeDebitedPayer.Clone()

	programIDs := make([]solana.PublicKey, 0, len(msg.ProgramIndices))
	for idx := range msg.ProgramIndices {
		programIDs = append(programIDs, msg.AccountKeys[idx])
	}
	progCache, perr := programcache.Build(ctx, t, view, p.Store, programIDs)
	if perr != nil {
		return p.commitFailure(ctx, t, msg, block, charge, feeDebitedPayer, nil, preAccounts, view, perr, commit)
	}

	env := vm.Environment{
		RecentBlockhash: msg.RecentBlockhash,
		Sysvars:         p.Sysvars,
		RentOracle:      p.Rent,
		ComputeBudget:   msg.ComputeUnitLimit,
	}
	result, verr := p.VM.Execute(ctx, view, msg.AccountKeys, msg.Instructions, progCache, env)
	if verr != nil {
		return p.commitFailure(ctx, t, msg, block, charge, feeDebitedPayer, &result, preAccounts, view, verr, commit)
	}

	if rerr := p.checkRent(view, msg, preAccounts); rerr != nil {
		return p.commitFailure(ctx, t, msg, block, charge, feeDebitedPayer, &result, preAccounts, view, rerr, commit)
	}

	return p.commitSuccess(ctx, t, msg, block, charge, result, preAccounts, view, commit)
}

func asExecErr(err error) *engine.ExecError {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*engine.ExecError); ok {
		return ee
	}
	return engine.NewPreFee(engine.KindStoreError, err.Error(), err)
}

func snapshotAccounts(view *accountview.View, keys []solana.PublicKey) map[solana.PublicKey]*domain.Account {
	out := make(map[solana.PublicKey]*domain.Account, len(keys))
	for _, k := range keys {
		acc, _ := view.Get(k)
		out[k] = acc
	}
	return out
}

func (p *Pipeline) checkRent(view *accountview.View, msg *SanitizedMessage, pre map[solana.PublicKey]*domain.Account) *engine.ExecError {
	for i, key := range msg.AccountKeys {
		if !msg.IsWritable[i] {
			continue
		}
		post, _ := view.Get(key)
		if !p.Rent.CheckTransition(key, pre[key], post) {
			return engine.NewRentError(engine.StagePostFee, i)
		}
	}
	return nil
}

// commitFailure handles steps 8-9's failure branch: chargeable errors
// persist only the payer's fee-debited lamports and a failed record;
// non-chargeable errors (shouldn't occur past fee debit, but handled
// defensively) persist nothing.
func (p *Pipeline) commitFailure(
	ctx context.Context,
	t tenant.ID,
	msg *SanitizedMessage,
	block *domain.Block,
	charge fee.ChargeResult,
	feeDebitedPayer *domain.Account,
	result *vm.Result,
	preAccounts map[solana.PublicKey]*domain.Account,
	view *accountview.View,
	failure *engine.ExecError,
	commit bool,
) (*domain.TransactionRecord, *engine.ExecError) {
	record := buildRecord(msg, block, charge, result, preAccounts, view)
	record.Err = failure

	if !commit || !failure.Chargeable() {
		return record, failure
	}

	if err := p.Store.CommitFailedTransaction(ctx, t, charge.PayerKey, feeDebitedPayer, record); err != nil && err != storage.ErrAlreadyProcessed {
		return record, engine.NewPostFee(engine.KindStoreError, fmt.Sprintf("persisting failed commit: %v", err), err)
	}
	if p.Cache != nil {
		p.Cache.InvalidateAccounts(ctx, t, []solana.PublicKey{charge.PayerKey})
		p.Cache.PublishCommit(ctx, cache.CommitNotification{Tenant: t.String(), Kind: "transaction", Signature: msg.Signature.String(), ErrString: failure.Error(), AccountKeys: keyStrings(msg.AccountKeys)})
	}
	return record, failure
}

func (p *Pipeline) commitSuccess(
	ctx context.Context,
	t tenant.ID,
	msg *SanitizedMessage,
	block *domain.Block,
	charge fee.ChargeResult,
	result vm.Result,
	preAccounts map[solana.PublicKey]*domain.Account,
	view *accountview.View,
	commit bool,
) (*domain.TransactionRecord, *engine.ExecError) {
	record := buildRecord(msg, block, charge, &result, preAccounts, view)
	if !commit {
		return record, nil
	}

	touched := view.Drain()
	writes := make(map[solana.PublicKey]*domain.Account, len(touched))
	addrs := make([]solana.PublicKey, 0, len(touched))
	for _, aa := range touched {
		writes[aa.Address] = aa.Account
		addrs = append(addrs, aa.Address)
	}

	stampBlock, err := p.Store.LatestBlock(ctx, t)
	if err != nil {
		stampBlock = block
	}
	record.Slot = stampBlock.Slot
	if err := p.Store.CommitTransaction(ctx, t, writes, record, stampBlock.Blockhash, msg.Signature); err != nil {
		return record, engine.NewPostFee(engine.KindStoreError, fmt.Sprintf("committing transaction: %v", err), err)
	}

	if p.Cache != nil {
		p.Cache.InvalidateAccounts(ctx, t, addrs)
		p.Cache.PublishCommit(ctx, cache.CommitNotification{Tenant: t.String(), Kind: "transaction", Signature: msg.Signature.String(), Slot: record.Slot, AccountKeys: keyStrings(msg.AccountKeys)})
	}
	return record, nil
}

func keyStrings(keys []solana.PublicKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func buildRecord(msg *SanitizedMessage, block *domain.Block, charge fee.ChargeResult, result *vm.Result, preAccounts map[solana.PublicKey]*domain.Account, view *accountview.View) *domain.TransactionRecord {
	keys := make([]domain.AccountKeyMeta, len(msg.AccountKeys))
	pre := make([]uint64, len(msg.AccountKeys))
	post := make([]uint64, len(msg.AccountKeys))
	for i, k := range msg.AccountKeys {
		keys[i] = domain.AccountKeyMeta{Pubkey: k, Signer: msg.IsSigner[i], Writable: msg.IsWritable[i], Index: i}
		if acc := preAccounts[k]; acc != nil {
			pre[i] = acc.Lamports
		}
		if acc, ok := view.Get(k); ok && acc != nil {
			post[i] = acc.Lamports
		}
	}

	instrs := make([]domain.InstructionMeta, len(msg.Instructions))
	for i, ins := range msg.Instructions {
		instrs[i] = domain.InstructionMeta{ProgramIndex: ins.ProgramIndex, AccountIndices: ins.AccountIndices, Data: ins.Data, StackHeight: ins.StackHeight}
	}

	record := &domain.TransactionRecord{
		Signature:       msg.Signature,
		Slot:            block.Slot,
		RecentBlockhash: msg.RecentBlockhash,
		AccountKeys:     keys,
		Instructions:    instrs,
		Fee:             charge.Fee,
		PreBalances:     pre,
		PostBalances:    post,
	}
	if result != nil {
		record.ComputeUnits = result.ComputeUnitsConsumed
		record.LogMessages = result.Logs
		for _, ii := range result.InnerInstructions {
			record.Instructions = append(record.Instructions, domain.InstructionMeta{
				ProgramIndex:   ii.ProgramIndex,
				AccountIndices: ii.AccountIndices,
				Data:           ii.Data,
				StackHeight:    ii.StackHeight,
				Inner:          true,
			})
		}
	}
	return record
}

// sanitize implements step 1 of spec.md §4.5: signature verification,
// bounds checks, key deduplication and address-table lookup resolution.
func (p *Pipeline) sanitize(ctx context.Context, t tenant.ID, tx *solana.Transaction) (*SanitizedMessage, *engine.ExecError) {
	if tx == nil || len(tx.Signatures) == 0 {
		return nil, engine.NewPreFee(engine.KindSanitizeError, "transaction has no signatures", nil)
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, engine.NewPreFee(engine.KindSanitizeError, fmt.Sprintf("signature verification failed: %v", err), err)
	}

	msg := tx.Message
	header := msg.Header
	staticKeys := msg.AccountKeys
	if len(staticKeys) == 0 {
		return nil, engine.NewPreFee(engine.KindSanitizeError, "message has no account keys", nil)
	}
	if int(header.NumRequiredSignatures) != len(tx.Signatures) || int(header.NumRequiredSignatures) > len(staticKeys) {
		return nil, engine.NewPreFee(engine.KindSanitizeError, "signature count does not match required signer count", nil)
	}

	seen := make(map[solana.PublicKey]bool, len(staticKeys))
	for _, k := range staticKeys {
		if seen[k] {
			return nil, engine.NewPreFee(engine.KindSanitizeError, "duplicate account key", nil)
		}
		seen[k] = true
	}

	var lookups []lookup.Lookup
	for _, l := range msg.AddressTableLookups {
		lookups = append(lookups, lookup.Lookup{
			TableAddress:    l.AccountKey,
			WritableIndexes: l.WritableIndexes,
			ReadonlyIndexes: l.ReadonlyIndexes,
		})
	}
	scratch := accountview.New(nil)
	resolved, lerr := lookup.Resolve(ctx, t, scratch, p.Store, lookups)
	if lerr != nil {
		return nil, lerr
	}

	accountKeys := append([]solana.PublicKey(nil), staticKeys...)
	isSigner := make([]bool, len(staticKeys))
	isWritable := make([]bool, len(staticKeys))
	for i := range staticKeys {
		isSigner[i] = i < int(header.NumRequiredSignatures)
		if isSigner[i] {
			isWritable[i] = i < int(header.NumRequiredSignatures)-int(header.NumReadonlySignedAccounts)
		} else {
			isWritable[i] = i < len(staticKeys)-int(header.NumReadonlyUnsignedAccounts)
		}
	}
	for _, r := range resolved {
		for _, k := range r.Writable {
			if seen[k] {
				return nil, engine.NewPreFee(engine.KindSanitizeError, "lookup resolved a duplicate account key", nil)
			}
			seen[k] = true
			accountKeys = append(accountKeys, k)
			isSigner = append(isSigner, false)
			isWritable = append(isWritable, true)
		}
	}
	for _, r := range resolved {
		for _, k := range r.Readonly {
			if seen[k] {
				return nil, engine.NewPreFee(engine.KindSanitizeError, "lookup resolved a duplicate account key", nil)
			}
			seen[k] = true
			accountKeys = append(accountKeys, k)
			isSigner = append(isSigner, false)
			isWritable = append(isWritable, false)
		}
	}

	programIndices := make(map[int]bool)
	instructions := make([]vm.Instruction, 0, len(msg.Instructions))
	for _, ci := range msg.Instructions {
		if int(ci.ProgramIDIndex) >= len(accountKeys) {
			return nil, engine.NewPreFee(engine.KindSanitizeError, "instruction program index out of range", nil)
		}
		programIndices[int(ci.ProgramIDIndex)] = true
		accIdx := make([]int, len(ci.Accounts))
		for i, a := range ci.Accounts {
			if int(a) >= len(accountKeys) {
				return nil, engine.NewPreFee(engine.KindSanitizeError, "instruction account index out of range", nil)
			}
			accIdx[i] = int(a)
		}
		instructions = append(instructions, vm.Instruction{
			ProgramIndex:   int(ci.ProgramIDIndex),
			AccountIndices: accIdx,
			Data:           []byte(ci.Data),
		})
	}

	microLamports, computeUnitLimit := parseComputeBudget(instructions, accountKeys)

	return &SanitizedMessage{
		Signature:                tx.Signatures[0],
		AccountKeys:              accountKeys,
		IsSigner:                 isSigner,
		IsWritable:               isWritable,
		RecentBlockhash:          msg.RecentBlockhash,
		Instructions:             instructions,
		ProgramIndices:           programIndices,
		SignatureCount:           len(tx.Signatures),
		PriorityFeeMicroLamports: microLamports,
		ComputeUnitLimit:         computeUnitLimit,
	}, nil
}

// parseComputeBudget scans for ComputeBudget111... instructions setting
// the compute unit limit (discriminant 2) or price (discriminant 3),
// matching the reference chain's compute-budget program instruction
// layout.
func parseComputeBudget(instructions []vm.Instruction, accountKeys []solana.PublicKey) (microLamports uint64, computeUnitLimit uint64) {
	computeUnitLimit = DefaultComputeBudget
	for _, ins := range instructions {
		if ins.ProgramIndex >= len(accountKeys) || !accountKeys[ins.ProgramIndex].Equals(ComputeBudgetProgramID) {
			continue
		}
		if len(ins.Data) == 0 {
			continue
		}
		switch ins.Data[0] {
		case 2:
			if len(ins.Data) >= 5 {
				computeUnitLimit = uint64(binary.LittleEndian.Uint32(ins.Data[1:5]))
			}
		case 3:
			if len(ins.Data) >= 9 {
				microLamports = binary.LittleEndian.Uint64(ins.Data[1:9])
			}
		}
	}
	return
}
