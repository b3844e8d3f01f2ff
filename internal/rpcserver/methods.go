package rpcserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/web3-fighter/svm-mock-engine/internal/airdrop"
	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/engine"
	"github.com/web3-fighter/svm-mock-engine/internal/fee"
	"github.com/web3-fighter/svm-mock-engine/internal/pipeline"
	"github.com/web3-fighter/svm-mock-engine/internal/rent"
	"github.com/web3-fighter/svm-mock-engine/internal/serializer"
	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
	"github.com/web3-fighter/svm-mock-engine/internal/token"
)

// Engine bundles the components the JSON-RPC methods dispatch into.
// sendTransaction and requestAirdrop run through Serializer so that two
// submissions against the same tenant never execute concurrently
// (spec.md §4.6); every other method only reads the store and may run
// directly on the HTTP goroutine.
type Engine struct {
	Store      *storage.Tagged
	Pipe       *pipeline.Pipeline
	Fee        *fee.Calculator
	Rent       *rent.Oracle
	Serializer *serializer.Serializer
}

// submitResult is what a serialized pipeline job reports back to the
// waiting RPC handler.
type submitResult struct {
	record *domain.TransactionRecord
	err    *engine.ExecError
}

// runSerialized submits fn to t's per-tenant worker and blocks for its
// outcome, so the HTTP handler still returns synchronously even though
// the actual execution happens on the serializer's worker goroutine
// (spec.md §4.6 "at most one in-flight execution per tenant").
func runSerialized(ctx context.Context, s *serializer.Serializer, t tenant.ID, fn func(ctx context.Context) (*domain.TransactionRecord, *engine.ExecError)) (*domain.TransactionRecord, *engine.ExecError) {
	results := make(chan submitResult, 1)
	s.Submit(ctx, t, func(jobCtx context.Context) {
		record, err := fn(jobCtx)
		results <- submitResult{record: record, err: err}
	})
	select {
	case res := <-results:
		return res.record, res.err
	case <-ctx.Done():
		return nil, engine.NewPreFee(engine.KindStoreError, "request cancelled before execution completed", ctx.Err())
	}
}

func internalErr(err error) *RPCError {
	return &RPCError{Code: -32000, Message: err.Error()}
}

func invalidParams(msg string) *RPCError {
	return &RPCError{Code: -32602, Message: msg}
}

func decodeArray(params json.RawMessage) ([]json.RawMessage, *RPCError) {
	var arr []json.RawMessage
	if len(params) == 0 {
		return arr, nil
	}
	if err := json.Unmarshal(params, &arr); err != nil {
		return nil, invalidParams("params must be a JSON array")
	}
	return arr, nil
}

// pubkeyFromBase58, hashFromBase58 and signatureFromBase58 decode the
// base58 text every RPC param that names an address, blockhash or
// signature arrives as, going straight through mr-tron/base58 rather than
// solana-go's own *FromBase58 wrappers so the engine controls the decode
// step (and its error messages) at the one place params cross the wire.
func pubkeyFromBase58(s string) (solana.PublicKey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if len(b) != 32 {
		return solana.PublicKey{}, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	return solana.PublicKeyFromBytes(b), nil
}

func hashFromBase58(s string) (solana.Hash, error) {
	pk, err := pubkeyFromBase58(s)
	if err != nil {
		return solana.Hash{}, err
	}
	return solana.Hash(pk), nil
}

func signatureFromBase58(s string) (solana.Signature, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return solana.Signature{}, err
	}
	if len(b) != 64 {
		return solana.Signature{}, fmt.Errorf("expected 64 bytes, got %d", len(b))
	}
	var sig solana.Signature
	copy(sig[:], b)
	return sig, nil
}

func decodePubkey(raw json.RawMessage) (solana.PublicKey, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return solana.PublicKey{}, invalidParams("expected a base58 pubkey string")
	}
	pk, err := pubkeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, invalidParams("malformed pubkey: " + err.Error())
	}
	return pk, nil
}

func accountJSON(acc *domain.Account) interface{} {
	if acc == nil || acc.IsAbsent() {
		return nil
	}
	return map[string]interface{}{
		"lamports":   acc.Lamports,
		"owner":      acc.Owner.String(),
		"executable": acc.Executable,
		"rentEpoch":  acc.RentEpoch,
		"data":       []string{base64.StdEncoding.EncodeToString(acc.Data), "base64"},
	}
}

// Methods builds the dispatch table for every RPC method spec.md §6 lists
// by name.
func Methods(e *Engine) map[string]MethodFunc {
	return map[string]MethodFunc{
		"getAccountInfo":                  e.getAccountInfo,
		"getBalance":                      e.getBalance,
		"getMultipleAccounts":             e.getMultipleAccounts,
		"getProgramAccounts":              e.getProgramAccounts,
		"getLatestBlockhash":              e.getLatestBlockhash,
		"isBlockhashValid":                e.isBlockhashValid,
		"getBlockHeight":                  e.getBlockHeight,
		"getBlock":                        e.getBlock,
		"getBlockTime":                    e.getBlockTime,
		"getBlockCommitment":              e.getBlockCommitment,
		"getFeeForMessage":                e.getFeeForMessage,
		"getMinimumBalanceForRentExemption": e.getMinimumBalanceForRentExemption,
		"getSignatureStatuses":            e.getSignatureStatuses,
		"getSignaturesForAddress":         e.getSignaturesForAddress,
		"getTransaction":                  e.getTransaction,
		"getTransactionCount":             e.getTransactionCount,
		"getTokenAccountBalance":          e.getTokenAccountBalance,
		"getTokenAccountsByOwner":         e.getTokenAccountsByOwner,
		"getTokenSupply":                  e.getTokenSupply,
		"requestAirdrop":                  e.requestAirdrop,
		"sendTransaction":                 e.sendTransaction,
		"simulateTransaction":             e.simulateTransaction,
		"getGenesisHash":                  e.getGenesisHash,
		"getIdentity":                     e.getIdentity,
	}
}

func (e *Engine) getAccountInfo(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getAccountInfo requires a pubkey")
	}
	pk, perr := decodePubkey(arr[0])
	if perr != nil {
		return nil, perr
	}
	acc, err := e.Store.GetAccount(r.Context(), t, pk)
	if err != nil && err != storage.ErrNotFound {
		return nil, internalErr(err)
	}
	return map[string]interface{}{"context": contextSlot(r.Context(), e, t), "value": accountJSON(acc)}, nil
}

func (e *Engine) getBalance(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getBalance requires a pubkey")
	}
	pk, perr := decodePubkey(arr[0])
	if perr != nil {
		return nil, perr
	}
	acc, err := e.Store.GetAccount(r.Context(), t, pk)
	if err != nil && err != storage.ErrNotFound {
		return nil, internalErr(err)
	}
	var lamports uint64
	if acc != nil {
		lamports = acc.Lamports
	}
	return map[string]interface{}{"context": contextSlot(r.Context(), e, t), "value": lamports}, nil
}

func (e *Engine) getMultipleAccounts(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getMultipleAccounts requires an array of pubkeys")
	}
	var keyStrings []string
	if err := json.Unmarshal(arr[0], &keyStrings); err != nil {
		return nil, invalidParams("expected an array of base58 pubkeys")
	}
	keys := make([]solana.PublicKey, len(keyStrings))
	for i, s := range keyStrings {
		pk, err := pubkeyFromBase58(s)
		if err != nil {
			return nil, invalidParams("malformed pubkey: " + err.Error())
		}
		keys[i] = pk
	}
	accounts, err := e.Store.BatchGetAccounts(r.Context(), t, keys)
	if err != nil {
		return nil, internalErr(err)
	}
	values := make([]interface{}, len(keys))
	for i, k := range keys {
		values[i] = accountJSON(accounts[k])
	}
	return map[string]interface{}{"context": contextSlot(r.Context(), e, t), "value": values}, nil
}

func (e *Engine) getProgramAccounts(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getProgramAccounts requires a program pubkey")
	}
	owner, perr := decodePubkey(arr[0])
	if perr != nil {
		return nil, perr
	}
	accounts, err := e.Store.ProgramAccounts(r.Context(), t, owner)
	if err != nil {
		return nil, internalErr(err)
	}
	out := make([]interface{}, 0, len(accounts))
	for addr, acc := range accounts {
		out = append(out, map[string]interface{}{"pubkey": addr.String(), "account": accountJSON(acc)})
	}
	return out, nil
}

func (e *Engine) getLatestBlockhash(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	block, err := e.Store.LatestBlock(r.Context(), t)
	if err != nil {
		return nil, internalErr(err)
	}
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": block.Slot},
		"value":   map[string]interface{}{"blockhash": block.Blockhash.String(), "lastValidBlockHeight": block.BlockHeight},
	}, nil
}

func (e *Engine) isBlockhashValid(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("isBlockhashValid requires a blockhash")
	}
	var s string
	if err := json.Unmarshal(arr[0], &s); err != nil {
		return nil, invalidParams("expected a base58 blockhash string")
	}
	hash, err := hashFromBase58(s)
	if err != nil {
		return nil, invalidParams("malformed blockhash: " + err.Error())
	}
	block, serr := e.Store.GetBlockByHash(r.Context(), t, hash)
	valid := serr == nil && time.Now().Unix()-block.BlockTime <= int64(pipeline.BlockhashFreshness.Seconds())
	return map[string]interface{}{"context": contextSlot(r.Context(), e, t), "value": valid}, nil
}

func (e *Engine) getBlockHeight(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	block, err := e.Store.LatestBlock(r.Context(), t)
	if err != nil {
		return nil, internalErr(err)
	}
	return block.BlockHeight, nil
}

func (e *Engine) getBlock(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getBlock requires a slot")
	}
	var slot uint64
	if err := json.Unmarshal(arr[0], &slot); err != nil {
		return nil, invalidParams("expected a slot number")
	}
	block, err := e.Store.GetBlockBySlot(r.Context(), t, slot)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, internalErr(err)
	}
	sigs := make([]string, len(block.Signatures))
	for i, s := range block.Signatures {
		sigs[i] = s.String()
	}
	return map[string]interface{}{
		"blockhash":         block.Blockhash.String(),
		"previousBlockhash": block.PreviousBlockhash.String(),
		"parentSlot":        block.ParentSlot,
		"blockHeight":       block.BlockHeight,
		"blockTime":         block.BlockTime,
		"signatures":        sigs,
	}, nil
}

func (e *Engine) getBlockTime(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getBlockTime requires a slot")
	}
	var slot uint64
	if err := json.Unmarshal(arr[0], &slot); err != nil {
		return nil, invalidParams("expected a slot number")
	}
	block, err := e.Store.GetBlockBySlot(r.Context(), t, slot)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, internalErr(err)
	}
	return block.BlockTime, nil
}

func (e *Engine) getBlockCommitment(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	// No fork choice in this engine (spec.md Non-goals): every produced
	// block is immediately final.
	return map[string]interface{}{"commitment": nil, "totalStake": 0}, nil
}

func (e *Engine) getFeeForMessage(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getFeeForMessage requires a base64 message")
	}
	var encoded string
	if err := json.Unmarshal(arr[0], &encoded); err != nil {
		return nil, invalidParams("expected a base64-encoded message")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, invalidParams("malformed base64 message: " + err.Error())
	}
	var msg solana.Message
	if err := bin.NewBinDecoder(raw).Decode(&msg); err != nil {
		return nil, invalidParams("malformed message: " + err.Error())
	}
	feeMsg := fee.Message{SignatureCount: int(msg.Header.NumRequiredSignatures)}
	return map[string]interface{}{"context": contextSlot(r.Context(), e, t), "value": e.Fee.Compute(feeMsg)}, nil
}

func (e *Engine) getMinimumBalanceForRentExemption(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	var dataLen uint64
	if len(arr) >= 1 {
		if err := json.Unmarshal(arr[0], &dataLen); err != nil {
			return nil, invalidParams("expected a data length")
		}
	}
	return e.Rent.MinimumBalance(int(dataLen)), nil
}

func (e *Engine) getSignatureStatuses(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getSignatureStatuses requires an array of signatures")
	}
	var sigStrings []string
	if err := json.Unmarshal(arr[0], &sigStrings); err != nil {
		return nil, invalidParams("expected an array of base58 signatures")
	}
	out := make([]interface{}, len(sigStrings))
	for i, s := range sigStrings {
		sig, err := signatureFromBase58(s)
		if err != nil {
			return nil, invalidParams("malformed signature: " + err.Error())
		}
		rec, err := e.Store.GetTransaction(r.Context(), t, sig)
		if err != nil {
			out[i] = nil
			continue
		}
		var errVal interface{}
		if rec.Err != nil {
			errVal = rec.Err.Error()
		}
		out[i] = map[string]interface{}{"slot": rec.Slot, "confirmations": nil, "err": errVal, "confirmationStatus": "finalized"}
	}
	return map[string]interface{}{"context": contextSlot(r.Context(), e, t), "value": out}, nil
}

func (e *Engine) getSignaturesForAddress(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getSignaturesForAddress requires a pubkey")
	}
	pk, perr := decodePubkey(arr[0])
	if perr != nil {
		return nil, perr
	}
	limit := 1000
	sigs, err := e.Store.SignaturesForAddress(r.Context(), t, pk, limit)
	if err != nil {
		return nil, internalErr(err)
	}
	out := make([]interface{}, len(sigs))
	for i, s := range sigs {
		out[i] = map[string]interface{}{"signature": s.String()}
	}
	return out, nil
}

func (e *Engine) getTransaction(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getTransaction requires a signature")
	}
	var s string
	if err := json.Unmarshal(arr[0], &s); err != nil {
		return nil, invalidParams("expected a base58 signature")
	}
	sig, err := signatureFromBase58(s)
	if err != nil {
		return nil, invalidParams("malformed signature: " + err.Error())
	}
	rec, err := e.Store.GetTransaction(r.Context(), t, sig)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, internalErr(err)
	}
	return transactionJSON(rec), nil
}

func transactionJSON(rec *domain.TransactionRecord) interface{} {
	var errVal interface{}
	if rec.Err != nil {
		errVal = rec.Err.Error()
	}
	return map[string]interface{}{
		"slot":      rec.Slot,
		"blockTime": nil,
		"meta": map[string]interface{}{
			"err":          errVal,
			"fee":          rec.Fee,
			"preBalances":  rec.PreBalances,
			"postBalances": rec.PostBalances,
			"logMessages":  rec.LogMessages,
			"computeUnitsConsumed": rec.ComputeUnits,
		},
	}
}

func (e *Engine) getTransactionCount(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	count, err := e.Store.TransactionCount(r.Context(), t)
	if err != nil {
		return nil, internalErr(err)
	}
	return count, nil
}

func (e *Engine) tokenAccount(ctx context.Context, t tenant.ID, pk solana.PublicKey) (*token.Account, *RPCError) {
	acc, err := e.Store.GetAccount(ctx, t, pk)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, invalidParams("unknown token account")
		}
		return nil, internalErr(err)
	}
	tok, derr := token.DecodeAccount(acc.Data)
	if derr != nil {
		return nil, invalidParams("not a token account: " + derr.Error())
	}
	return tok, nil
}

func (e *Engine) getTokenAccountBalance(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getTokenAccountBalance requires a pubkey")
	}
	pk, perr := decodePubkey(arr[0])
	if perr != nil {
		return nil, perr
	}
	tok, perr := e.tokenAccount(r.Context(), t, pk)
	if perr != nil {
		return nil, perr
	}
	mintAcc, err := e.Store.GetAccount(r.Context(), t, tok.Mint)
	var decimals uint8
	if err == nil {
		if mint, derr := token.DecodeMint(mintAcc.Data); derr == nil {
			decimals = mint.Decimals
		}
	}
	return map[string]interface{}{"context": contextSlot(r.Context(), e, t), "value": map[string]interface{}{
		"amount": strconv.FormatUint(tok.Amount, 10), "decimals": decimals, "uiAmountString": token.UIAmount(tok.Amount, decimals).String(),
	}}, nil
}

func (e *Engine) getTokenAccountsByOwner(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getTokenAccountsByOwner requires an owner pubkey")
	}
	owner, perr := decodePubkey(arr[0])
	if perr != nil {
		return nil, perr
	}
	accounts, err := e.Store.ProgramAccounts(r.Context(), t, solana.TokenProgramID)
	if err != nil {
		return nil, internalErr(err)
	}
	out := make([]interface{}, 0)
	for addr, acc := range accounts {
		tok, derr := token.DecodeAccount(acc.Data)
		if derr != nil || !tok.Owner.Equals(owner) {
			continue
		}
		out = append(out, map[string]interface{}{"pubkey": addr.String(), "account": accountJSON(acc)})
	}
	return map[string]interface{}{"context": contextSlot(r.Context(), e, t), "value": out}, nil
}

func (e *Engine) getTokenSupply(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("getTokenSupply requires a mint pubkey")
	}
	mintKey, perr := decodePubkey(arr[0])
	if perr != nil {
		return nil, perr
	}
	acc, err := e.Store.GetAccount(r.Context(), t, mintKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, invalidParams("unknown mint")
		}
		return nil, internalErr(err)
	}
	mint, derr := token.DecodeMint(acc.Data)
	if derr != nil {
		return nil, invalidParams("not a mint: " + derr.Error())
	}
	return map[string]interface{}{"context": contextSlot(r.Context(), e, t), "value": map[string]interface{}{
		"amount": strconv.FormatUint(mint.Supply, 10), "decimals": mint.Decimals, "uiAmountString": token.UIAmount(mint.Supply, mint.Decimals).String(),
	}}, nil
}

func (e *Engine) requestAirdrop(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 2 {
		return nil, invalidParams("requestAirdrop requires a pubkey and lamports")
	}
	dest, perr := decodePubkey(arr[0])
	if perr != nil {
		return nil, perr
	}
	var lamports uint64
	if err := json.Unmarshal(arr[1], &lamports); err != nil {
		return nil, invalidParams("expected a lamports amount")
	}
	record, execErr := runSerialized(r.Context(), e.Serializer, t, func(ctx context.Context) (*domain.TransactionRecord, *engine.ExecError) {
		return airdrop.Request(ctx, e.Store, e.Pipe, t, dest, lamports)
	})
	if execErr != nil && record == nil {
		return nil, internalErr(execErr)
	}
	return record.Signature.String(), nil
}

func (e *Engine) sendTransaction(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	tx, perr := decodeTransaction(params)
	if perr != nil {
		return nil, perr
	}
	record, execErr := runSerialized(r.Context(), e.Serializer, t, func(ctx context.Context) (*domain.TransactionRecord, *engine.ExecError) {
		return e.Pipe.Execute(ctx, t, tx)
	})
	if execErr != nil && record == nil {
		return nil, internalErr(execErr)
	}
	return record.Signature.String(), nil
}

func (e *Engine) simulateTransaction(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	tx, perr := decodeTransaction(params)
	if perr != nil {
		return nil, perr
	}
	sim, execErr := e.Pipe.Simulate(r.Context(), t, tx)
	if sim == nil && execErr != nil {
		return nil, internalErr(execErr)
	}
	var errVal interface{}
	if sim.Err != nil {
		errVal = sim.Err.Error()
	}
	return map[string]interface{}{"context": contextSlot(r.Context(), e, t), "value": map[string]interface{}{
		"err": errVal, "logs": sim.Logs, "unitsConsumed": sim.ComputeUnitsConsumed,
	}}, nil
}

func decodeTransaction(params json.RawMessage) (*solana.Transaction, *RPCError) {
	arr, perr := decodeArray(params)
	if perr != nil {
		return nil, perr
	}
	if len(arr) < 1 {
		return nil, invalidParams("a base64-encoded transaction is required")
	}
	var encoded string
	if err := json.Unmarshal(arr[0], &encoded); err != nil {
		return nil, invalidParams("expected a base64-encoded transaction string")
	}
	tx, err := solana.TransactionFromBase64(encoded)
	if err != nil {
		return nil, invalidParams("malformed transaction: " + err.Error())
	}
	return tx, nil
}

func (e *Engine) getGenesisHash(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	rec, err := e.Store.GetTenant(r.Context(), t)
	if err != nil {
		return nil, internalErr(err)
	}
	return rec.GenesisHash.String(), nil
}

func (e *Engine) getIdentity(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError) {
	rec, err := e.Store.GetTenant(r.Context(), t)
	if err != nil {
		return nil, internalErr(err)
	}
	return map[string]interface{}{"identity": rec.AirdropPubkey.String()}, nil
}

func contextSlot(ctx context.Context, e *Engine, t tenant.ID) map[string]interface{} {
	block, err := e.Store.LatestBlock(ctx, t)
	if err != nil {
		return map[string]interface{}{"slot": 0}
	}
	return map[string]interface{}{"slot": block.Slot}
}
