// Package programcache implements the Program Cache Builder (C4, spec.md
// §4.4): assembles the per-transaction cache of built-in and on-chain
// program entries, consulting the store for anything not already in the
// Account View. The cache is ephemeral (SPEC_FULL.md §9 "arena-allocate
// and drop at end of pipeline").
package programcache

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/accountview"
	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/engine"
	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
	"github.com/web3-fighter/svm-mock-engine/internal/vm"
	"github.com/web3-fighter/svm-mock-engine/internal/vm/builtins"
)

// MemoProgramID is the bundled Memo program's well-known address
// (spec.md §1 "Bundled precompiled token/memo programs").
var MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// nativeLoaders are the addresses a non-built-in program's owner must be
// one of, per spec.md §4.4 step 3.
var nativeLoaders = map[solana.PublicKey]bool{
	solana.MustPublicKeyFromBase58("BPFLoader1111111111111111111111111111111111"): true,
	solana.MustPublicKeyFromBase58("BPFLoader2111111111111111111111111111111111"): true,
	solana.MustPublicKeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111"): true,
}

// Builtins returns the stable registry of native entrypoints seeded into
// every transaction's cache (spec.md §4.4 step 1).
func Builtins() map[solana.PublicKey]vm.BuiltinEntrypoint {
	return map[solana.PublicKey]vm.BuiltinEntrypoint{
		solana.SystemProgramID:                     builtins.System,
		solana.TokenProgramID:                      builtins.Token,
		solana.SPLAssociatedTokenAccountProgramID:   builtins.SplAssociatedTokenAccount,
		MemoProgramID:                               builtins.Memo,
	}
}

// Loader is the minimal store capability the builder needs: a program not
// already present in the Account View is fetched directly from the store
// (spec.md §4.4 step 2 "If not present there, consult the store").
type Loader interface {
	GetAccount(ctx context.Context, t tenant.ID, address solana.PublicKey) (*domain.Account, error)
}

// Build assembles the cache for one transaction's set of referenced
// program ids, in the order programIDs lists them.
func Build(
	ctx context.Context,
	t tenant.ID,
	view *accountview.View,
	loader Loader,
	programIDs []solana.PublicKey,
) (map[solana.PublicKey]vm.CompiledProgram, *engine.ExecError) {
	cache := make(map[solana.PublicKey]vm.CompiledProgram)
	builtinEntries := Builtins()

	for addr, entrypoint := range builtinEntries {
		cache[addr] = vm.CompiledProgram{ProgramID: addr, LoaderVersion: 0, Builtin: entrypoint, Size: 0}
	}

	for _, programID := range programIDs {
		if _, ok := cache[programID]; ok {
			continue // already a built-in
		}

		programAcc, err := resolveAccount(ctx, t, view, loader, programID)
		if err != nil {
			return nil, engine.NewPostFee(engine.KindProgramAccountNotFound, fmt.Sprintf("program %s: %v", programID, err), err)
		}
		if programAcc.IsAbsent() {
			return nil, engine.NewPostFee(engine.KindProgramAccountNotFound, fmt.Sprintf("program %s not found", programID), nil)
		}
		if !programAcc.Executable {
			return nil, engine.NewPostFee(engine.KindInvalidProgramForExecution, fmt.Sprintf("program %s is not executable", programID), nil)
		}

		loaderAcc, err := resolveAccount(ctx, t, view, loader, programAcc.Owner)
		if err != nil {
			return nil, engine.NewPostFee(engine.KindInvalidProgramForExecution, fmt.Sprintf("loader %s: %v", programAcc.Owner, err), err)
		}
		if loaderAcc.IsAbsent() || !loaderAcc.Executable || !nativeLoaders[programAcc.Owner] {
			return nil, engine.NewPostFee(engine.KindInvalidProgramForExecution, fmt.Sprintf("owner %s is not a recognized native loader", programAcc.Owner), nil)
		}

		cache[programID] = vm.CompiledProgram{
			ProgramID:     programID,
			LoaderVersion: 3, // upgradeable-loader shaped; the interpreter oracle decides how to use it
			Size:          len(programAcc.Data),
		}
	}

	return cache, nil
}

// resolveAccount looks in the view first, then the store, loading any
// store hit into the view's base snapshot so later steps see it without
// a second round trip.
func resolveAccount(
	ctx context.Context,
	t tenant.ID,
	view *accountview.View,
	loader Loader,
	address solana.PublicKey,
) (*domain.Account, error) {
	if acc, ok := view.Get(address); ok {
		if acc == nil {
			return &domain.Account{}, nil
		}
		return acc, nil
	}

	acc, err := loader.GetAccount(ctx, t, address)
	if err != nil {
		if err == storage.ErrNotFound {
			return &domain.Account{}, nil
		}
		return nil, err
	}
	view.LoadIntoBase(address, acc)
	return acc, nil
}
