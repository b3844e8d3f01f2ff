// Package token decodes the bundled SPL Token program's on-chain account
// layouts (mint and token account), supplementing the RPC methods that
// need them (getTokenAccountBalance, getTokenAccountsByOwner,
// getTokenSupply — spec.md §6, fleshed out from
// original_source/src/engine/tokens.rs).
package token

import (
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const (
	MintSize    = 82
	AccountSize = 165
)

// AccountState mirrors the SPL Token account state byte.
type AccountState uint8

const (
	StateUninitialized AccountState = iota
	StateInitialized
	StateFrozen
)

// Mint is the decoded SPL Token mint account layout.
type Mint struct {
	MintAuthorityOption uint32
	MintAuthority       solana.PublicKey
	Supply              uint64
	Decimals            uint8
	IsInitialized       bool
	FreezeAuthOption    uint32
	FreezeAuthority     solana.PublicKey
}

// Account is the decoded SPL Token account layout.
type Account struct {
	Mint            solana.PublicKey
	Owner           solana.PublicKey
	Amount          uint64
	DelegateOption  uint32
	Delegate        solana.PublicKey
	State           AccountState
	IsNativeOption  uint32
	IsNative        uint64
	DelegatedAmount uint64
	CloseAuthOption uint32
	CloseAuthority  solana.PublicKey
}

// DecodeMint parses raw account data as an SPL Token mint.
func DecodeMint(data []byte) (*Mint, error) {
	if len(data) < MintSize {
		return nil, fmt.Errorf("token: mint data too short: %d < %d", len(data), MintSize)
	}
	dec := bin.NewBinDecoder(data)
	var m Mint
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("token: decode mint: %w", err)
	}
	return &m, nil
}

// DecodeAccount parses raw account data as an SPL Token account.
func DecodeAccount(data []byte) (*Account, error) {
	if len(data) < AccountSize {
		return nil, fmt.Errorf("token: account data too short: %d < %d", len(data), AccountSize)
	}
	dec := bin.NewBinDecoder(data)
	var a Account
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("token: decode account: %w", err)
	}
	return &a, nil
}

// UIAmount renders a raw integer amount at the mint's decimals precision
// using exact decimal arithmetic (replacing the teacher's float-based
// math.Pow10 conversion, see SPEC_FULL.md §3 domain stack table).
func UIAmount(amount uint64, decimals uint8) decimal.Decimal {
	raw := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0)
	scale := decimal.New(1, int32(decimals))
	return raw.DivRound(scale, int32(decimals)+2)
}
