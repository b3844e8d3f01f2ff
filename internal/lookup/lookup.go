// Package lookup implements the Address Lookup Loader (C10, spec.md
// §4.9): resolving versioned-message address-table lookups against the
// tenant's account store, the same way programcache resolves program
// accounts — view first, store second.
package lookup

import (
	"context"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/accountview"
	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/engine"
	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

// ProgramID is the native address-lookup-table program's well-known
// address; a table account must be owned by it to resolve.
var ProgramID = solana.MustPublicKeyFromBase58("AddressLookupTab1e1111111111111111111111111")

// lookupTableMeta mirrors the on-chain table header (22 bytes: a u32
// discriminator, deactivation slot, last-extended slot, an authority
// option flag). The active address list follows as raw 32-byte keys and
// is decoded separately since it isn't a fixed-size struct field.
type lookupTableMeta struct {
	TypeIndex              uint32
	DeactivationSlot       uint64
	LastExtendedSlot       uint64
	LastExtendedSlotOffset uint8
	AuthorityOption        uint8
}

const tableMetaSize = 4 + 8 + 8 + 1 + 1 + 1 // + padding byte before the key list

// Lookup is one versioned-message address_table_lookups entry: the table
// account plus the indices this transaction selects from it.
type Lookup struct {
	TableAddress    solana.PublicKey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// Resolved is the writable/readonly account key expansion yielded for one
// lookup (spec.md §4.9).
type Resolved struct {
	Writable []solana.PublicKey
	Readonly []solana.PublicKey
}

// Loader is the minimal store capability needed to fetch a table account
// not already present in the view.
type Loader interface {
	GetAccount(ctx context.Context, t tenant.ID, address solana.PublicKey) (*domain.Account, error)
}

// Resolve expands every lookup against the tenant's stored tables,
// loading any table not already present in the view into its base
// snapshot so later pipeline steps see it without a second round trip.
func Resolve(ctx context.Context, t tenant.ID, view *accountview.View, loader Loader, lookups []Lookup) ([]Resolved, *engine.ExecError) {
	out := make([]Resolved, 0, len(lookups))
	for _, l := range lookups {
		resolved, err := resolveOne(ctx, t, view, loader, l)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func resolveOne(ctx context.Context, t tenant.ID, view *accountview.View, loader Loader, l Lookup) (Resolved, *engine.ExecError) {
	tableAcc, ok := view.Get(l.TableAddress)
	if !ok {
		var err error
		tableAcc, err = loader.GetAccount(ctx, t, l.TableAddress)
		if err != nil {
			if err == storage.ErrNotFound {
				return Resolved{}, engine.NewPreFee(engine.KindAddressLookupTableNotFound, l.TableAddress.String(), nil)
			}
			return Resolved{}, engine.NewPreFee(engine.KindAddressLookupTableNotFound, fmt.Sprintf("%s: %v", l.TableAddress, err), err)
		}
		view.LoadIntoBase(l.TableAddress, tableAcc)
	}
	if tableAcc.IsAbsent() {
		return Resolved{}, engine.NewPreFee(engine.KindAddressLookupTableNotFound, l.TableAddress.String(), nil)
	}
	if !tableAcc.Owner.Equals(ProgramID) {
		return Resolved{}, engine.NewPreFee(engine.KindInvalidAddressLookupTableData, fmt.Sprintf("%s not owned by the lookup table program", l.TableAddress), nil)
	}

	keys, err := decodeAddresses(tableAcc.Data)
	if err != nil {
		return Resolved{}, engine.NewPreFee(engine.KindInvalidAddressLookupTableData, fmt.Sprintf("%s: %v", l.TableAddress, err), err)
	}

	resolved := Resolved{
		Writable: make([]solana.PublicKey, 0, len(l.WritableIndexes)),
		Readonly: make([]solana.PublicKey, 0, len(l.ReadonlyIndexes)),
	}
	for _, idx := range l.WritableIndexes {
		if int(idx) >= len(keys) {
			return Resolved{}, engine.NewPreFee(engine.KindInvalidAddressLookupTableData, fmt.Sprintf("%s: writable index %d out of range", l.TableAddress, idx), nil)
		}
		resolved.Writable = append(resolved.Writable, keys[idx])
	}
	for _, idx := range l.ReadonlyIndexes {
		if int(idx) >= len(keys) {
			return Resolved{}, engine.NewPreFee(engine.KindInvalidAddressLookupTableData, fmt.Sprintf("%s: readonly index %d out of range", l.TableAddress, idx), nil)
		}
		resolved.Readonly = append(resolved.Readonly, keys[idx])
	}
	return resolved, nil
}

// decodeAddresses parses the fixed-size header via gagliardetto/binary and
// then reads the variable-length trailing key list directly, mirroring
// the table layout used by the reference chain's account-compression
// program (header, one padding byte, then N 32-byte keys).
func decodeAddresses(data []byte) ([]solana.PublicKey, error) {
	if len(data) < tableMetaSize {
		return nil, fmt.Errorf("lookup table data too short: %d bytes", len(data))
	}
	var meta lookupTableMeta
	decoder := bin.NewBinDecoder(data[:tableMetaSize])
	if err := decoder.Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode table header: %w", err)
	}

	body := data[tableMetaSize:]
	if len(body)%32 != 0 {
		return nil, fmt.Errorf("lookup table address list not a multiple of 32 bytes: %d", len(body))
	}
	count := len(body) / 32
	keys := make([]solana.PublicKey, count)
	for i := 0; i < count; i++ {
		copy(keys[i][:], body[i*32:(i+1)*32])
	}
	return keys, nil
}
