package builtins

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/token"
	"github.com/web3-fighter/svm-mock-engine/internal/vm"
)

const (
	tokenTransfer        = uint8(3)
	tokenMintTo          = uint8(7)
	tokenTransferChecked = uint8(12)

	// amountOffset is the byte offset of the little-endian u64 amount
	// field within a decoded SPL Token account (mint[32] + owner[32]).
	amountOffset = 64
)

// Token is the native entrypoint for solana.TokenProgramID.
func Token(ctx context.Context, call vm.Call) error {
	if len(call.Instruction.Data) < 1 {
		return fmt.Errorf("token: empty instruction data")
	}
	discriminant := call.Instruction.Data[0]
	body := call.Instruction.Data[1:]

	switch discriminant {
	case tokenTransfer:
		return tokenTransferImpl(call, body)
	case tokenTransferChecked:
		// TransferChecked lists source, mint, destination, owner: drop the
		// mint so the accounts line up with Transfer's. The decimals byte is
		// ignored by the mock.
		checked := call
		checked.Instruction.AccountIndices = append([]int(nil), call.Instruction.AccountIndices...)
		if len(checked.Instruction.AccountIndices) > 1 {
			checked.Instruction.AccountIndices = append(checked.Instruction.AccountIndices[:1], checked.Instruction.AccountIndices[2:]...)
		}
		return tokenTransferImpl(checked, body)
	case tokenMintTo:
		return tokenMintToImpl(call, body)
	default:
		return fmt.Errorf("token: unsupported instruction discriminant %d", discriminant)
	}
}

func tokenTransferImpl(call vm.Call, body []byte) error {
	if len(body) < 8 {
		return fmt.Errorf("token: transfer missing amount field")
	}
	amount := binary.LittleEndian.Uint64(body[:8])

	accounts, err := resolveAccounts(call, 0, 1)
	if err != nil {
		return err
	}
	source, dest := accounts[0], accounts[1]

	srcAcc := call.View.Materialize(source)
	if len(srcAcc.Data) < token.AccountSize {
		return fmt.Errorf("token: source is not a token account")
	}
	srcData, err := token.DecodeAccount(srcAcc.Data)
	if err != nil {
		return err
	}
	if srcData.Amount < amount {
		return customError(1, "insufficient token balance")
	}

	destAcc := call.View.Materialize(dest)
	if len(destAcc.Data) < token.AccountSize {
		return fmt.Errorf("token: destination is not a token account")
	}
	destData, err := token.DecodeAccount(destAcc.Data)
	if err != nil {
		return err
	}
	if !destData.Mint.Equals(srcData.Mint) {
		return customError(3, "mint mismatch between source and destination")
	}

	srcPost := srcAcc.Clone()
	binary.LittleEndian.PutUint64(srcPost.Data[amountOffset:amountOffset+8], srcData.Amount-amount)
	destPost := destAcc.Clone()
	binary.LittleEndian.PutUint64(destPost.Data[amountOffset:amountOffset+8], destData.Amount+amount)

	call.View.Stage(source, srcPost)
	call.View.Stage(dest, destPost)
	call.Logs.Log("Program log: Transfer %d tokens %s -> %s", amount, source, dest)
	return nil
}

func tokenMintToImpl(call vm.Call, body []byte) error {
	if len(body) < 8 {
		return fmt.Errorf("token: mint_to missing amount field")
	}
	amount := binary.LittleEndian.Uint64(body[:8])

	accounts, err := resolveAccounts(call, 0, 1)
	if err != nil {
		return err
	}
	mintKey, destKey := accounts[0], accounts[1]

	mintAcc := call.View.Materialize(mintKey)
	if len(mintAcc.Data) < token.MintSize {
		return fmt.Errorf("token: mint account malformed")
	}
	mintData, err := token.DecodeMint(mintAcc.Data)
	if err != nil {
		return err
	}

	destAcc := call.View.Materialize(destKey)
	if len(destAcc.Data) < token.AccountSize {
		return fmt.Errorf("token: destination is not a token account")
	}
	destData, err := token.DecodeAccount(destAcc.Data)
	if err != nil {
		return err
	}

	mintPost := mintAcc.Clone()
	binary.LittleEndian.PutUint64(mintPost.Data[36:44], mintData.Supply+amount) // supply follows mintAuthorityOption(4)+mintAuthority(32)
	destPost := destAcc.Clone()
	binary.LittleEndian.PutUint64(destPost.Data[amountOffset:amountOffset+8], destData.Amount+amount)

	call.View.Stage(mintKey, mintPost)
	call.View.Stage(destKey, destPost)
	call.Logs.Log("Program log: MintTo %d -> %s", amount, destKey)
	return nil
}

// SplAssociatedTokenAccount is the native entrypoint for
// solana.SPLAssociatedTokenAccountProgramID's Create instruction: it
// derives no addresses itself (the destination ATA is passed explicitly,
// as the caller already computed it via solana.FindAssociatedTokenAddress
// the same way the teacher's CreateUnSignTransaction does), and simply
// initializes it if absent.
func SplAssociatedTokenAccount(ctx context.Context, call vm.Call) error {
	accounts, err := resolveAccounts(call, 0, 1, 2, 3)
	if err != nil {
		return err
	}
	payer, ata, wallet, mint := accounts[0], accounts[1], accounts[2], accounts[3]

	existing := call.View.Materialize(ata)
	if !existing.IsAbsent() {
		call.Logs.Log("Program log: ATA %s already initialized", ata)
		return nil
	}

	rentMin := call.Env.RentOracle.MinimumBalance(token.AccountSize)
	payerAcc := call.View.Materialize(payer)
	if payerAcc.Lamports < rentMin {
		return customError(1, "payer cannot fund rent-exempt ATA")
	}

	data := make([]byte, token.AccountSize)
	copy(data[0:32], mint[:])
	copy(data[32:64], wallet[:])
	data[108] = 1 // state = Initialized (offset: mint32+owner32+amount8+delegateOption4+delegate32=108)

	payerPost := payerAcc.Clone()
	payerPost.Lamports -= rentMin
	call.View.Stage(payer, payerPost)
	call.View.Stage(ata, newAccountWith(rentMin, data, solana.TokenProgramID, false))
	call.Logs.Log("Program log: CreateAssociatedTokenAccount %s wallet=%s mint=%s", ata, wallet, mint)
	return nil
}
