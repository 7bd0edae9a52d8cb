package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// MemoProgramID is the SPL memo program; anchors are plain memo instructions
// signed by the payer.
var MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKd9UzDvkdhp6H33Zi5eYAzRCKD8dk8")

type SolanaBackend struct {
	RpcClient  *rpc.Client
	Payer      solana.PrivateKey
	Commitment rpc.CommitmentType
}

func NewSolanaBackend(endpoint string, payer solana.PrivateKey) *SolanaBackend {
	return &SolanaBackend{
		RpcClient:  rpc.New(endpoint),
		Payer:      payer,
		Commitment: rpc.CommitmentFinalized,
	}
}

// LoadSolanaPayer reads a solana-keygen JSON keypair file.
func LoadSolanaPayer(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load payer keypair: %w", err)
	}
	return key, nil
}

func (sb *SolanaBackend) Name() string { return "solana" }

func (sb *SolanaBackend) Submit(ctx context.Context, memo []byte) (string, error) {
	payer := sb.Payer.PublicKey()

	latest, err := sb.RpcClient.GetLatestBlockhash(ctx, sb.Commitment)
	if err != nil {
		return "", sb.wrap(err)
	}

	memoInstruction := solana.NewInstruction(
		MemoProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(payer, false, true)},
		memo,
	)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{memoInstruction},
		latest.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return "", fmt.Errorf("%w: build transaction: %v", ErrRejected, err)
	}

	_, err = tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(payer) {
			return &sb.Payer
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: sign transaction: %v", ErrRejected, err)
	}

	sig, err := sb.RpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: sb.Commitment,
	})
	if err != nil {
		return "", sb.wrap(err)
	}
	return sig.String(), nil
}

func (sb *SolanaBackend) Status(ctx context.Context, txRef string) (TxStatus, error) {
	sig, err := solana.SignatureFromBase58(txRef)
	if err != nil {
		return StatusFailed, nil
	}

	out, err := sb.RpcClient.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return "", sb.wrap(err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return StatusPending, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return StatusFailed, nil
	}
	if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
		return StatusConfirmed, nil
	}
	return StatusPending, nil
}

func (sb *SolanaBackend) Fetch(ctx context.Context, txRef string) ([]byte, error) {
	sig, err := solana.SignatureFromBase58(txRef)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature %q", ErrNotAnchored, txRef)
	}

	maxVersion := uint64(0)
	out, err := sb.RpcClient.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Transaction == nil)) {
		return nil, ErrNotAnchored
	}
	if err != nil {
		return nil, sb.wrap(err)
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %v", ErrForeignAnchor, err)
	}
	for _, ix := range tx.Message.Instructions {
		programID, err := tx.Message.ResolveProgramIDIndex(ix.ProgramIDIndex)
		if err != nil {
			continue
		}
		if programID.Equals(MemoProgramID) {
			return []byte(ix.Data), nil
		}
	}
	return nil, fmt.Errorf("%w: no memo instruction in %s", ErrForeignAnchor, txRef)
}

// wrap separates node-side rejections (JSON-RPC errors) from transport failures.
func (sb *SolanaBackend) wrap(err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %s (code %d)", ErrRejected, rpcErr.Message, rpcErr.Code)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
