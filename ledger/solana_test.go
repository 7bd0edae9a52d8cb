package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSolanaNode answers the JSON-RPC methods the backend calls. Submitted
// transactions are kept as sent, keyed by their first signature.
type fakeSolanaNode struct {
	mu       sync.Mutex
	txs      map[string]string
	statuses map[string]interface{}
	reject   bool
}

type rpcCall struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (n *fakeSolanaNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var call rpcCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": call.ID}
	switch call.Method {
	case "getLatestBlockhash":
		resp["result"] = map[string]interface{}{
			"context": map[string]interface{}{"slot": 7},
			"value": map[string]interface{}{
				"blockhash":            solana.HashFromBytes(bytes.Repeat([]byte{7}, 32)).String(),
				"lastValidBlockHeight": 100,
			},
		}
	case "sendTransaction":
		if n.reject {
			resp["error"] = map[string]interface{}{"code": -32002, "message": "Transaction simulation failed"}
			break
		}
		var encoded string
		_ = json.Unmarshal(call.Params[0], &encoded)
		raw, _ := base64.StdEncoding.DecodeString(encoded)
		// compact-u16 signature count, then the payer's signature
		sig := solana.SignatureFromBytes(raw[1:65]).String()
		n.txs[sig] = encoded
		resp["result"] = sig
	case "getSignatureStatuses":
		var sigs []string
		_ = json.Unmarshal(call.Params[0], &sigs)
		resp["result"] = map[string]interface{}{
			"context": map[string]interface{}{"slot": 7},
			"value":   []interface{}{n.statuses[sigs[0]]},
		}
	case "getTransaction":
		var sig string
		_ = json.Unmarshal(call.Params[0], &sig)
		encoded, ok := n.txs[sig]
		if !ok {
			resp["result"] = nil
			break
		}
		resp["result"] = map[string]interface{}{
			"slot":        7,
			"blockTime":   nil,
			"transaction": []string{encoded, "base64"},
		}
	default:
		resp["error"] = map[string]interface{}{"code": -32601, "message": "Method not found"}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeSolanaNode) setStatus(sig string, status interface{}) {
	n.mu.Lock()
	n.statuses[sig] = status
	n.mu.Unlock()
}

func newSolanaFixture(t *testing.T) (*fakeSolanaNode, *SolanaBackend) {
	t.Helper()
	node := &fakeSolanaNode{txs: map[string]string{}, statuses: map[string]interface{}{}}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return node, NewSolanaBackend(srv.URL, payer)
}

func TestSolanaBackend(t *testing.T) {
	node, backend := newSolanaFixture(t)
	client := NewClient(backend, refMap{}, Options{})
	ctx := context.Background()

	txRef, err := client.Anchor(ctx, "PRN2025000123", "digest-abcd")
	require.NoError(t, err)
	_, err = solana.SignatureFromBase58(txRef)
	require.NoError(t, err)

	// dropped or not yet seen by the node
	status, err := backend.Status(ctx, txRef)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	node.setStatus(txRef, map[string]interface{}{"slot": 7, "confirmations": 3, "err": nil, "confirmationStatus": "confirmed"})
	status, err = backend.Status(ctx, txRef)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	node.setStatus(txRef, map[string]interface{}{"slot": 7, "confirmations": nil, "err": nil, "confirmationStatus": "finalized"})
	ok, err := client.Confirmed(ctx, txRef)
	require.NoError(t, err)
	assert.True(t, ok)

	digest, err := client.ReadAnchoredRef(ctx, "PRN2025000123", txRef)
	require.NoError(t, err)
	assert.Equal(t, "digest-abcd", digest)

	_, err = client.ReadAnchoredRef(ctx, "PRN2025000999", txRef)
	assert.ErrorIs(t, err, ErrForeignAnchor)

	node.setStatus(txRef, map[string]interface{}{
		"slot": 7, "confirmations": nil, "confirmationStatus": "finalized",
		"err": map[string]interface{}{"InstructionError": []interface{}{0, "InvalidInstructionData"}},
	})
	status, err = backend.Status(ctx, txRef)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
	_, err = client.Confirmed(ctx, txRef)
	assert.ErrorIs(t, err, ErrRejected)

	status, err = backend.Status(ctx, "not-a-signature")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
}

func TestSolanaBackendFetch(t *testing.T) {
	node, backend := newSolanaFixture(t)
	ctx := context.Background()

	unknown := solana.SignatureFromBytes(bytes.Repeat([]byte{9}, 64)).String()
	_, err := backend.Fetch(ctx, unknown)
	assert.ErrorIs(t, err, ErrNotAnchored)

	_, err = backend.Fetch(ctx, "not-a-signature")
	assert.ErrorIs(t, err, ErrNotAnchored)

	// a transaction that carries no memo instruction
	payer := backend.Payer.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{solana.NewInstruction(
			solana.SystemProgramID,
			solana.AccountMetaSlice{solana.NewAccountMeta(payer, true, true)},
			[]byte{2, 0, 0, 0},
		)},
		solana.HashFromBytes(bytes.Repeat([]byte{7}, 32)),
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	_, err = tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(payer) {
			return &backend.Payer
		}
		return nil
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	foreign := tx.Signatures[0].String()
	node.mu.Lock()
	node.txs[foreign] = base64.StdEncoding.EncodeToString(raw)
	node.mu.Unlock()

	_, err = backend.Fetch(ctx, foreign)
	assert.ErrorIs(t, err, ErrForeignAnchor)
}

func TestSolanaBackendErrors(t *testing.T) {
	node, backend := newSolanaFixture(t)
	ctx := context.Background()

	node.mu.Lock()
	node.reject = true
	node.mu.Unlock()
	_, err := backend.Submit(ctx, EncodeMemo("PRN2025000123", "digest-abcd"))
	assert.ErrorIs(t, err, ErrRejected)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	offline := NewSolanaBackend(url, backend.Payer)
	_, err = offline.Submit(ctx, EncodeMemo("PRN2025000123", "digest-abcd"))
	assert.ErrorIs(t, err, ErrUnreachable)

	_, err = offline.Status(ctx, solana.SignatureFromBytes(bytes.Repeat([]byte{9}, 64)).String())
	assert.ErrorIs(t, err, ErrUnreachable)
}
