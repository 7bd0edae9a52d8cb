// Package ledger anchors certificate fingerprints on an external append-only
// ledger and reads them back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"certproof/logger"
	"certproof/metrics"

	"github.com/rs/zerolog"
)

var (
	ErrUnreachable = errors.New("ledger unreachable")
	ErrRejected    = errors.New("ledger rejected the transaction")
	ErrNotAnchored = errors.New("fingerprint not anchored")

	// ErrForeignAnchor means the reference resolves to a memo that is not the
	// anchor of the requested PRN.
	ErrForeignAnchor = errors.New("ledger entry does not belong to this certificate")
)

type TxStatus string

const (
	StatusPending   TxStatus = "PENDING"
	StatusConfirmed TxStatus = "CONFIRMED"
	StatusFailed    TxStatus = "FAILED"
)

// Backend is one concrete ledger. Implementations classify their failures as
// ErrUnreachable, ErrRejected or ErrNotAnchored.
type Backend interface {
	Name() string
	Submit(ctx context.Context, memo []byte) (string, error)
	Status(ctx context.Context, txRef string) (TxStatus, error)
	Fetch(ctx context.Context, txRef string) ([]byte, error)
}

// RefLookup resolves the recorded transaction reference of a PRN; "" means
// not anchored yet.
type RefLookup interface {
	LedgerReference(ctx context.Context, prn string) (string, error)
}

const (
	memoPrefix = "certproof/v1"
	memoSep    = "|"
)

func EncodeMemo(prn, digest string) []byte {
	return []byte(memoPrefix + memoSep + prn + memoSep + digest)
}

func DecodeMemo(memo []byte) (prn, digest string, err error) {
	parts := strings.Split(string(memo), memoSep)
	if len(parts) != 3 || parts[0] != memoPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("%w: unrecognised memo", ErrForeignAnchor)
	}
	return parts[1], parts[2], nil
}

type Options struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

type Client struct {
	backend Backend
	refs    RefLookup
	opts    Options
	log     zerolog.Logger
}

func NewClient(backend Backend, refs RefLookup, opts Options) *Client {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 8 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	return &Client{
		backend: backend,
		refs:    refs,
		opts:    opts,
		log:     logger.Component("ledger").With().Str("backend", backend.Name()).Logger(),
	}
}

func (c *Client) Backend() string { return c.backend.Name() }

// Anchor writes (prn, digest) to the ledger within the write timeout.
func (c *Client) Anchor(ctx context.Context, prn, digest string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()

	start := time.Now()
	txRef, err := c.backend.Submit(ctx, EncodeMemo(prn, digest))
	err = classify(ctx, err)
	c.observe("anchor", start, err)
	if err != nil {
		c.log.Warn().Err(err).Str("prn", prn).Msg("anchor failed")
		return "", err
	}

	c.log.Info().Str("prn", prn).Str("txRef", txRef).Msg("anchor submitted")
	return txRef, nil
}

// Confirmed reports whether a submitted transaction has been finalized.
// A transaction the ledger dropped yields ErrRejected.
func (c *Client) Confirmed(ctx context.Context, txRef string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
	defer cancel()

	start := time.Now()
	status, err := c.backend.Status(ctx, txRef)
	err = classify(ctx, err)
	c.observe("status", start, err)
	if err != nil {
		return false, err
	}

	switch status {
	case StatusConfirmed:
		return true, nil
	case StatusFailed:
		return false, fmt.Errorf("%w: transaction %s failed", ErrRejected, txRef)
	default:
		return false, nil
	}
}

// ReadAnchored returns the digest anchored for prn, resolving the
// transaction reference through the certificate store.
func (c *Client) ReadAnchored(ctx context.Context, prn string) (string, error) {
	txRef, err := c.refs.LedgerReference(ctx, prn)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAnchored, err)
	}
	if txRef == "" {
		return "", ErrNotAnchored
	}
	return c.ReadAnchoredRef(ctx, prn, txRef)
}

// ReadAnchoredRef reads the digest stored at txRef and checks it belongs to prn.
func (c *Client) ReadAnchoredRef(ctx context.Context, prn, txRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
	defer cancel()

	start := time.Now()
	memo, err := c.backend.Fetch(ctx, txRef)
	err = classify(ctx, err)
	c.observe("read", start, err)
	if err != nil {
		return "", err
	}

	anchoredPRN, digest, err := DecodeMemo(memo)
	if err != nil {
		return "", err
	}
	if anchoredPRN != prn {
		return "", fmt.Errorf("%w: anchored for %s", ErrForeignAnchor, anchoredPRN)
	}
	return digest, nil
}

func (c *Client) observe(op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotAnchored):
		outcome = "not_anchored"
	case errors.Is(err, ErrRejected):
		outcome = "rejected"
	default:
		outcome = "unreachable"
	}
	metrics.LedgerOperations.WithLabelValues(c.backend.Name(), op, outcome).Inc()
	metrics.LedgerLatency.WithLabelValues(c.backend.Name(), op).Observe(time.Since(start).Seconds())
}

// classify maps context expiry and unclassified backend errors to ErrUnreachable.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrNotAnchored) || errors.Is(err, ErrForeignAnchor) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, ctxErr)
	}
	if errors.Is(err, ErrUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
