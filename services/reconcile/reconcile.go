// Package reconcile decides whether a stored certificate is confirmed by its
// ledger anchor, tolerating ledger unavailability.
package reconcile

import (
	"context"
	"errors"

	"certproof/fingerprint"
	"certproof/ledger"
	"certproof/logger"
	"certproof/metrics"
	"certproof/models"

	"github.com/rs/zerolog"
)

type State string

const (
	// NotAnchored is the expected transient state right after issuance.
	NotAnchored State = "NOT_ANCHORED"
	Confirmed   State = "CONFIRMED"
	// ConfirmedHistorical: a reference is recorded but the live read failed
	// for infrastructure reasons.
	ConfirmedHistorical State = "CONFIRMED_HISTORICAL"
	// Mismatch is the only state that signals tampering.
	Mismatch State = "MISMATCH"
)

type Result struct {
	State      State  `json:"state"`
	Confirmed  bool   `json:"confirmed"`
	TxRef      string `json:"txRef,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Invalid reports whether the result must be shown to users as invalid.
func (r Result) Invalid() bool { return r.State == Mismatch }

// Warnings lists the degraded conditions a caller should surface.
func (r Result) Warnings() []string {
	switch r.State {
	case NotAnchored:
		return []string{"certificate is not anchored on the ledger yet"}
	case ConfirmedHistorical:
		return []string{"ledger unavailable, confirmed from the recorded anchor: " + r.Diagnostic}
	}
	return nil
}

type LedgerReader interface {
	ReadAnchoredRef(ctx context.Context, prn, txRef string) (string, error)
}

type IntegrityChecker interface {
	VerifyIntegrity(cert *models.Certificate) error
}

type Reconciler struct {
	ledger    LedgerReader
	integrity IntegrityChecker
	log       zerolog.Logger
}

func New(reader LedgerReader, integrity IntegrityChecker) *Reconciler {
	return &Reconciler{
		ledger:    reader,
		integrity: integrity,
		log:       logger.Component("reconcile"),
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, cert *models.Certificate) Result {
	res := r.reconcile(ctx, cert)
	metrics.ReconcileResults.WithLabelValues(string(res.State)).Inc()
	return res
}

func (r *Reconciler) reconcile(ctx context.Context, cert *models.Certificate) Result {
	if err := r.integrity.VerifyIntegrity(cert); err != nil {
		r.log.Error().Err(err).Str("prn", cert.PRN).Msg("stored certificate does not match its fingerprint")
		return Result{State: Mismatch, Diagnostic: err.Error()}
	}

	if !cert.IsAnchored() {
		return Result{State: NotAnchored}
	}
	txRef := *cert.TransactionRef

	digest, err := r.ledger.ReadAnchoredRef(ctx, cert.PRN, txRef)
	if err != nil {
		if errors.Is(err, ledger.ErrForeignAnchor) {
			r.log.Error().Err(err).Str("prn", cert.PRN).Str("txRef", txRef).Msg("ledger entry belongs to another certificate")
			return Result{State: Mismatch, TxRef: txRef, Diagnostic: err.Error()}
		}
		r.log.Warn().Err(err).Str("prn", cert.PRN).Str("txRef", txRef).Msg("live ledger read failed, using recorded reference")
		return Result{State: ConfirmedHistorical, Confirmed: true, TxRef: txRef, Diagnostic: err.Error()}
	}

	if digest != fingerprint.Digest(cert.Fingerprint) {
		r.log.Error().Str("prn", cert.PRN).Str("txRef", txRef).Msg("anchored digest differs from stored fingerprint")
		return Result{State: Mismatch, TxRef: txRef, Diagnostic: "anchored digest differs from stored fingerprint"}
	}
	return Result{State: Confirmed, Confirmed: true, TxRef: txRef}
}

// IsLedgerConfirmed is the boolean view of Reconcile.
func (r *Reconciler) IsLedgerConfirmed(ctx context.Context, cert *models.Certificate) bool {
	return r.Reconcile(ctx, cert).Confirmed
}
