package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	AnchorQueued     = "QUEUED"
	AnchorSubmitting = "SUBMITTING"
	AnchorSubmitted  = "SUBMITTED"
	AnchorConfirmed  = "CONFIRMED"
	AnchorFailed     = "FAILED"
)

// AnchorJob is the outbox row written in the same transaction as its
// certificate. The anchoring worker drains it. SUBMITTING marks a job a
// worker has claimed and is writing to the ledger; NextAttemptAt is then the
// end of that claim.
type AnchorJob struct {
	gorm.Model
	CertificateID uint       `json:"certificateId" gorm:"uniqueIndex;not null"`
	PRN           string     `json:"prn" gorm:"index;size:64;not null"`
	Digest        string     `json:"digest" gorm:"size:64;not null"`
	State         string     `json:"state" gorm:"index;default:'QUEUED'"`
	TxRef         string     `json:"txRef" gorm:"size:128"`
	Attempts      int        `json:"attempts" gorm:"default:0"`
	NextAttemptAt time.Time  `json:"nextAttemptAt" gorm:"index"`
	LastError     string     `json:"lastError" gorm:"type:text"`
	SubmittedAt   *time.Time `json:"submittedAt"`
	ConfirmedAt   *time.Time `json:"confirmedAt"`
}
