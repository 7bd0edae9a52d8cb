package models

import (
	"fmt"
	"time"
)

const (
	RequestPending  = "PENDING"
	RequestApproved = "APPROVED"
	RequestRejected = "REJECTED"

	ChannelDirect  = "DIRECT"
	ChannelOffline = "OFFLINE"
)

// VerificationRequest is a third party's request to read a certificate.
// OpenKey holds "<certificateId>:<email>" while the request is PENDING or
// APPROVED and is cleared on rejection; its unique index keeps at most one
// open request per pair.
type VerificationRequest struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36"`
	CertificateID  uint       `json:"certificateId" gorm:"index;not null"`
	StudentID      uint       `json:"studentId" gorm:"index;not null"`
	RequesterName  string     `json:"requesterName" gorm:"not null"`
	RequesterEmail string     `json:"requesterEmail" gorm:"index;not null"`
	Organization   string     `json:"organization"`
	Purpose        string     `json:"purpose"`
	Channel        string     `json:"channel" gorm:"default:'DIRECT'"`
	Status         string     `json:"status" gorm:"index;default:'PENDING'"`
	OpenKey        *string    `json:"-" gorm:"uniqueIndex;size:320"`
	RequestedAt    time.Time  `json:"requestedAt"`
	RespondedAt    *time.Time `json:"respondedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func OpenKeyFor(certificateID uint, email string) string {
	return fmt.Sprintf("%d:%s", certificateID, email)
}
