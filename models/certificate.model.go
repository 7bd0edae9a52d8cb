package models

import (
	"strconv"
	"time"

	"certproof/fingerprint"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	CertificateActive  = "ACTIVE"
	CertificateRevoked = "REVOKED"
)

const dateLayout = "2006-01-02"

// Certificate is the relational record of an issued certificate. Fingerprint is
// written once at insert; TransactionRef is back-filled after anchoring.
type Certificate struct {
	gorm.Model
	PRN            string                                `json:"prn" gorm:"uniqueIndex;size:64;not null"`
	SNO            string                                `json:"sno" gorm:"uniqueIndex;size:64;not null"`
	StudentName    string                                `json:"studentName" gorm:"not null"`
	StudentEmail   string                                `json:"studentEmail" gorm:"index;not null"`
	OwnerID        uint                                  `json:"ownerId" gorm:"index;not null"`
	Marks          datatypes.JSONSlice[fingerprint.Mark] `json:"marks"`
	IssuerID       uint                                  `json:"issuerId" gorm:"index;not null"`
	IssuerName     string                                `json:"issuerName"`
	CourseName     string                                `json:"courseName"`
	Degree         string                                `json:"degree"`
	Specialization string                                `json:"specialization"`
	CGPA           *float64                              `json:"cgpa"`
	Division       string                                `json:"division"`
	IssueDate      time.Time                             `json:"issueDate"`
	CompletionDate *time.Time                            `json:"completionDate"`
	CertificateURL string                                `json:"certificateUrl"`
	OffChainURL    string                                `json:"offChainUrl"`
	Fingerprint    string                                `json:"fingerprint" gorm:"type:text;not null"`
	TransactionRef *string                               `json:"transactionRef" gorm:"size:128"`
	AnchoredAt     *time.Time                            `json:"anchoredAt"`
	Status         string                                `json:"status" gorm:"default:'ACTIVE'"`
}

// Data returns the canonical field set the fingerprint covers.
func (c *Certificate) Data() fingerprint.CertificateData {
	d := fingerprint.CertificateData{
		PRN:            c.PRN,
		SNO:            c.SNO,
		StudentName:    c.StudentName,
		StudentEmail:   c.StudentEmail,
		Marks:          []fingerprint.Mark(c.Marks),
		IssuerID:       strconv.FormatUint(uint64(c.IssuerID), 10),
		IssuerName:     c.IssuerName,
		CourseName:     c.CourseName,
		Degree:         c.Degree,
		Specialization: c.Specialization,
		CGPA:           c.CGPA,
		Division:       c.Division,
		IssueDate:      c.IssueDate.UTC().Format(dateLayout),
		CertificateURL: c.CertificateURL,
		OffChainURL:    c.OffChainURL,
	}
	if c.CompletionDate != nil {
		d.CompletionDate = c.CompletionDate.UTC().Format(dateLayout)
	}
	if d.Marks == nil {
		d.Marks = []fingerprint.Mark{}
	}
	return d
}

func (c *Certificate) IsAnchored() bool {
	return c.TransactionRef != nil && *c.TransactionRef != ""
}
