// Package fingerprint turns a certificate's canonical fields into a signed,
// self-contained token and back.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Validity of a fingerprint. Certificates are long-lived, not session credentials.
const Validity = 100 * 365 * 24 * time.Hour

var (
	ErrInvalidSignature = errors.New("fingerprint: invalid signature")
	ErrExpired          = errors.New("fingerprint: expired")
	ErrMalformed        = errors.New("fingerprint: malformed token")
)

// Mark is one (subject, score) entry. Order is significant.
type Mark struct {
	Subject string  `json:"subject"`
	Marks   float64 `json:"marks"`
}

// CertificateData is the canonical field set covered by a fingerprint.
// Dates are "2006-01-02" strings so the encoding stays stable across timezones.
type CertificateData struct {
	PRN            string   `json:"prn"`
	SNO            string   `json:"sno"`
	StudentName    string   `json:"studentName"`
	StudentEmail   string   `json:"studentEmail"`
	Marks          []Mark   `json:"marks"`
	IssuerID       string   `json:"issuerId"`
	IssuerName     string   `json:"issuerName"`
	CourseName     string   `json:"courseName"`
	Degree         string   `json:"degree"`
	Specialization string   `json:"specialization,omitempty"`
	CGPA           *float64 `json:"cgpa,omitempty"`
	Division       string   `json:"division,omitempty"`
	IssueDate      string   `json:"issueDate"`
	CompletionDate string   `json:"completionDate,omitempty"`
	CertificateURL string   `json:"certificateUrl"`
	OffChainURL    string   `json:"offChainUrl,omitempty"`
}

// Equal reports whether both values decode to the same canonical field set.
func (d CertificateData) Equal(o CertificateData) bool {
	if d.PRN != o.PRN || d.SNO != o.SNO ||
		d.StudentName != o.StudentName || d.StudentEmail != o.StudentEmail ||
		d.IssuerID != o.IssuerID || d.IssuerName != o.IssuerName ||
		d.CourseName != o.CourseName || d.Degree != o.Degree ||
		d.Specialization != o.Specialization || d.Division != o.Division ||
		d.IssueDate != o.IssueDate || d.CompletionDate != o.CompletionDate ||
		d.CertificateURL != o.CertificateURL || d.OffChainURL != o.OffChainURL {
		return false
	}
	if (d.CGPA == nil) != (o.CGPA == nil) {
		return false
	}
	if d.CGPA != nil && *d.CGPA != *o.CGPA {
		return false
	}
	if len(d.Marks) != len(o.Marks) {
		return false
	}
	for i := range d.Marks {
		if d.Marks[i] != o.Marks[i] {
			return false
		}
	}
	return true
}

// Claims is the JWT payload: the certificate fields plus sub=PRN, iss=issuer id.
type Claims struct {
	CertificateData
	SignedAtMs int64 `json:"issuedAt"`
	jwt.RegisteredClaims
}

// Signer generates and verifies fingerprints with one process-wide secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Generate signs the certificate data. Two calls with the same input verify
// to equal data but are not byte-identical.
func (s *Signer) Generate(data CertificateData) (string, error) {
	if data.PRN == "" {
		return "", fmt.Errorf("%w: prn is required", ErrMalformed)
	}
	now := s.now()
	claims := Claims{
		CertificateData: data,
		SignedAtMs:      now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   data.PRN,
			Issuer:    data.IssuerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(Validity)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify decodes a fingerprint. It never panics; any malformed or wrongly
// signed token matches ErrInvalidSignature.
func (s *Signer) Verify(token string) (CertificateData, error) {
	claims, err := s.parse(token)
	if err != nil {
		return CertificateData{}, err
	}
	return claims.CertificateData, nil
}

// Decode is Verify plus the signing time.
func (s *Signer) Decode(token string) (*Claims, error) {
	return s.parse(token)
}

func (s *Signer) parse(token string) (claims *Claims, err error) {
	defer func() {
		if r := recover(); r != nil {
			claims, err = nil, fmt.Errorf("%w: %w", ErrInvalidSignature, ErrMalformed)
		}
	}()

	claims = &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, ErrMalformed)
		default:
			return nil, ErrInvalidSignature
		}
	}
	if !parsed.Valid {
		return nil, ErrInvalidSignature
	}
	if claims.Subject != claims.PRN {
		return nil, fmt.Errorf("%w: subject does not match prn", ErrInvalidSignature)
	}
	return claims, nil
}

// Digest is the value anchored on the ledger: hex SHA-256 of the token.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
