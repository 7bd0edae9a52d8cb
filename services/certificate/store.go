package certificate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"certproof/database"
	"certproof/fingerprint"
	"certproof/logger"
	"certproof/models"

	"github.com/jinzhu/now"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// MaxSerialAttempts bounds SNO regeneration after a serial collision.
const MaxSerialAttempts = 5

var (
	ErrDuplicatePRN    = errors.New("certificate already exists for this PRN")
	ErrStudentNotFound = errors.New("student account not found")
	ErrIssuerNotFound  = errors.New("issuer account not found")
	ErrNotIssuer       = errors.New("account is not allowed to issue certificates")
	ErrNotFound        = errors.New("certificate not found")
	ErrSerialExhausted = errors.New("could not allocate a unique serial number")
	ErrAlreadyAnchored = errors.New("certificate is already anchored")
	ErrAnchorInFlight  = errors.New("anchoring is in progress")
	ErrIntegrity       = errors.New("certificate does not match its fingerprint")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// CreatePayload is everything an issuer supplies. The artifact must already be
// rendered and uploaded; CertificateURL points at it.
type CreatePayload struct {
	PRN            string
	StudentEmail   string
	StudentName    string // defaults to the account name
	Marks          []fingerprint.Mark
	CourseName     string
	Degree         string
	Specialization string
	CGPA           *float64
	Division       string
	IssueDate      time.Time
	CompletionDate *time.Time
	CertificateURL string
	OffChainURL    string
}

func (p *CreatePayload) validate() error {
	switch {
	case strings.TrimSpace(p.PRN) == "":
		return &ValidationError{Field: "prn", Message: "PRN is required"}
	case strings.TrimSpace(p.StudentEmail) == "":
		return &ValidationError{Field: "studentEmail", Message: "student email is required"}
	case strings.TrimSpace(p.CourseName) == "":
		return &ValidationError{Field: "courseName", Message: "course name is required"}
	case strings.TrimSpace(p.CertificateURL) == "":
		return &ValidationError{Field: "certificateUrl", Message: "certificate URL is required"}
	case p.IssueDate.IsZero():
		return &ValidationError{Field: "issueDate", Message: "issue date is required"}
	}
	for i, m := range p.Marks {
		if strings.TrimSpace(m.Subject) == "" {
			return &ValidationError{Field: fmt.Sprintf("marks[%d].subject", i), Message: "subject is required"}
		}
	}
	return nil
}

type Store struct {
	db     *gorm.DB
	signer *fingerprint.Signer
	log    zerolog.Logger
	now    func() time.Time
	serial func(prefix string, year int) (string, error)
}

func NewStore(db *gorm.DB, signer *fingerprint.Signer) *Store {
	return &Store{
		db:     db,
		signer: signer,
		log:    logger.Component("certificate-store"),
		now:    time.Now,
		serial: randomSerial,
	}
}

// CreateCertificate issues a certificate and enqueues its anchoring job in one
// transaction. The unique index on prn decides concurrent issuance races.
func (s *Store) CreateCertificate(ctx context.Context, issuerID uint, p CreatePayload) (*models.Certificate, error) {
	p.PRN = strings.TrimSpace(p.PRN)
	p.StudentEmail = NormalizeEmail(p.StudentEmail)
	if err := p.validate(); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)

	var issuer models.User
	if err := db.Where("id = ? AND is_deleted = ?", issuerID, false).First(&issuer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIssuerNotFound
		}
		return nil, fmt.Errorf("load issuer: %w", err)
	}
	if issuer.Role != models.RoleAdmin {
		return nil, ErrNotIssuer
	}

	var student models.User
	if err := db.Where("email = ? AND role = ? AND is_deleted = ?", p.StudentEmail, models.RoleStudent, false).
		First(&student).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("load student: %w", err)
	}

	studentName := strings.TrimSpace(p.StudentName)
	if studentName == "" {
		studentName = student.Name
	}
	prefix := serialPrefix(&issuer)
	issuedAt := s.now()

	for attempt := 1; attempt <= MaxSerialAttempts; attempt++ {
		sno, err := s.serial(prefix, p.IssueDate.Year())
		if err != nil {
			return nil, err
		}

		cert := &models.Certificate{
			PRN:            p.PRN,
			SNO:            sno,
			StudentName:    studentName,
			StudentEmail:   student.Email,
			OwnerID:        student.ID,
			Marks:          p.Marks,
			IssuerID:       issuer.ID,
			IssuerName:     issuer.Name,
			CourseName:     strings.TrimSpace(p.CourseName),
			Degree:         strings.TrimSpace(p.Degree),
			Specialization: strings.TrimSpace(p.Specialization),
			CGPA:           p.CGPA,
			Division:       strings.TrimSpace(p.Division),
			IssueDate:      dateOnly(p.IssueDate),
			CertificateURL: strings.TrimSpace(p.CertificateURL),
			OffChainURL:    strings.TrimSpace(p.OffChainURL),
			Status:         models.CertificateActive,
		}
		if p.CompletionDate != nil {
			d := dateOnly(*p.CompletionDate)
			cert.CompletionDate = &d
		}

		token, err := s.signer.Generate(cert.Data())
		if err != nil {
			return nil, fmt.Errorf("generate fingerprint: %w", err)
		}
		cert.Fingerprint = token

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(cert).Error; err != nil {
				return err
			}
			job := &models.AnchorJob{
				CertificateID: cert.ID,
				PRN:           cert.PRN,
				Digest:        fingerprint.Digest(token),
				State:         models.AnchorQueued,
				NextAttemptAt: issuedAt,
			}
			return tx.Create(job).Error
		})
		if err == nil {
			s.log.Info().Str("prn", cert.PRN).Str("sno", cert.SNO).Uint("issuer", issuer.ID).Msg("certificate issued")
			return cert, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("create certificate: %w", err)
		}

		exists, lookupErr := s.prnExists(ctx, p.PRN)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if exists {
			return nil, ErrDuplicatePRN
		}
		s.log.Warn().Str("sno", sno).Int("attempt", attempt).Msg("serial number collision, retrying")
	}

	return nil, ErrSerialExhausted
}

// AttachLedgerReference records where the fingerprint was anchored. Repeating
// the same reference is a no-op; a different one replaces it and is logged.
func (s *Store) AttachLedgerReference(ctx context.Context, prn, txRef string) (*models.Certificate, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return nil, &ValidationError{Field: "txRef", Message: "transaction reference is required"}
	}

	cert, err := s.FindByPRN(ctx, prn)
	if err != nil {
		return nil, err
	}
	if cert.TransactionRef != nil && *cert.TransactionRef == txRef {
		return cert, nil
	}
	if cert.TransactionRef != nil && *cert.TransactionRef != "" {
		s.log.Warn().
			Str("prn", cert.PRN).
			Str("previous", *cert.TransactionRef).
			Str("new", txRef).
			Msg("replacing ledger reference")
	}

	anchoredAt := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(cert).Updates(map[string]interface{}{
			"transaction_ref": txRef,
			"anchored_at":     anchoredAt,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.AnchorJob{}).
			Where("certificate_id = ? AND state <> ?", cert.ID, models.AnchorConfirmed).
			Updates(map[string]interface{}{
				"state":        models.AnchorConfirmed,
				"tx_ref":       txRef,
				"confirmed_at": anchoredAt,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("attach ledger reference: %w", err)
	}

	cert.TransactionRef = &txRef
	cert.AnchoredAt = &anchoredAt
	return cert, nil
}

func (s *Store) FindByPRN(ctx context.Context, prn string) (*models.Certificate, error) {
	var cert models.Certificate
	if err := s.db.WithContext(ctx).Where("prn = ?", strings.TrimSpace(prn)).First(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return &cert, nil
}

func (s *Store) FindByID(ctx context.Context, id uint) (*models.Certificate, error) {
	var cert models.Certificate
	if err := s.db.WithContext(ctx).First(&cert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return &cert, nil
}

// LedgerReference returns the recorded transaction reference, "" when the
// certificate is not anchored yet.
func (s *Store) LedgerReference(ctx context.Context, prn string) (string, error) {
	cert, err := s.FindByPRN(ctx, prn)
	if err != nil {
		return "", err
	}
	if !cert.IsAnchored() {
		return "", nil
	}
	return *cert.TransactionRef, nil
}

// VerifyIntegrity decodes the stored fingerprint and compares it with the row.
func (s *Store) VerifyIntegrity(cert *models.Certificate) error {
	data, err := s.signer.Verify(cert.Fingerprint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	if !data.Equal(cert.Data()) {
		return ErrIntegrity
	}
	return nil
}

// Decode exposes the fingerprint's field set for a stored certificate.
func (s *Store) Decode(cert *models.Certificate) (fingerprint.CertificateData, error) {
	return s.signer.Verify(cert.Fingerprint)
}

type ListFilter struct {
	Status string // "anchored", "pending" or empty for all
	Search string
	Page   int
	Limit  int
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]models.Certificate, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}

	q := s.db.WithContext(ctx).Model(&models.Certificate{})
	switch f.Status {
	case "anchored":
		q = q.Where("transaction_ref IS NOT NULL AND transaction_ref <> ''")
	case "pending":
		q = q.Where("transaction_ref IS NULL OR transaction_ref = ''")
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		q = q.Where("LOWER(student_name) LIKE ? OR LOWER(prn) LIKE ? OR LOWER(sno) LIKE ? OR LOWER(course_name) LIKE ?",
			like, like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count certificates: %w", err)
	}

	var certs []models.Certificate
	if err := q.Order("created_at desc").Offset((f.Page - 1) * f.Limit).Limit(f.Limit).Find(&certs).Error; err != nil {
		return nil, 0, fmt.Errorf("list certificates: %w", err)
	}
	return certs, total, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID uint) ([]models.Certificate, error) {
	var certs []models.Certificate
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at desc").Find(&certs).Error; err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	return certs, nil
}

type Stats struct {
	Total       int64 `json:"total"`
	Anchored    int64 `json:"anchored"`
	Pending     int64 `json:"pending"`
	IssuedToday int64 `json:"issuedToday"`
	FailedJobs  int64 `json:"failedAnchorJobs"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	db := s.db.WithContext(ctx)
	var st Stats

	if err := db.Model(&models.Certificate{}).Count(&st.Total).Error; err != nil {
		return st, fmt.Errorf("count certificates: %w", err)
	}
	if err := db.Model(&models.Certificate{}).
		Where("transaction_ref IS NOT NULL AND transaction_ref <> ''").
		Count(&st.Anchored).Error; err != nil {
		return st, fmt.Errorf("count anchored: %w", err)
	}
	st.Pending = st.Total - st.Anchored

	today := now.With(s.now()).BeginningOfDay()
	if err := db.Model(&models.Certificate{}).Where("created_at >= ?", today).Count(&st.IssuedToday).Error; err != nil {
		return st, fmt.Errorf("count issued today: %w", err)
	}
	if err := db.Model(&models.AnchorJob{}).Where("state = ?", models.AnchorFailed).Count(&st.FailedJobs).Error; err != nil {
		return st, fmt.Errorf("count failed jobs: %w", err)
	}
	return st, nil
}

// RequeueAnchor re-arms anchoring for a certificate that has no ledger
// reference yet, e.g. after its job exhausted its retries.
func (s *Store) RequeueAnchor(ctx context.Context, prn string) (*models.AnchorJob, error) {
	cert, err := s.FindByPRN(ctx, prn)
	if err != nil {
		return nil, err
	}
	if cert.IsAnchored() {
		return nil, ErrAlreadyAnchored
	}

	db := s.db.WithContext(ctx)
	var job models.AnchorJob
	err = db.Where("certificate_id = ?", cert.ID).First(&job).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		job = models.AnchorJob{
			CertificateID: cert.ID,
			PRN:           cert.PRN,
			Digest:        fingerprint.Digest(cert.Fingerprint),
			State:         models.AnchorQueued,
			NextAttemptAt: s.now(),
		}
		if err := db.Create(&job).Error; err != nil {
			return nil, fmt.Errorf("create anchor job: %w", err)
		}
		return &job, nil
	case err != nil:
		return nil, fmt.Errorf("load anchor job: %w", err)
	}

	// a job a worker holds may still land on the ledger
	res := db.Model(&models.AnchorJob{}).
		Where("id = ? AND state NOT IN ?", job.ID, []string{models.AnchorSubmitting, models.AnchorSubmitted}).
		Updates(map[string]interface{}{
			"state":           models.AnchorQueued,
			"attempts":        0,
			"tx_ref":          "",
			"submitted_at":    nil,
			"last_error":      "",
			"next_attempt_at": s.now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("requeue anchor job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAnchorInFlight
	}
	if err := db.First(&job, job.ID).Error; err != nil {
		return nil, fmt.Errorf("reload anchor job: %w", err)
	}
	return &job, nil
}

func (s *Store) prnExists(ctx context.Context, prn string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Certificate{}).Where("prn = ?", prn).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check prn: %w", err)
	}
	return count > 0, nil
}

// NormalizeEmail is the canonical form used for every email comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
