// Package verification manages third-party requests to read a certificate and
// the owner's decision on them.
package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"certproof/database"
	"certproof/logger"
	"certproof/metrics"
	"certproof/models"
	"certproof/notify"
	"certproof/services/certificate"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrRequestNotFound     = errors.New("verification request not found")
	ErrNotOwner            = errors.New("only the certificate owner can respond to this request")
	ErrAlreadyResolved     = errors.New("verification request has already been resolved")
	ErrInvalidAction       = errors.New("action must be APPROVE or REJECT")
	ErrPayloadMismatch     = errors.New("QR payload does not match the certificate")
)

type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

// ParseAction accepts APPROVE/REJECT and their past-tense forms, any case.
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "APPROVE", "APPROVED":
		return ActionApprove, nil
	case "REJECT", "REJECTED":
		return ActionReject, nil
	}
	return "", ErrInvalidAction
}

type Certificates interface {
	FindByPRN(ctx context.Context, prn string) (*models.Certificate, error)
	FindByID(ctx context.Context, id uint) (*models.Certificate, error)
}

type Dispatcher interface {
	Dispatch(msg notify.Message)
}

type CreateInput struct {
	PRN            string
	RequesterName  string
	RequesterEmail string
	Organization   string
	Purpose        string
}

// OfflinePayload is the content of the QR code printed on a certificate.
type OfflinePayload struct {
	PRN   string `json:"prn"`
	Email string `json:"email"`
}

type CreateResult struct {
	Request         *models.VerificationRequest
	AlreadyPending  bool
	AlreadyApproved bool
}

type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	Templates notify.Templates
}

type Manager struct {
	db        *gorm.DB
	certs     Certificates
	notifier  Dispatcher
	tokens    *ActionTokens
	templates notify.Templates
	cache     *expirable.LRU[string, models.VerificationRequest]
	log       zerolog.Logger
	now       func() time.Time
}

func NewManager(db *gorm.DB, certs Certificates, notifier Dispatcher, tokens *ActionTokens, opts Options) *Manager {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Second
	}
	return &Manager{
		db:        db,
		certs:     certs,
		notifier:  notifier,
		tokens:    tokens,
		templates: opts.Templates,
		cache:     expirable.NewLRU[string, models.VerificationRequest](opts.CacheSize, nil, opts.CacheTTL),
		log:       logger.Component("verification"),
		now:       time.Now,
	}
}

// Create opens a request for (certificate, requester email). An existing
// PENDING or APPROVED request for the pair is returned instead of a new one.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	return m.create(ctx, in, models.ChannelDirect)
}

// CreateFromOffline opens a request from a scanned QR payload. The payload's
// email must be the certificate holder's.
func (m *Manager) CreateFromOffline(ctx context.Context, payload OfflinePayload, requester CreateInput) (*CreateResult, error) {
	cert, err := m.findCertificate(ctx, payload.PRN)
	if err != nil {
		return nil, err
	}
	if certificate.NormalizeEmail(payload.Email) != certificate.NormalizeEmail(cert.StudentEmail) {
		metrics.VerificationRequests.WithLabelValues("create_offline", "payload_mismatch").Inc()
		return nil, ErrPayloadMismatch
	}
	requester.PRN = cert.PRN
	return m.create(ctx, requester, models.ChannelOffline)
}

func (m *Manager) create(ctx context.Context, in CreateInput, channel string) (*CreateResult, error) {
	in.PRN = strings.TrimSpace(in.PRN)
	in.RequesterName = strings.TrimSpace(in.RequesterName)
	in.RequesterEmail = certificate.NormalizeEmail(in.RequesterEmail)
	if err := in.validate(); err != nil {
		return nil, err
	}

	cert, err := m.findCertificate(ctx, in.PRN)
	if err != nil {
		return nil, err
	}

	key := models.OpenKeyFor(cert.ID, in.RequesterEmail)
	db := m.db.WithContext(ctx)

	// A second pass only happens when a concurrent insert won the unique
	// open_key; the reload then returns the winner.
	for attempt := 0; attempt < 2; attempt++ {
		var existing models.VerificationRequest
		err := db.Where("open_key = ?", key).First(&existing).Error
		if err == nil {
			res := &CreateResult{
				Request:         &existing,
				AlreadyPending:  existing.Status == models.RequestPending,
				AlreadyApproved: existing.Status == models.RequestApproved,
			}
			metrics.VerificationRequests.WithLabelValues("create", strings.ToLower(existing.Status)+"_exists").Inc()
			return res, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("find open request: %w", err)
		}

		req := models.VerificationRequest{
			ID:             uuid.NewString(),
			CertificateID:  cert.ID,
			StudentID:      cert.OwnerID,
			RequesterName:  in.RequesterName,
			RequesterEmail: in.RequesterEmail,
			Organization:   strings.TrimSpace(in.Organization),
			Purpose:        strings.TrimSpace(in.Purpose),
			Channel:        channel,
			Status:         models.RequestPending,
			OpenKey:        &key,
			RequestedAt:    m.now(),
		}
		if err := db.Create(&req).Error; err != nil {
			if database.IsUniqueViolation(err) {
				continue
			}
			return nil, fmt.Errorf("create verification request: %w", err)
		}

		metrics.VerificationRequests.WithLabelValues("create", "created").Inc()
		m.log.Info().Str("requestId", req.ID).Str("prn", cert.PRN).Str("channel", channel).Msg("verification request created")
		m.notifyOwner(cert, &req)
		return &CreateResult{Request: &req}, nil
	}

	return nil, fmt.Errorf("create verification request: open key %s is contested", key)
}

func (in *CreateInput) validate() error {
	switch {
	case in.PRN == "":
		return &certificate.ValidationError{Field: "prn", Message: "PRN is required"}
	case in.RequesterName == "":
		return &certificate.ValidationError{Field: "verifierName", Message: "requester name is required"}
	case in.RequesterEmail == "" || !strings.Contains(in.RequesterEmail, "@"):
		return &certificate.ValidationError{Field: "verifierEmail", Message: "a valid requester email is required"}
	}
	return nil
}

// Resolve records the owner's decision. Only a PENDING request can be
// resolved; the conditional update makes the first decision final.
func (m *Manager) Resolve(ctx context.Context, actorID uint, requestID string, action Action) (*models.VerificationRequest, error) {
	if action != ActionApprove && action != ActionReject {
		return nil, ErrInvalidAction
	}

	db := m.db.WithContext(ctx)
	var req models.VerificationRequest
	if err := db.Where("id = ?", requestID).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("find verification request: %w", err)
	}
	if req.StudentID != actorID {
		metrics.VerificationRequests.WithLabelValues("resolve", "not_owner").Inc()
		return nil, ErrNotOwner
	}
	if req.Status != models.RequestPending {
		return nil, ErrAlreadyResolved
	}

	status := models.RequestApproved
	respondedAt := m.now()
	updates := map[string]interface{}{
		"status":       status,
		"responded_at": respondedAt,
	}
	if action == ActionReject {
		status = models.RequestRejected
		updates["status"] = status
		updates["open_key"] = nil
	}

	res := db.Model(&models.VerificationRequest{}).
		Where("id = ? AND status = ?", req.ID, models.RequestPending).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("resolve verification request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		metrics.VerificationRequests.WithLabelValues("resolve", "already_resolved").Inc()
		return nil, ErrAlreadyResolved
	}
	m.cache.Remove(req.ID)

	req.Status = status
	req.RespondedAt = &respondedAt
	if action == ActionReject {
		req.OpenKey = nil
	}

	metrics.VerificationRequests.WithLabelValues("resolve", strings.ToLower(status)).Inc()
	m.log.Info().Str("requestId", req.ID).Str("status", status).Msg("verification request resolved")
	m.notifyRequester(ctx, &req)
	return &req, nil
}

// ResolveWithToken resolves through an emailed action link.
func (m *Manager) ResolveWithToken(ctx context.Context, token string) (*models.VerificationRequest, error) {
	claims, err := m.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	return m.Resolve(ctx, claims.OwnerID, claims.RequestID, claims.Action)
}

// HasAccess reports whether email holds an APPROVED request for prn.
func (m *Manager) HasAccess(ctx context.Context, prn, email string) (bool, error) {
	email = certificate.NormalizeEmail(email)
	if email == "" {
		return false, nil
	}
	cert, err := m.findCertificate(ctx, prn)
	if err != nil {
		return false, err
	}

	var count int64
	err = m.db.WithContext(ctx).Model(&models.VerificationRequest{}).
		Where("certificate_id = ? AND requester_email = ? AND status = ?", cert.ID, email, models.RequestApproved).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check access: %w", err)
	}
	return count > 0, nil
}

type PollResult struct {
	RequestID   string              `json:"requestId"`
	Status      string              `json:"status"`
	RequestedAt time.Time           `json:"requestedAt"`
	RespondedAt *time.Time          `json:"respondedAt"`
	Certificate *models.Certificate `json:"certificate,omitempty"`
}

// Poll returns the current status of a request. Certificate detail is only
// included for the requester of an APPROVED request.
func (m *Manager) Poll(ctx context.Context, requestID, email string) (*PollResult, error) {
	req, err := m.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	res := &PollResult{
		RequestID:   req.ID,
		Status:      req.Status,
		RequestedAt: req.RequestedAt,
		RespondedAt: req.RespondedAt,
	}
	if req.Status == models.RequestApproved && certificate.NormalizeEmail(email) == req.RequesterEmail {
		cert, err := m.certs.FindByID(ctx, req.CertificateID)
		if err != nil {
			return nil, fmt.Errorf("load approved certificate: %w", err)
		}
		res.Certificate = cert
	}
	return res, nil
}

func (m *Manager) getRequest(ctx context.Context, requestID string) (*models.VerificationRequest, error) {
	if req, ok := m.cache.Get(requestID); ok {
		return &req, nil
	}
	var req models.VerificationRequest
	if err := m.db.WithContext(ctx).Where("id = ?", requestID).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("find verification request: %w", err)
	}
	// only resolved requests are immutable; PENDING is always read fresh
	if req.Status != models.RequestPending {
		m.cache.Add(req.ID, req)
	}
	return &req, nil
}

type RequestView struct {
	models.VerificationRequest
	PRN        string `json:"prn"`
	CourseName string `json:"courseName"`
}

type RequestStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

type StudentRequests struct {
	Requests []RequestView `json:"requests"`
	Stats    RequestStats  `json:"stats"`
}

func (m *Manager) ListForStudent(ctx context.Context, studentID uint) (*StudentRequests, error) {
	db := m.db.WithContext(ctx)
	var reqs []models.VerificationRequest
	if err := db.Where("student_id = ?", studentID).Order("requested_at desc").Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("list verification requests: %w", err)
	}

	ids := make([]uint, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.CertificateID)
	}
	certs := map[uint]models.Certificate{}
	if len(ids) > 0 {
		var rows []models.Certificate
		if err := db.Select([]string{"id", "prn", "course_name"}).Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("load request certificates: %w", err)
		}
		for _, c := range rows {
			certs[c.ID] = c
		}
	}

	out := &StudentRequests{Requests: make([]RequestView, 0, len(reqs))}
	for _, r := range reqs {
		c := certs[r.CertificateID]
		out.Requests = append(out.Requests, RequestView{VerificationRequest: r, PRN: c.PRN, CourseName: c.CourseName})
		out.Stats.Total++
		switch r.Status {
		case models.RequestPending:
			out.Stats.Pending++
		case models.RequestApproved:
			out.Stats.Approved++
		case models.RequestRejected:
			out.Stats.Rejected++
		}
	}
	return out, nil
}

func (m *Manager) findCertificate(ctx context.Context, prn string) (*models.Certificate, error) {
	cert, err := m.certs.FindByPRN(ctx, prn)
	if err != nil {
		if errors.Is(err, certificate.ErrNotFound) {
			return nil, ErrCertificateNotFound
		}
		return nil, err
	}
	return cert, nil
}

func (m *Manager) info(cert *models.Certificate, req *models.VerificationRequest) notify.RequestInfo {
	return notify.RequestInfo{
		RequestID:      req.ID,
		PRN:            cert.PRN,
		CourseName:     cert.CourseName,
		OwnerName:      cert.StudentName,
		OwnerEmail:     cert.StudentEmail,
		RequesterName:  req.RequesterName,
		RequesterEmail: req.RequesterEmail,
		Organization:   req.Organization,
		Purpose:        req.Purpose,
	}
}

func (m *Manager) notifyOwner(cert *models.Certificate, req *models.VerificationRequest) {
	approve, err := m.tokens.Sign(req.ID, ActionApprove, req.StudentID)
	if err != nil {
		m.log.Warn().Err(err).Str("requestId", req.ID).Msg("owner notification skipped")
		return
	}
	reject, err := m.tokens.Sign(req.ID, ActionReject, req.StudentID)
	if err != nil {
		m.log.Warn().Err(err).Str("requestId", req.ID).Msg("owner notification skipped")
		return
	}
	m.notifier.Dispatch(m.templates.OwnerRequest(m.info(cert, req), approve, reject))
}

func (m *Manager) notifyRequester(ctx context.Context, req *models.VerificationRequest) {
	cert, err := m.certs.FindByID(ctx, req.CertificateID)
	if err != nil {
		m.log.Warn().Err(err).Str("requestId", req.ID).Msg("requester notification skipped")
		return
	}
	info := m.info(cert, req)
	if req.Status == models.RequestApproved {
		m.notifier.Dispatch(m.templates.RequesterApproved(info))
		return
	}
	m.notifier.Dispatch(m.templates.RequesterRejected(info))
}
