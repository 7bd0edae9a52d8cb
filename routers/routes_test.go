package routers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"certproof/config"
	authController "certproof/controllers/auth"
	"certproof/database"
	"certproof/fingerprint"
	"certproof/ledger"
	"certproof/notify"
	"certproof/services/certificate"
	"certproof/services/reconcile"
	"certproof/services/verification"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPRN     = "PRN2025000123"
	auditorMail = "auditor@example.com"
)

type mailbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (m *mailbox) Dispatch(msg notify.Message) {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
}

func (m *mailbox) count(kind notify.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.msgs {
		if msg.Kind == kind {
			n++
		}
	}
	return n
}

type testApp struct {
	app     *fiber.App
	client  *ledger.Client
	backend *ledger.MemoryBackend
	mailbox *mailbox
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	config.AppConfig = &config.Config{
		AppName:       "CertProof",
		AppURL:        "https://certs.example.com",
		JWTKey:        "test-jwt-secret",
		SaltRound:     bcrypt.MinCost,
		AdminName:     "MIT Registrar",
		AdminEmail:    "registrar@mit.example",
		AdminPassword: "registrar-pass",
	}
	db := database.SetupTestDB(t)
	database.Database.Db = db
	require.NoError(t, authController.SeedAdmin(db, config.AppConfig))

	store := certificate.NewStore(db, fingerprint.NewSigner("test-certificate-secret"))
	backend := ledger.NewMemoryBackend()
	client := ledger.NewClient(backend, store, ledger.Options{WriteTimeout: time.Second, ReadTimeout: 50 * time.Millisecond})
	box := &mailbox{}
	templates := notify.Templates{AppName: "CertProof", BaseURL: "https://certs.example.com"}
	manager := verification.NewManager(db, store, box, verification.NewActionTokens(config.AppConfig.JWTKey, time.Hour), verification.Options{
		Templates: templates,
	})

	app := fiber.New()
	SetupRoutes(app, Services{
		Store:        store,
		Reconciler:   reconcile.New(client, store),
		Verification: manager,
		Notifier:     box,
		Templates:    templates,
		LedgerName:   client.Backend(),
	})
	return &testApp{app: app, client: client, backend: backend, mailbox: box}
}

type response struct {
	Status   bool            `json:"status"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings"`
}

func (ta *testApp) do(t *testing.T, method, path string, body interface{}, token string) (int, response) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (ta *testApp) login(t *testing.T, email, password string) string {
	t.Helper()
	status, resp := ta.do(t, http.MethodPost, "/auth/login", fiber.Map{"email": email, "password": password}, "")
	require.Equal(t, http.StatusOK, status, resp.Message)

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type ledgerView struct {
	State     string `json:"state"`
	Confirmed bool   `json:"confirmed"`
}

type certificateView struct {
	Certificate struct {
		PRN string `json:"prn"`
	} `json:"certificate"`
	Ledger ledgerView `json:"ledger"`
	Valid  bool       `json:"valid"`
}

func TestVerificationFlow(t *testing.T) {
	ta := newTestApp(t)

	status, resp := ta.do(t, http.MethodPost, "/auth/signup", fiber.Map{
		"name":     "Asha Rao",
		"email":    "Asha@Example.com",
		"password": "student-pass",
	}, "")
	require.Equal(t, http.StatusCreated, status, resp.Message)

	adminToken := ta.login(t, "registrar@mit.example", "registrar-pass")
	studentToken := ta.login(t, "asha@example.com", "student-pass")

	certBody := fiber.Map{
		"prn":            testPRN,
		"studentEmail":   "asha@example.com",
		"courseName":     "Computer Engineering",
		"degree":         "B.Tech",
		"issueDate":      "2025-06-30",
		"certificateUrl": "https://files.example.com/PRN2025000123.pdf",
		"marks":          []fiber.Map{{"subject": "Compilers", "marks": 88}},
	}

	status, _ = ta.do(t, http.MethodPost, "/certificate/create", certBody, studentToken)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = ta.do(t, http.MethodPost, "/certificate/create", certBody, adminToken)
	require.Equal(t, http.StatusCreated, status, resp.Message)
	created := decode[struct {
		PRN         string `json:"prn"`
		SNO         string `json:"sno"`
		Fingerprint string `json:"fingerprint"`
		Digest      string `json:"digest"`
	}](t, resp.Data)
	assert.Equal(t, testPRN, created.PRN)
	assert.NotEmpty(t, created.SNO)
	assert.Equal(t, fingerprint.Digest(created.Fingerprint), created.Digest)
	assert.NotEmpty(t, resp.Warnings)
	assert.Equal(t, 1, ta.mailbox.count(notify.KindCertificateIssued))

	status, _ = ta.do(t, http.MethodPost, "/certificate/create", certBody, adminToken)
	assert.Equal(t, http.StatusConflict, status)

	// verifier opens a request
	requestBody := fiber.Map{
		"prn":           testPRN,
		"verifierName":  "Acme Audit",
		"verifierEmail": auditorMail,
		"verifierOrg":   "Acme",
	}
	status, resp = ta.do(t, http.MethodPost, "/verification/request", requestBody, "")
	require.Equal(t, http.StatusCreated, status, resp.Message)
	requestID := decode[struct {
		RequestID string `json:"requestId"`
	}](t, resp.Data).RequestID
	require.NotEmpty(t, requestID)
	assert.Equal(t, 1, ta.mailbox.count(notify.KindRequestCreated))

	requestBody["verifierEmail"] = "Auditor@Example.com"
	status, resp = ta.do(t, http.MethodPost, "/verification/request", requestBody, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, requestID, decode[struct {
		RequestID string `json:"requestId"`
	}](t, resp.Data).RequestID)
	assert.Equal(t, 1, ta.mailbox.count(notify.KindRequestCreated))

	status, resp = ta.do(t, http.MethodGet, "/verification/status/"+requestID+"?email="+auditorMail, nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "PENDING", decode[struct {
		Status string `json:"status"`
	}](t, resp.Data).Status)

	status, _ = ta.do(t, http.MethodGet, "/verification/certificate/"+testPRN+"?email="+auditorMail, nil, "")
	assert.Equal(t, http.StatusForbidden, status)

	// only the owner may resolve
	resolveBody := fiber.Map{"requestId": requestID, "action": "APPROVE"}
	status, _ = ta.do(t, http.MethodPatch, "/verification/request/resolve", resolveBody, adminToken)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = ta.do(t, http.MethodPatch, "/verification/request/resolve", resolveBody, studentToken)
	require.Equal(t, http.StatusOK, status, resp.Message)
	assert.Equal(t, 1, ta.mailbox.count(notify.KindRequestApproved))

	status, _ = ta.do(t, http.MethodPatch, "/verification/request/resolve", fiber.Map{"requestId": requestID, "action": "REJECT"}, studentToken)
	assert.Equal(t, http.StatusConflict, status)

	status, resp = ta.do(t, http.MethodGet, "/verification/status/"+requestID+"?email="+auditorMail, nil, "")
	require.Equal(t, http.StatusOK, status)
	polled := decode[struct {
		Status string `json:"status"`
		certificateView
	}](t, resp.Data)
	assert.Equal(t, "APPROVED", polled.Status)
	assert.Equal(t, testPRN, polled.Certificate.PRN)
	assert.Equal(t, "NOT_ANCHORED", polled.Ledger.State)
	assert.False(t, polled.Ledger.Confirmed)
	assert.True(t, polled.Valid)
	assert.NotEmpty(t, resp.Warnings)

	status, _ = ta.do(t, http.MethodGet, "/verification/certificate/"+testPRN+"?email=someone@example.com", nil, "")
	assert.Equal(t, http.StatusForbidden, status)

	// anchor and attach the reference
	txRef, err := ta.client.Anchor(context.Background(), testPRN, created.Digest)
	require.NoError(t, err)
	status, resp = ta.do(t, http.MethodPatch, "/certificate/ledger", fiber.Map{"prn": testPRN, "txRef": txRef}, adminToken)
	require.Equal(t, http.StatusOK, status, resp.Message)

	status, resp = ta.do(t, http.MethodGet, "/verification/certificate/"+testPRN+"?email="+auditorMail, nil, "")
	require.Equal(t, http.StatusOK, status)
	view := decode[certificateView](t, resp.Data)
	assert.Equal(t, "CONFIRMED", view.Ledger.State)
	assert.True(t, view.Ledger.Confirmed)
	assert.True(t, view.Valid)
	assert.Empty(t, resp.Warnings)

	ta.backend.SetOffline(true)
	status, resp = ta.do(t, http.MethodGet, "/verification/certificate/"+testPRN+"?email="+auditorMail, nil, "")
	require.Equal(t, http.StatusOK, status)
	view = decode[certificateView](t, resp.Data)
	assert.Equal(t, "CONFIRMED_HISTORICAL", view.Ledger.State)
	assert.True(t, view.Ledger.Confirmed)
	assert.NotEmpty(t, resp.Warnings)
	ta.backend.SetOffline(false)

	status, resp = ta.do(t, http.MethodGet, "/student/verification-requests", nil, studentToken)
	require.Equal(t, http.StatusOK, status)
	list := decode[verification.StudentRequests](t, resp.Data)
	assert.Equal(t, 1, list.Stats.Total)
	assert.Equal(t, 1, list.Stats.Approved)

	status, resp = ta.do(t, http.MethodGet, "/admin/dashboard", nil, adminToken)
	require.Equal(t, http.StatusOK, status)
	stats := decode[certificate.Stats](t, resp.Data)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Anchored)
}

func TestOfflineRequestChecksPayloadOwner(t *testing.T) {
	ta := newTestApp(t)

	status, _ := ta.do(t, http.MethodPost, "/auth/signup", fiber.Map{"name": "Asha Rao", "email": "asha@example.com", "password": "student-pass"}, "")
	require.Equal(t, http.StatusCreated, status)
	adminToken := ta.login(t, "registrar@mit.example", "registrar-pass")

	status, _ = ta.do(t, http.MethodPost, "/certificate/create", fiber.Map{
		"prn":            testPRN,
		"studentEmail":   "asha@example.com",
		"courseName":     "Computer Engineering",
		"issueDate":      "2025-06-30",
		"certificateUrl": "https://files.example.com/PRN2025000123.pdf",
	}, adminToken)
	require.Equal(t, http.StatusCreated, status)

	body := fiber.Map{
		"payload":       `{"prn":"PRN2025000123","email":"mallory@example.com"}`,
		"verifierName":  "Acme Audit",
		"verifierEmail": auditorMail,
	}
	status, _ = ta.do(t, http.MethodPost, "/verification/offline", body, "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	body["payload"] = fiber.Map{"prn": testPRN, "email": "asha@example.com", "sno": "X"}
	status, resp := ta.do(t, http.MethodPost, "/verification/offline", body, "")
	assert.Equal(t, http.StatusCreated, status, resp.Message)
}

func TestCertificateRoutesRequireAuth(t *testing.T) {
	ta := newTestApp(t)

	status, _ := ta.do(t, http.MethodGet, "/certificate/"+testPRN, nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = ta.do(t, http.MethodGet, "/admin/dashboard", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = ta.do(t, http.MethodGet, "/verification/status/not-a-uuid?email="+auditorMail, nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestHealthAndMetrics(t *testing.T) {
	ta := newTestApp(t)

	resp, err := ta.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ta.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
