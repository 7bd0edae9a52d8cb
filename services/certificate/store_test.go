package certificate

import (
	"context"
	"sync"
	"testing"
	"time"

	"certproof/database"
	"certproof/fingerprint"
	"certproof/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	store   *Store
	issuer  models.User
	student models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := database.SetupTestDB(t)

	issuer := models.User{Name: "MIT Pune", Email: "registrar@mit.example", Role: models.RoleAdmin, Password: "x", InstituteCode: "mit"}
	student := models.User{Name: "Asha Rao", Email: "asha@example.com", Role: models.RoleStudent, Password: "x"}
	require.NoError(t, db.Create(&issuer).Error)
	require.NoError(t, db.Create(&student).Error)

	return &fixture{
		db:      db,
		store:   NewStore(db, fingerprint.NewSigner("test-secret")),
		issuer:  issuer,
		student: student,
	}
}

func payload(prn string) CreatePayload {
	cgpa := 8.7
	completed := time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)
	return CreatePayload{
		PRN:          prn,
		StudentEmail: "Asha@Example.com ",
		Marks: []fingerprint.Mark{
			{Subject: "Algorithms", Marks: 91},
			{Subject: "Databases", Marks: 84.5},
		},
		CourseName:     "Computer Engineering",
		Degree:         "B.Tech",
		CGPA:           &cgpa,
		Division:       "First",
		IssueDate:      time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		CompletionDate: &completed,
		CertificateURL: "https://files.example.com/" + prn + ".pdf",
	}
}

func TestCreateCertificateRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.store.CreateCertificate(ctx, f.issuer.ID, payload("PRN2025000123"))
	require.NoError(t, err)
	assert.Regexp(t, `^MIT-2025-\d{6}$`, created.SNO)
	assert.Equal(t, f.student.ID, created.OwnerID)
	assert.Equal(t, "asha@example.com", created.StudentEmail)
	assert.Equal(t, "Asha Rao", created.StudentName)
	assert.False(t, created.IsAnchored())

	found, err := f.store.FindByPRN(ctx, "PRN2025000123")
	require.NoError(t, err)

	decoded, err := f.store.Decode(found)
	require.NoError(t, err)
	assert.True(t, decoded.Equal(found.Data()))
	assert.Equal(t, "2025-06-30", decoded.IssueDate)
	assert.Equal(t, "2025-05-31", decoded.CompletionDate)
	assert.Len(t, decoded.Marks, 2)
	assert.NoError(t, f.store.VerifyIntegrity(found))

	var job models.AnchorJob
	require.NoError(t, f.db.Where("certificate_id = ?", found.ID).First(&job).Error)
	assert.Equal(t, models.AnchorQueued, job.State)
	assert.Equal(t, fingerprint.Digest(found.Fingerprint), job.Digest)
}

func TestCreateCertificateDuplicatePRN(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.store.CreateCertificate(ctx, f.issuer.ID, payload("PRN2025000123"))
	require.NoError(t, err)

	second := payload("PRN2025000123")
	second.CourseName = "Mechanical Engineering"
	_, err = f.store.CreateCertificate(ctx, f.issuer.ID, second)
	assert.ErrorIs(t, err, ErrDuplicatePRN)

	stored, err := f.store.FindByPRN(ctx, "PRN2025000123")
	require.NoError(t, err)
	assert.Equal(t, first.SNO, stored.SNO)
	assert.Equal(t, "Computer Engineering", stored.CourseName)
	assert.Equal(t, first.Fingerprint, stored.Fingerprint)

	var jobs int64
	f.db.Model(&models.AnchorJob{}).Count(&jobs)
	assert.Equal(t, int64(1), jobs)
}

func TestCreateCertificateConcurrentSamePRN(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.store.CreateCertificate(ctx, f.issuer.ID, payload("PRN2025000999"))
		}(i)
	}
	wg.Wait()

	succeeded, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, ErrDuplicatePRN):
			duplicates++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, duplicates)

	var count int64
	f.db.Model(&models.Certificate{}).Where("prn = ?", "PRN2025000999").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCreateCertificateRetriesSerialCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	serials := []string{"MIT-2025-000001", "MIT-2025-000001", "MIT-2025-000002"}
	calls := 0
	f.store.serial = func(string, int) (string, error) {
		s := serials[calls]
		calls++
		return s, nil
	}

	_, err := f.store.CreateCertificate(ctx, f.issuer.ID, payload("PRN2025000001"))
	require.NoError(t, err)

	second, err := f.store.CreateCertificate(ctx, f.issuer.ID, payload("PRN2025000002"))
	require.NoError(t, err)
	assert.Equal(t, "MIT-2025-000002", second.SNO)
	assert.Equal(t, 3, calls)
	assert.NoError(t, f.store.VerifyIntegrity(second))
}

func TestCreateCertificateSerialExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.serial = func(string, int) (string, error) { return "MIT-2025-000001", nil }

	_, err := f.store.CreateCertificate(ctx, f.issuer.ID, payload("PRN2025000001"))
	require.NoError(t, err)

	_, err = f.store.CreateCertificate(ctx, f.issuer.ID, payload("PRN2025000002"))
	assert.ErrorIs(t, err, ErrSerialExhausted)

	_, err = f.store.FindByPRN(ctx, "PRN2025000002")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateCertificateGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := payload("PRN2025000123")
	p.StudentEmail = "nobody@example.com"
	_, err := f.store.CreateCertificate(ctx, f.issuer.ID, p)
	assert.ErrorIs(t, err, ErrStudentNotFound)

	_, err = f.store.CreateCertificate(ctx, 9999, payload("PRN2025000123"))
	assert.ErrorIs(t, err, ErrIssuerNotFound)

	_, err = f.store.CreateCertificate(ctx, f.student.ID, payload("PRN2025000123"))
	assert.ErrorIs(t, err, ErrNotIssuer)

	p = payload("PRN2025000123")
	p.CertificateURL = ""
	_, err = f.store.CreateCertificate(ctx, f.issuer.ID, p)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "certificateUrl", verr.Field)

	var count int64
	f.db.Model(&models.Certificate{}).Count(&count)
	assert.Zero(t, count)
}

func TestAttachLedgerReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.store.CreateCertificate(ctx, f.issuer.ID, payload("PRN2025000123"))
	require.NoError(t, err)

	cert, err := f.store.AttachLedgerReference(ctx, "PRN2025000123", "tx-1")
	require.NoError(t, err)
	require.True(t, cert.IsAnchored())
	assert.Equal(t, "tx-1", *cert.TransactionRef)

	again, err := f.store.AttachLedgerReference(ctx, "PRN2025000123", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, cert.AnchoredAt.Unix(), again.AnchoredAt.Unix())

	replaced, err := f.store.AttachLedgerReference(ctx, "PRN2025000123", "tx-2")
	require.NoError(t, err)
	assert.Equal(t, "tx-2", *replaced.TransactionRef)

	stored, err := f.store.FindByPRN(ctx, "PRN2025000123")
	require.NoError(t, err)
	assert.Equal(t, "tx-2", *stored.TransactionRef)
	assert.Equal(t, created.Fingerprint, stored.Fingerprint, "attaching a reference never touches the fingerprint")

	ref, err := f.store.LedgerReference(ctx, "PRN2025000123")
	require.NoError(t, err)
	assert.Equal(t, "tx-2", ref)

	var job models.AnchorJob
	require.NoError(t, f.db.Where("certificate_id = ?", created.ID).First(&job).Error)
	assert.Equal(t, models.AnchorConfirmed, job.State)

	_, err = f.store.AttachLedgerReference(ctx, "PRN-missing", "tx-3")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.store.AttachLedgerReference(ctx, "PRN2025000123", " ")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestVerifyIntegrityDetectsTampering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.CreateCertificate(ctx, f.issuer.ID, payload("PRN2025000123"))
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Certificate{}).
		Where("prn = ?", "PRN2025000123").
		Update("division", "Distinction").Error)

	tampered, err := f.store.FindByPRN(ctx, "PRN2025000123")
	require.NoError(t, err)
	assert.ErrorIs(t, f.store.VerifyIntegrity(tampered), ErrIntegrity)

	tampered.Fingerprint = "garbage"
	err = f.store.VerifyIntegrity(tampered)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.ErrorIs(t, err, fingerprint.ErrInvalidSignature)
}

func TestListStatsAndRequeue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, prn := range []string{"PRN2025000001", "PRN2025000002", "PRN2025000003"} {
		_, err := f.store.CreateCertificate(ctx, f.issuer.ID, payload(prn))
		require.NoError(t, err)
	}
	_, err := f.store.AttachLedgerReference(ctx, "PRN2025000002", "tx-2")
	require.NoError(t, err)

	anchored, total, err := f.store.List(ctx, ListFilter{Status: "anchored"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "PRN2025000002", anchored[0].PRN)

	_, total, err = f.store.List(ctx, ListFilter{Status: "pending"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	found, total, err := f.store.List(ctx, ListFilter{Search: "000003"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "PRN2025000003", found[0].PRN)

	owned, err := f.store.ListByOwner(ctx, f.student.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 3)

	st, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Total)
	assert.Equal(t, int64(1), st.Anchored)
	assert.Equal(t, int64(2), st.Pending)
	assert.Equal(t, int64(3), st.IssuedToday)

	_, err = f.store.RequeueAnchor(ctx, "PRN2025000002")
	assert.ErrorIs(t, err, ErrAlreadyAnchored)

	// a worker holds the job
	require.NoError(t, f.db.Model(&models.AnchorJob{}).Where("prn = ?", "PRN2025000001").
		Updates(map[string]interface{}{"state": models.AnchorSubmitted, "tx_ref": "mem-inflight"}).Error)
	_, err = f.store.RequeueAnchor(ctx, "PRN2025000001")
	assert.ErrorIs(t, err, ErrAnchorInFlight)

	require.NoError(t, f.db.Model(&models.AnchorJob{}).Where("prn = ?", "PRN2025000001").
		Updates(map[string]interface{}{"state": models.AnchorFailed, "attempts": 8}).Error)

	job, err := f.store.RequeueAnchor(ctx, "PRN2025000001")
	require.NoError(t, err)
	assert.Equal(t, models.AnchorQueued, job.State)
	assert.Zero(t, job.Attempts)
}

func TestSerialPrefix(t *testing.T) {
	assert.Equal(t, "MIT", serialPrefix(&models.User{InstituteCode: "mit", Name: "Anything"}))
	assert.Equal(t, "PUN", serialPrefix(&models.User{Name: "Pune University"}))
	assert.Equal(t, "AB", serialPrefix(&models.User{Name: "A. B."}))
	assert.Equal(t, "CRT", serialPrefix(&models.User{Name: "42"}))

	sno, err := randomSerial("MIT", 2025)
	require.NoError(t, err)
	assert.Regexp(t, `^MIT-2025-\d{6}$`, sno)
}
