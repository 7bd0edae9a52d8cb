package certificateController

import (
	"errors"

	"certproof/fingerprint"
	"certproof/middleware"
	"certproof/notify"
	"certproof/services/certificate"
	"certproof/services/reconcile"
	certificateValidator "certproof/validators/certificate"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Dispatcher queues an email without blocking the request.
type Dispatcher interface {
	Dispatch(msg notify.Message)
}

type CertificateController struct {
	Store      *certificate.Store
	Reconciler *reconcile.Reconciler
	Notifier   Dispatcher
	Templates  notify.Templates
}

func NewCertificateController(store *certificate.Store, reconciler *reconcile.Reconciler, notifier Dispatcher, templates notify.Templates) *CertificateController {
	return &CertificateController{Store: store, Reconciler: reconciler, Notifier: notifier, Templates: templates}
}

// Create issues a certificate. Anchoring runs in the background; the
// response reports it as queued.
func (cc *CertificateController) Create(c *fiber.Ctx) error {
	userID, ok := c.Locals("userId").(uint)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	reqData, ok := c.Locals("validatedCertificate").(*certificateValidator.CreateCertificateRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	cert, err := cc.Store.CreateCertificate(c.UserContext(), userID, reqData.Payload())
	if err != nil {
		return StoreError(c, err)
	}

	if cc.Notifier != nil {
		cc.Notifier.Dispatch(cc.Templates.CertificateIssued(cert.StudentName, cert.StudentEmail, cert.CourseName, cert.PRN, cert.SNO))
	}

	return middleware.JsonResponseWithWarnings(c, fiber.StatusCreated, true, "Certificate issued successfully.", fiber.Map{
		"prn":         cert.PRN,
		"sno":         cert.SNO,
		"fingerprint": cert.Fingerprint,
		"digest":      fingerprint.Digest(cert.Fingerprint),
		"anchoring":   "QUEUED",
		"certificate": cert,
	}, []string{"ledger anchoring is queued; the transaction reference is attached once confirmed"})
}

// AttachLedger records a transaction reference obtained outside the worker.
func (cc *CertificateController) AttachLedger(c *fiber.Ctx) error {
	reqData, ok := c.Locals("validatedLedger").(*certificateValidator.AttachLedgerRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	cert, err := cc.Store.AttachLedgerReference(c.UserContext(), reqData.PRN, reqData.TxRef)
	if err != nil {
		return StoreError(c, err)
	}

	res := cc.Reconciler.Reconcile(c.UserContext(), cert)
	return middleware.JsonResponseWithWarnings(c, fiber.StatusOK, true, "Ledger reference attached.", fiber.Map{
		"certificate": cert,
		"ledger":      res,
	}, res.Warnings())
}

// Get returns the full record with its live ledger status.
func (cc *CertificateController) Get(c *fiber.Ctx) error {
	prn, _ := c.Locals("prn").(string)

	cert, err := cc.Store.FindByPRN(c.UserContext(), prn)
	if err != nil {
		return StoreError(c, err)
	}

	res := cc.Reconciler.Reconcile(c.UserContext(), cert)
	return middleware.JsonResponseWithWarnings(c, fiber.StatusOK, true, "Certificate details.", fiber.Map{
		"certificate": cert,
		"ledger":      res,
		"valid":       !res.Invalid(),
	}, res.Warnings())
}

// StoreError translates certificate store errors into responses.
func StoreError(c *fiber.Ctx, err error) error {
	var verr *certificate.ValidationError
	switch {
	case errors.As(err, &verr):
		return middleware.ValidationErrorResponse(c, map[string]string{verr.Field: verr.Message})
	case errors.Is(err, certificate.ErrDuplicatePRN):
		return middleware.JsonResponse(c, fiber.StatusConflict, false, "A certificate with this PRN already exists!", nil)
	case errors.Is(err, certificate.ErrStudentNotFound):
		return middleware.JsonResponse(c, fiber.StatusNotFound, false, "No student account is registered with this email!", nil)
	case errors.Is(err, certificate.ErrNotFound):
		return middleware.JsonResponse(c, fiber.StatusNotFound, false, "Certificate not found!", nil)
	case errors.Is(err, certificate.ErrIssuerNotFound), errors.Is(err, certificate.ErrNotIssuer):
		return middleware.JsonResponse(c, fiber.StatusForbidden, false, "You are not allowed to issue certificates!", nil)
	case errors.Is(err, certificate.ErrAlreadyAnchored):
		return middleware.JsonResponse(c, fiber.StatusConflict, false, "Certificate is already anchored!", nil)
	case errors.Is(err, certificate.ErrAnchorInFlight):
		return middleware.JsonResponse(c, fiber.StatusConflict, false, "Anchoring is already in progress for this certificate!", nil)
	case errors.Is(err, certificate.ErrSerialExhausted):
		log.Error().Err(err).Msg("Serial number allocation failed")
		return middleware.JsonResponse(c, fiber.StatusServiceUnavailable, false, "Could not allocate a serial number, please retry!", nil)
	}
	log.Error().Err(err).Str("path", c.Path()).Msg("Certificate store error")
	return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to process your request!", nil)
}
