package verificationController

import (
	"errors"

	"certproof/middleware"
	"certproof/models"
	"certproof/services/certificate"
	"certproof/services/reconcile"
	"certproof/services/verification"
	verificationValidator "certproof/validators/verification"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

type VerificationController struct {
	Manager    *verification.Manager
	Store      *certificate.Store
	Reconciler *reconcile.Reconciler
}

func NewVerificationController(manager *verification.Manager, store *certificate.Store, reconciler *reconcile.Reconciler) *VerificationController {
	return &VerificationController{Manager: manager, Store: store, Reconciler: reconciler}
}

// Create opens a verification request for a PRN on behalf of a third party.
func (vc *VerificationController) Create(c *fiber.Ctx) error {
	reqData, ok := c.Locals("validatedRequest").(*verificationValidator.CreateRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	res, err := vc.Manager.Create(c.UserContext(), reqData.Input())
	if err != nil {
		return managerError(c, err)
	}
	return createdResponse(c, res)
}

// Offline opens a request from the QR code printed on a certificate.
func (vc *VerificationController) Offline(c *fiber.Ctx) error {
	reqData, ok := c.Locals("validatedOffline").(*verificationValidator.OfflineRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	payload, input := reqData.Input()
	res, err := vc.Manager.CreateFromOffline(c.UserContext(), payload, input)
	if err != nil {
		return managerError(c, err)
	}
	return createdResponse(c, res)
}

func createdResponse(c *fiber.Ctx, res *verification.CreateResult) error {
	req := res.Request
	switch {
	case res.AlreadyApproved:
		return middleware.JsonResponse(c, fiber.StatusOK, true, "Access has already been approved for this email.", fiber.Map{
			"requestId":       req.ID,
			"status":          req.Status,
			"alreadyApproved": true,
		})
	case res.AlreadyPending:
		return middleware.JsonResponse(c, fiber.StatusConflict, false, "A verification request is already pending for this email.", fiber.Map{
			"requestId": req.ID,
			"status":    req.Status,
		})
	}
	return middleware.JsonResponse(c, fiber.StatusCreated, true, "Verification request sent to the certificate holder.", fiber.Map{
		"requestId": req.ID,
		"status":    req.Status,
		"request":   req,
	})
}

// Resolve lets the certificate owner approve or reject a request.
func (vc *VerificationController) Resolve(c *fiber.Ctx) error {
	userID, ok := c.Locals("userId").(uint)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	reqData, ok := c.Locals("validatedResolve").(*verificationValidator.ResolveRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	req, err := vc.Manager.Resolve(c.UserContext(), userID, reqData.RequestID, reqData.ParsedAction)
	if err != nil {
		return managerError(c, err)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Verification request "+req.Status+".", req)
}

// Respond resolves a request from an emailed approve/reject link.
func (vc *VerificationController) Respond(c *fiber.Ctx) error {
	token, _ := c.Locals("actionToken").(string)

	req, err := vc.Manager.ResolveWithToken(c.UserContext(), token)
	if err != nil {
		return managerError(c, err)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Verification request "+req.Status+".", req)
}

// Status is the requester's poll. An approved request carries the
// certificate and its ledger status.
func (vc *VerificationController) Status(c *fiber.Ctx) error {
	reqData, ok := c.Locals("validatedPoll").(*verificationValidator.PollRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	res, err := vc.Manager.Poll(c.UserContext(), reqData.RequestID, reqData.Email)
	if err != nil {
		return managerError(c, err)
	}
	if res.Certificate == nil {
		return middleware.JsonResponse(c, fiber.StatusOK, true, "Verification request status.", res)
	}

	ledgerRes := vc.Reconciler.Reconcile(c.UserContext(), res.Certificate)
	return middleware.JsonResponseWithWarnings(c, fiber.StatusOK, true, "Verification request status.", fiber.Map{
		"requestId":   res.RequestID,
		"status":      res.Status,
		"requestedAt": res.RequestedAt,
		"respondedAt": res.RespondedAt,
		"certificate": res.Certificate,
		"ledger":      ledgerRes,
		"valid":       !ledgerRes.Invalid(),
	}, ledgerRes.Warnings())
}

// GatedCertificate returns a certificate to an email holding an approved
// request for it.
func (vc *VerificationController) GatedCertificate(c *fiber.Ctx) error {
	reqData, ok := c.Locals("validatedRead").(*verificationValidator.GatedReadRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	allowed, err := vc.Manager.HasAccess(c.UserContext(), reqData.PRN, reqData.Email)
	if err != nil {
		return managerError(c, err)
	}
	if !allowed {
		return middleware.JsonResponse(c, fiber.StatusForbidden, false, "Access to this certificate has not been approved for this email!", nil)
	}

	cert, err := vc.Store.FindByPRN(c.UserContext(), reqData.PRN)
	if err != nil {
		return managerError(c, err)
	}
	return certificateResponse(c, vc.Reconciler, cert)
}

func certificateResponse(c *fiber.Ctx, r *reconcile.Reconciler, cert *models.Certificate) error {
	res := r.Reconcile(c.UserContext(), cert)
	return middleware.JsonResponseWithWarnings(c, fiber.StatusOK, true, "Certificate details.", fiber.Map{
		"certificate": cert,
		"ledger":      res,
		"valid":       !res.Invalid(),
	}, res.Warnings())
}

func managerError(c *fiber.Ctx, err error) error {
	var verr *certificate.ValidationError
	switch {
	case errors.As(err, &verr):
		return middleware.ValidationErrorResponse(c, map[string]string{verr.Field: verr.Message})
	case errors.Is(err, verification.ErrCertificateNotFound), errors.Is(err, certificate.ErrNotFound):
		return middleware.JsonResponse(c, fiber.StatusNotFound, false, "Certificate not found!", nil)
	case errors.Is(err, verification.ErrRequestNotFound):
		return middleware.JsonResponse(c, fiber.StatusNotFound, false, "Verification request not found!", nil)
	case errors.Is(err, verification.ErrNotOwner):
		return middleware.JsonResponse(c, fiber.StatusForbidden, false, "Only the certificate holder can respond to this request!", nil)
	case errors.Is(err, verification.ErrAlreadyResolved):
		return middleware.JsonResponse(c, fiber.StatusConflict, false, "Verification request has already been resolved!", nil)
	case errors.Is(err, verification.ErrInvalidAction):
		return middleware.ValidationErrorResponse(c, map[string]string{"action": "action must be APPROVE or REJECT!"})
	case errors.Is(err, verification.ErrPayloadMismatch):
		return middleware.ValidationErrorResponse(c, map[string]string{"payload": "QR payload does not match the certificate!"})
	case errors.Is(err, verification.ErrInvalidToken):
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "This link is invalid or has expired!", nil)
	}
	log.Error().Err(err).Str("path", c.Path()).Msg("Verification error")
	return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to process your request!", nil)
}
