package verificationValidator

import (
	"bytes"
	"encoding/json"
	"strings"

	"certproof/middleware"
	"certproof/services/verification"
	"certproof/validators"

	"github.com/gofiber/fiber/v2"
)

type CreateRequest struct {
	PRN           string `json:"prn" validate:"required,prn"`
	VerifierName  string `json:"verifierName" validate:"required,max=200"`
	VerifierEmail string `json:"verifierEmail" validate:"required,email"`
	VerifierOrg   string `json:"verifierOrg" validate:"omitempty,max=200"`
	Purpose       string `json:"purpose" validate:"omitempty,max=500"`
}

func (r *CreateRequest) Input() verification.CreateInput {
	return verification.CreateInput{
		PRN:            r.PRN,
		RequesterName:  r.VerifierName,
		RequesterEmail: r.VerifierEmail,
		Organization:   r.VerifierOrg,
		Purpose:        r.Purpose,
	}
}

// QRPayload is the JSON embedded in a certificate's QR code. Only prn and
// email take part in verification.
type QRPayload struct {
	PRN    string `json:"prn" validate:"required,prn"`
	Email  string `json:"email" validate:"required,email"`
	SNO    string `json:"sno"`
	Name   string `json:"name"`
	Course string `json:"course"`
}

type OfflineRequest struct {
	// Payload is the QR content, either as an object or as the raw JSON
	// string read from the code.
	Payload json.RawMessage `json:"payload"`

	VerifierName  string `json:"verifierName" validate:"required,max=200"`
	VerifierEmail string `json:"verifierEmail" validate:"required,email"`
	VerifierOrg   string `json:"verifierOrg" validate:"omitempty,max=200"`
	Purpose       string `json:"purpose" validate:"omitempty,max=500"`

	QR QRPayload `json:"-" validate:"-"`
}

func (r *OfflineRequest) Input() (verification.OfflinePayload, verification.CreateInput) {
	return verification.OfflinePayload{PRN: r.QR.PRN, Email: r.QR.Email},
		verification.CreateInput{
			RequesterName:  r.VerifierName,
			RequesterEmail: r.VerifierEmail,
			Organization:   r.VerifierOrg,
			Purpose:        r.Purpose,
		}
}

type ResolveRequest struct {
	RequestID string `json:"requestId" validate:"required,uuid"`
	Action    string `json:"action" validate:"required"`

	ParsedAction verification.Action `json:"-"`
}

type PollRequest struct {
	RequestID string `json:"requestId" validate:"required,uuid"`
	Email     string `json:"email" validate:"required,email"`
}

type GatedReadRequest struct {
	PRN   string `json:"prn" validate:"required,prn"`
	Email string `json:"email" validate:"required,email"`
}

func decodeQR(raw json.RawMessage) (QRPayload, bool) {
	var qr QRPayload
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return qr, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return qr, false
		}
		raw = []byte(s)
	}
	if err := json.Unmarshal(raw, &qr); err != nil {
		return qr, false
	}
	qr.PRN = strings.TrimSpace(qr.PRN)
	qr.Email = strings.TrimSpace(qr.Email)
	return qr, true
}

// CreateRequestValidator validates a direct verification request
func CreateRequestValidator() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(CreateRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}
		reqData.PRN = strings.TrimSpace(reqData.PRN)
		reqData.VerifierName = strings.TrimSpace(reqData.VerifierName)
		reqData.VerifierEmail = strings.TrimSpace(reqData.VerifierEmail)

		if errors := validators.Struct(reqData); len(errors) > 0 {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedRequest", reqData)
		return c.Next()
	}
}

// OfflineRequestValidator validates a request made from a scanned QR code
func OfflineRequestValidator() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(OfflineRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}
		reqData.VerifierName = strings.TrimSpace(reqData.VerifierName)
		reqData.VerifierEmail = strings.TrimSpace(reqData.VerifierEmail)

		errors := validators.Struct(reqData)
		qr, ok := decodeQR(reqData.Payload)
		if !ok {
			errors["payload"] = "payload must be the certificate's QR content!"
		} else {
			for field, msg := range validators.Struct(&qr) {
				errors["payload."+field] = msg
			}
		}
		if len(errors) > 0 {
			return middleware.ValidationErrorResponse(c, errors)
		}

		reqData.QR = qr
		c.Locals("validatedOffline", reqData)
		return c.Next()
	}
}

// Resolve validator middleware
func Resolve() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(ResolveRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}

		errors := validators.Struct(reqData)
		if _, exists := errors["action"]; !exists {
			action, err := verification.ParseAction(reqData.Action)
			if err != nil {
				errors["action"] = "action must be APPROVE or REJECT!"
			}
			reqData.ParsedAction = action
		}
		if len(errors) > 0 {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedResolve", reqData)
		return c.Next()
	}
}

// Poll validates GET /verification/status/:requestId?email=
func Poll() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := &PollRequest{
			RequestID: strings.TrimSpace(c.Params("requestId")),
			Email:     strings.TrimSpace(c.Query("email")),
		}
		if errors := validators.Struct(reqData); len(errors) > 0 {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedPoll", reqData)
		return c.Next()
	}
}

// GatedRead validates GET /verification/certificate/:prn?email=
func GatedRead() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := &GatedReadRequest{
			PRN:   strings.TrimSpace(c.Params("prn")),
			Email: strings.TrimSpace(c.Query("email")),
		}
		if errors := validators.Struct(reqData); len(errors) > 0 {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedRead", reqData)
		return c.Next()
	}
}

// Respond validates the token of an emailed approve/reject link
func Respond() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Query("token"))
		if token == "" {
			return middleware.ValidationErrorResponse(c, map[string]string{"token": "token is required!"})
		}
		c.Locals("actionToken", token)
		return c.Next()
	}
}
