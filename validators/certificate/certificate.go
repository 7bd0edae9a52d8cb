package certificateValidator

import (
	"strings"
	"time"

	"certproof/fingerprint"
	"certproof/middleware"
	"certproof/services/certificate"
	"certproof/validators"

	"github.com/gofiber/fiber/v2"
)

const dateLayout = "2006-01-02"

type MarkRequest struct {
	Subject string  `json:"subject" validate:"required,max=120"`
	Marks   float64 `json:"marks" validate:"gte=0,lte=1000"`
}

type CreateCertificateRequest struct {
	PRN            string        `json:"prn" validate:"required,prn"`
	StudentEmail   string        `json:"studentEmail" validate:"required,email"`
	StudentName    string        `json:"studentName" validate:"omitempty,max=200"`
	Marks          []MarkRequest `json:"marks" validate:"omitempty,max=64,dive"`
	CourseName     string        `json:"courseName" validate:"required,max=200"`
	Degree         string        `json:"degree" validate:"omitempty,max=120"`
	Specialization string        `json:"specialization" validate:"omitempty,max=200"`
	CGPA           *float64      `json:"cgpa" validate:"omitempty,gte=0,lte=10"`
	Division       string        `json:"division" validate:"omitempty,max=60"`
	IssueDate      string        `json:"issueDate" validate:"required,datetime=2006-01-02"`
	CompletionDate string        `json:"completionDate" validate:"omitempty,datetime=2006-01-02"`
	CertificateURL string        `json:"certificateUrl" validate:"required,url"`
	OffChainURL    string        `json:"offChainUrl" validate:"omitempty,url"`
}

// Payload converts an already validated request.
func (r *CreateCertificateRequest) Payload() certificate.CreatePayload {
	issueDate, _ := time.Parse(dateLayout, r.IssueDate)
	p := certificate.CreatePayload{
		PRN:            r.PRN,
		StudentEmail:   r.StudentEmail,
		StudentName:    r.StudentName,
		CourseName:     r.CourseName,
		Degree:         r.Degree,
		Specialization: r.Specialization,
		CGPA:           r.CGPA,
		Division:       r.Division,
		IssueDate:      issueDate,
		CertificateURL: r.CertificateURL,
		OffChainURL:    r.OffChainURL,
	}
	if r.CompletionDate != "" {
		completed, _ := time.Parse(dateLayout, r.CompletionDate)
		p.CompletionDate = &completed
	}
	p.Marks = make([]fingerprint.Mark, 0, len(r.Marks))
	for _, m := range r.Marks {
		p.Marks = append(p.Marks, fingerprint.Mark{Subject: strings.TrimSpace(m.Subject), Marks: m.Marks})
	}
	return p
}

type AttachLedgerRequest struct {
	PRN   string `json:"prn" validate:"required,prn"`
	TxRef string `json:"txRef" validate:"required,max=128"`
}

type prnParam struct {
	PRN string `json:"prn" validate:"required,prn"`
}

// CreateCertificate validator middleware
func CreateCertificate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(CreateCertificateRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}
		reqData.PRN = strings.TrimSpace(reqData.PRN)
		reqData.StudentEmail = strings.TrimSpace(reqData.StudentEmail)

		errors := validators.Struct(reqData)
		if len(errors) == 0 && reqData.CompletionDate != "" && reqData.CompletionDate > reqData.IssueDate {
			errors["completionDate"] = "completionDate cannot be after issueDate!"
		}
		if len(errors) > 0 {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedCertificate", reqData)
		return c.Next()
	}
}

// AttachLedger validator middleware
func AttachLedger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(AttachLedgerRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}
		reqData.PRN = strings.TrimSpace(reqData.PRN)
		reqData.TxRef = strings.TrimSpace(reqData.TxRef)

		if errors := validators.Struct(reqData); len(errors) > 0 {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedLedger", reqData)
		return c.Next()
	}
}

// PRNParam validates the :prn route parameter and stores it as "prn".
func PRNParam() fiber.Handler {
	return func(c *fiber.Ctx) error {
		param := prnParam{PRN: strings.TrimSpace(c.Params("prn"))}
		if errors := validators.Struct(&param); len(errors) > 0 {
			return middleware.ValidationErrorResponse(c, errors)
		}
		c.Locals("prn", param.PRN)
		return c.Next()
	}
}
