package adminValidator

import (
	"strings"

	"certproof/middleware"
	"certproof/validators"

	"github.com/gofiber/fiber/v2"
)

type ListCertificatesRequest struct {
	Page   int    `query:"page" validate:"gte=1"`
	Limit  int    `query:"limit" validate:"gte=1,lte=100"`
	Status string `query:"status" validate:"omitempty,oneof=anchored pending"`
	Search string `query:"search" validate:"omitempty,max=120"`
}

// ListCertificates validator middleware
func ListCertificates() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := &ListCertificatesRequest{Page: 1, Limit: 20}
		if err := c.QueryParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid query parameters!", nil)
		}
		reqData.Status = strings.ToLower(strings.TrimSpace(reqData.Status))
		reqData.Search = strings.TrimSpace(reqData.Search)

		if errors := validators.Struct(reqData); len(errors) > 0 {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedList", reqData)
		return c.Next()
	}
}
