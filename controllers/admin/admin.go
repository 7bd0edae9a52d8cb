package adminController

import (
	certificateController "certproof/controllers/certificate"
	"certproof/middleware"
	"certproof/services/certificate"
	adminValidator "certproof/validators/admin"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

type AdminController struct {
	Store *certificate.Store
}

func NewAdminController(store *certificate.Store) *AdminController {
	return &AdminController{Store: store}
}

func (ac *AdminController) ListCertificates(c *fiber.Ctx) error {
	reqData, ok := c.Locals("validatedList").(*adminValidator.ListCertificatesRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	certs, total, err := ac.Store.List(c.UserContext(), certificate.ListFilter{
		Status: reqData.Status,
		Search: reqData.Search,
		Page:   reqData.Page,
		Limit:  reqData.Limit,
	})
	if err != nil {
		log.Error().Err(err).Msg("Error listing certificates")
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch certificates!", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Certificates List.", fiber.Map{
		"certificates": certs,
		"pagination": fiber.Map{
			"total": total,
			"page":  reqData.Page,
			"limit": reqData.Limit,
		},
	})
}

func (ac *AdminController) Dashboard(c *fiber.Ctx) error {
	stats, err := ac.Store.Stats(c.UserContext())
	if err != nil {
		log.Error().Err(err).Msg("Error computing dashboard stats")
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch dashboard!", nil)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Dashboard.", stats)
}

// RequeueAnchor re-arms the anchoring job of an unanchored certificate.
func (ac *AdminController) RequeueAnchor(c *fiber.Ctx) error {
	prn, _ := c.Locals("prn").(string)

	job, err := ac.Store.RequeueAnchor(c.UserContext(), prn)
	if err != nil {
		return certificateController.StoreError(c, err)
	}

	log.Info().Str("prn", prn).Msg("Anchoring requeued")
	return middleware.JsonResponse(c, fiber.StatusAccepted, true, "Anchoring requeued.", job)
}
