package studentController

import (
	"certproof/middleware"
	"certproof/services/certificate"
	"certproof/services/verification"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

type StudentController struct {
	Store        *certificate.Store
	Verification *verification.Manager
}

func NewStudentController(store *certificate.Store, manager *verification.Manager) *StudentController {
	return &StudentController{Store: store, Verification: manager}
}

func (sc *StudentController) Certificates(c *fiber.Ctx) error {
	userID, ok := c.Locals("userId").(uint)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}

	certs, err := sc.Store.ListByOwner(c.UserContext(), userID)
	if err != nil {
		log.Error().Err(err).Uint("userId", userID).Msg("Error listing student certificates")
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch certificates!", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Certificates List.", fiber.Map{
		"certificates": certs,
		"total":        len(certs),
	})
}

func (sc *StudentController) VerificationRequests(c *fiber.Ctx) error {
	userID, ok := c.Locals("userId").(uint)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}

	list, err := sc.Verification.ListForStudent(c.UserContext(), userID)
	if err != nil {
		log.Error().Err(err).Uint("userId", userID).Msg("Error listing verification requests")
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch verification requests!", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Verification Requests List.", list)
}
