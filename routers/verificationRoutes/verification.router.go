package verificationRoutes

import (
	verificationController "certproof/controllers/verification"
	"certproof/middleware"
	"certproof/models"
	verificationValidator "certproof/validators/verification"

	"github.com/gofiber/fiber/v2"
)

// SetupVerificationRoutes registers the verifier endpoints (public) and the
// owner's resolve endpoint.
func SetupVerificationRoutes(app *fiber.App, ctrl *verificationController.VerificationController) {
	verificationGroup := app.Group("/verification")

	verificationGroup.Post("/request", verificationValidator.CreateRequestValidator(), ctrl.Create)
	verificationGroup.Post("/offline", verificationValidator.OfflineRequestValidator(), ctrl.Offline)
	verificationGroup.Get("/status/:requestId", verificationValidator.Poll(), ctrl.Status)
	verificationGroup.Get("/certificate/:prn", verificationValidator.GatedRead(), ctrl.GatedCertificate)
	verificationGroup.Get("/respond", verificationValidator.Respond(), ctrl.Respond)

	verificationGroup.Patch("/request/resolve", middleware.JWTMiddleware, middleware.RequireRole(models.RoleStudent), verificationValidator.Resolve(), ctrl.Resolve)
}
