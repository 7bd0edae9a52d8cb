package certificateRoutes

import (
	certificateController "certproof/controllers/certificate"
	"certproof/middleware"
	"certproof/models"
	certificateValidator "certproof/validators/certificate"

	"github.com/gofiber/fiber/v2"
)

func SetupCertificateRoutes(app *fiber.App, ctrl *certificateController.CertificateController) {
	certificateGroup := app.Group("/certificate", middleware.JWTMiddleware, middleware.RequireRole(models.RoleAdmin))

	certificateGroup.Post("/create", certificateValidator.CreateCertificate(), ctrl.Create)
	certificateGroup.Patch("/ledger", certificateValidator.AttachLedger(), ctrl.AttachLedger)
	certificateGroup.Get("/:prn", certificateValidator.PRNParam(), ctrl.Get)
}
