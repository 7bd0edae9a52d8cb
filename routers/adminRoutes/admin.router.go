package adminRoutes

import (
	adminController "certproof/controllers/admin"
	"certproof/middleware"
	"certproof/models"
	adminValidator "certproof/validators/admin"
	certificateValidator "certproof/validators/certificate"

	"github.com/gofiber/fiber/v2"
)

func SetupAdminRoutes(app *fiber.App, ctrl *adminController.AdminController) {
	adminGroup := app.Group("/admin", middleware.JWTMiddleware, middleware.RequireRole(models.RoleAdmin))

	adminGroup.Get("/certificates", adminValidator.ListCertificates(), ctrl.ListCertificates)
	adminGroup.Get("/dashboard", ctrl.Dashboard)
	adminGroup.Post("/certificate/:prn/anchor", certificateValidator.PRNParam(), ctrl.RequeueAnchor)
}
