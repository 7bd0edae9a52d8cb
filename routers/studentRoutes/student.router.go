package studentRoutes

import (
	studentController "certproof/controllers/student"
	"certproof/middleware"
	"certproof/models"

	"github.com/gofiber/fiber/v2"
)

func SetupStudentRoutes(app *fiber.App, ctrl *studentController.StudentController) {
	studentGroup := app.Group("/student", middleware.JWTMiddleware, middleware.RequireRole(models.RoleStudent))

	studentGroup.Get("/certificates", ctrl.Certificates)
	studentGroup.Get("/verification-requests", ctrl.VerificationRequests)
}
