package routers

import (
	adminController "certproof/controllers/admin"
	certificateController "certproof/controllers/certificate"
	studentController "certproof/controllers/student"
	verificationController "certproof/controllers/verification"
	"certproof/notify"
	adminRoutes "certproof/routers/adminRoutes"
	authRoutes "certproof/routers/authRoutes"
	certificateRoutes "certproof/routers/certificateRoutes"
	studentRoutes "certproof/routers/studentRoutes"
	verificationRoutes "certproof/routers/verificationRoutes"
	"certproof/services/certificate"
	"certproof/services/reconcile"
	"certproof/services/verification"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the wired domain services the HTTP layer depends on.
type Services struct {
	Store        *certificate.Store
	Reconciler   *reconcile.Reconciler
	Verification *verification.Manager
	Notifier     certificateController.Dispatcher
	Templates    notify.Templates
	LedgerName   string
}

// SetupRoutes registers every route group on app.
func SetupRoutes(app *fiber.App, svc Services) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "ledger": svc.LedgerName})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authRoutes.SetupAuthRoutes(app)
	certificateRoutes.SetupCertificateRoutes(app, certificateController.NewCertificateController(svc.Store, svc.Reconciler, svc.Notifier, svc.Templates))
	studentRoutes.SetupStudentRoutes(app, studentController.NewStudentController(svc.Store, svc.Verification))
	verificationRoutes.SetupVerificationRoutes(app, verificationController.NewVerificationController(svc.Verification, svc.Store, svc.Reconciler))
	adminRoutes.SetupAdminRoutes(app, adminController.NewAdminController(svc.Store))
}
