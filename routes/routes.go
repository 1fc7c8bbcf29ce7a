package routes

import (
	"schoolreg/controllers"
	"schoolreg/handlers"
	"schoolreg/middleware"
	"schoolreg/services/activitylog"
	"schoolreg/services/documents"
	"schoolreg/services/health"
	"schoolreg/services/reconciliation"
	"schoolreg/services/websocket"
	"schoolreg/storage"

	"github.com/gofiber/fiber/v2"
)

// Services are the long-lived collaborators the controllers are built from.
// Storage may be nil when S3 is not configured.
type Services struct {
	Engine    *reconciliation.Engine
	Storage   storage.ObjectStore
	Documents *documents.Generator
	Logs      *activitylog.Service
	Health    *health.Service
	Hub       *websocket.Hub
	LineHook  *handlers.LineWebhookHandler
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, svc Services) {
	// Initialize controllers
	authController := &controllers.AuthController{}
	userController := &controllers.UserController{}
	staffController := &controllers.StaffController{}
	courseController := &controllers.CourseController{}
	assignmentController := &controllers.AssignmentController{}
	applicationController := controllers.NewApplicationController(svc.Engine)
	paymentController := controllers.NewPaymentController(svc.Engine)
	portalController := controllers.NewStudentPortalController(svc.Engine, svc.Storage)
	studentController := controllers.NewStudentController(svc.Engine)
	resourceController := controllers.NewResourceController(svc.Storage)
	documentController := controllers.NewDocumentController(svc.Engine, svc.Documents)
	logController := controllers.NewLogController(svc.Logs)
	healthController := controllers.NewHealthController(svc.Health)
	wsController := controllers.NewWebSocketController(svc.Hub)

	app.Get("/health", healthController.GetHealthStatus)

	// API group
	api := app.Group("/api")
	api.Get("/health", healthController.GetHealthStatus)

	// Public routes (no session). Registered before the session groups below.
	api.Get("/courses", applicationController.ListOpenCourses)
	api.Post("/applications", middleware.ApplicationRateLimiter(), applicationController.Submit)
	api.Post("/payment/verify", middleware.PaymentRateLimiter(), paymentController.Verify)
	api.Get("/student/verify-application/:identifier", portalController.VerifyApplication)
	api.Post("/student/setup-security", middleware.LoginRateLimiter(), portalController.SetupSecurity)
	api.Post("/student/login", middleware.LoginRateLimiter(), portalController.Login)
	api.Post("/staff/login", middleware.LoginRateLimiter(), authController.StaffLogin)
	api.Post("/line/webhook", svc.LineHook.Handle)

	// Any session
	api.Post("/auth/logout", middleware.JWTMiddleware(), authController.Logout)

	// Student session
	studentOnly := []fiber.Handler{middleware.JWTMiddleware(), middleware.RequireStudent()}
	api.Get("/receipt/download", append(studentOnly, documentController.DownloadReceipt)...)
	api.Get("/admission-letter/download", append(studentOnly, documentController.DownloadAdmissionLetter)...)

	student := api.Group("/student", studentOnly...)
	student.Post("/complete-registration", portalController.CompleteRegistration)
	student.Get("/me", portalController.Me)
	student.Get("/payments", portalController.Payments)
	student.Get("/assignments", portalController.Assignments)
	student.Post("/assignments/:id/submit", portalController.SubmitAssignment)
	student.Get("/resources", resourceController.StudentResources)

	// Staff session
	staffSession := api.Group("/staff", middleware.JWTMiddleware(), middleware.RequireStaff())
	staffSession.Get("/profile", authController.Profile)
	staffSession.Put("/password", authController.ChangePassword)

	admin := api.Group("/admin", middleware.JWTMiddleware(), middleware.RequireStaff())
	can := middleware.RequireCapability

	staff := admin.Group("/staff")
	staff.Get("/", can(middleware.ActionRead, middleware.ResourceStaff), staffController.GetStaff)
	staff.Get("/:id", can(middleware.ActionRead, middleware.ResourceStaff), staffController.GetStaffMember)
	staff.Post("/", can(middleware.ActionCreate, middleware.ResourceStaff), staffController.CreateStaff)
	staff.Put("/:id", can(middleware.ActionUpdate, middleware.ResourceStaff), staffController.UpdateStaff)
	staff.Delete("/:id", can(middleware.ActionDelete, middleware.ResourceStaff), staffController.DeleteStaff)

	users := admin.Group("/users")
	users.Get("/", can(middleware.ActionRead, middleware.ResourceUsers), userController.GetUsers)
	users.Get("/:id", can(middleware.ActionRead, middleware.ResourceUsers), userController.GetUser)
	users.Post("/", can(middleware.ActionCreate, middleware.ResourceUsers), userController.CreateUser)
	users.Put("/:id", can(middleware.ActionUpdate, middleware.ResourceUsers), userController.UpdateUser)
	users.Delete("/:id", can(middleware.ActionDelete, middleware.ResourceUsers), userController.DeleteUser)

	students := admin.Group("/students")
	students.Get("/", can(middleware.ActionRead, middleware.ResourceStudents), studentController.GetStudents)
	students.Post("/import", can(middleware.ActionCreate, middleware.ResourceStudents), studentController.ImportStudents)
	students.Get("/:id", can(middleware.ActionRead, middleware.ResourceStudents), studentController.GetStudent)
	students.Get("/:id/payments", can(middleware.ActionRead, middleware.ResourcePayments), studentController.GetStudentPayments)
	students.Post("/", can(middleware.ActionCreate, middleware.ResourceStudents), studentController.CreateStudent)
	students.Put("/:id", can(middleware.ActionUpdate, middleware.ResourceStudents), studentController.UpdateStudent)
	students.Delete("/:id", can(middleware.ActionDelete, middleware.ResourceStudents), studentController.DeleteStudent)

	courses := admin.Group("/courses")
	courses.Get("/", can(middleware.ActionRead, middleware.ResourceCourses), courseController.GetCourses)
	courses.Get("/:id", can(middleware.ActionRead, middleware.ResourceCourses), courseController.GetCourse)
	courses.Post("/", can(middleware.ActionCreate, middleware.ResourceCourses), courseController.CreateCourse)
	courses.Put("/:id", can(middleware.ActionUpdate, middleware.ResourceCourses), courseController.UpdateCourse)
	courses.Delete("/:id", can(middleware.ActionDelete, middleware.ResourceCourses), courseController.DeleteCourse)

	resources := admin.Group("/resources")
	resources.Get("/", can(middleware.ActionRead, middleware.ResourceResources), resourceController.GetResources)
	resources.Get("/:id", can(middleware.ActionRead, middleware.ResourceResources), resourceController.GetResource)
	resources.Post("/", can(middleware.ActionCreate, middleware.ResourceResources), resourceController.CreateResource)
	resources.Put("/:id", can(middleware.ActionUpdate, middleware.ResourceResources), resourceController.UpdateResource)
	resources.Delete("/:id", can(middleware.ActionDelete, middleware.ResourceResources), resourceController.DeleteResource)

	assignments := admin.Group("/assignments")
	assignments.Get("/", can(middleware.ActionRead, middleware.ResourceAssignments), assignmentController.GetAssignments)
	assignments.Get("/:id", can(middleware.ActionRead, middleware.ResourceAssignments), assignmentController.GetAssignment)
	assignments.Post("/", can(middleware.ActionCreate, middleware.ResourceAssignments), assignmentController.CreateAssignment)
	assignments.Put("/:id", can(middleware.ActionUpdate, middleware.ResourceAssignments), assignmentController.UpdateAssignment)
	assignments.Delete("/:id", can(middleware.ActionDelete, middleware.ResourceAssignments), assignmentController.DeleteAssignment)
	assignments.Post("/:id/grades", can(middleware.ActionUpdate, middleware.ResourceGrades), assignmentController.GradeAssignment)

	payments := admin.Group("/payments", can(middleware.ActionRead, middleware.ResourcePayments))
	payments.Get("/", paymentController.ListPayments)
	payments.Get("/export", paymentController.ExportPayments)

	admin.Get("/id-card/:type/:id", can(middleware.ActionRead, middleware.ResourceDocuments), documentController.DownloadIDCard)
	admin.Get("/certificate/:studentId", can(middleware.ActionRead, middleware.ResourceDocuments), documentController.DownloadCertificate)

	logs := admin.Group("/logs", can(middleware.ActionRead, middleware.ResourceLogs))
	logs.Get("/", logController.GetLogs)
	logs.Get("/stats", logController.GetLogStats)
	logs.Get("/archives", logController.ListArchives)
	logs.Get("/archives/:id/download", logController.DownloadArchive)
	logs.Post("/archive", can(middleware.ActionDelete, middleware.ResourceLogs), logController.ArchiveNow)
	logs.Get("/:id", logController.GetLog)

	admin.Get("/ws/stats", wsController.GetWebSocketStats)

	// Staff live feed; the session is checked before the upgrade
	app.Get("/ws", wsController.RequireUpgrade, middleware.JWTMiddleware(), middleware.RequireStaff(), wsController.WebSocketHandler())
}
