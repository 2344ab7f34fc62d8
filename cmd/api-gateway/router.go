package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/handler"
	"github.com/noah-isme/edu-manage-api/internal/middleware"
	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/pkg/config"
	"github.com/noah-isme/edu-manage-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/edu-manage-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/edu-manage-api/pkg/middleware/requestid"
)

type routerDeps struct {
	auth    middleware.TokenValidator
	audit   middleware.AuditRecorder
	metrics middleware.RequestObserver

	users         *handler.UserHandler
	authH         *handler.AuthHandler
	courses       *handler.CourseHandler
	enrollments   *handler.EnrollmentHandler
	assignments   *handler.AssignmentHandler
	quizzes       *handler.QuizHandler
	grades        *handler.GradeHandler
	notifications *handler.NotificationHandler
	auditLogs     *handler.AuditHandler
	files         *handler.FileHandler
	reports       *handler.ReportHandler
	realtime      *handler.RealtimeHandler
	ops           *handler.MetricsHandler
}

const (
	student    = models.RoleStudent
	teacher    = models.RoleTeacher
	supervisor = models.RoleSupervisorTeacher
	admin      = models.RoleAdmin
)

func newRouter(cfg *config.Config, logr *zap.Logger, d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.metrics))

	r.GET("/health", d.ops.Health)
	r.GET("/ready", d.ops.Ready)
	r.GET("/metrics", d.ops.Prometheus)
	r.GET("/ws", d.realtime.Connect)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	authGroup := api.Group("/auth")
	authGroup.POST("/login", d.authH.Login)
	authGroup.POST("/refresh", d.authH.Refresh)

	secured := api.Group("")
	secured.Use(middleware.JWT(d.auth))

	secured.POST("/auth/logout", d.authH.Logout)
	secured.POST("/auth/change-password", d.authH.ChangePassword)
	secured.GET("/auth/me", d.authH.Me)

	// Downloads authenticate through the signed token alone.
	api.GET("/files/download", d.files.Download)
	api.GET("/reports/download", d.reports.Download)

	registerUserRoutes(secured, d)
	registerCourseRoutes(secured, d)
	registerCourseworkRoutes(secured, d)
	registerNotificationRoutes(secured, d)
	registerAdminRoutes(secured, d)

	return r
}

func registerUserRoutes(g *gin.RouterGroup, d routerDeps) {
	users := g.Group("/users")
	staff := middleware.RequireRoles(supervisor, admin)
	adminOnly := middleware.RequireRoles(admin)

	users.POST("/students", staff, d.users.CreateForRole(student))
	users.POST("/teachers", staff, d.users.CreateForRole(teacher))
	users.POST("/supervisors", adminOnly, d.users.CreateForRole(supervisor))
	users.POST("/admins", adminOnly, d.users.CreateForRole(admin))
	users.GET("", middleware.RequireRoles(teacher, supervisor, admin), d.users.List)
	users.GET("/:id", middleware.RBAC(string(teacher), string(supervisor), string(admin), middleware.Self), d.users.Get)
	users.PUT("/:id", middleware.RBAC(string(supervisor), string(admin), middleware.Self), d.users.Update)
	users.PATCH("/:id/deactivate", staff, d.users.Deactivate)
	users.DELETE("/:id", adminOnly, d.users.Delete)
}

func registerCourseRoutes(g *gin.RouterGroup, d routerDeps) {
	instructors := middleware.RequireRoles(teacher, supervisor, admin)
	staff := middleware.RequireRoles(supervisor, admin)

	courses := g.Group("/courses")
	courses.POST("", staff, d.courses.Create)
	courses.GET("", d.courses.List)
	courses.GET("/:id", d.courses.Get)
	courses.PUT("/:id", instructors, d.courses.Update)
	courses.DELETE("/:id", staff, d.courses.Delete)
	courses.GET("/:id/study-plan", d.courses.GetStudyPlan)
	courses.POST("/:id/study-plan", instructors, d.courses.SetStudyPlan)
	courses.PUT("/:id/study-plan/weeks/:week", instructors, d.courses.UpsertStudyPlanWeek)
	courses.DELETE("/:id/study-plan", instructors, d.courses.DeleteStudyPlan)

	enrollment := g.Group("/enrollment")
	enrollment.POST("/courses/:id/students", instructors, d.enrollments.Enroll)
	enrollment.POST("/courses/:id/bulk-enroll", staff, d.enrollments.BulkEnroll)
	enrollment.GET("/courses/:id/students", instructors, d.enrollments.ListByCourse)
	enrollment.DELETE("/courses/:id/students/:studentId", d.enrollments.Drop)
	enrollment.GET("/students/:id/courses", middleware.RBAC(string(teacher), string(supervisor), string(admin), middleware.Self), d.enrollments.ListByStudent)
}

func registerCourseworkRoutes(g *gin.RouterGroup, d routerDeps) {
	instructors := middleware.RequireRoles(teacher, supervisor, admin)

	assignments := g.Group("/assignments")
	assignments.POST("", instructors, d.assignments.Create)
	assignments.GET("", d.assignments.List)
	assignments.GET("/overdue", d.assignments.ListOverdue)
	assignments.GET("/:id", d.assignments.Get)
	assignments.PUT("/:id", instructors, d.assignments.Update)
	assignments.DELETE("/:id", instructors, d.assignments.Delete)
	assignments.POST("/:id/submit", middleware.RequireRoles(student), d.assignments.Submit)
	assignments.GET("/:id/submissions", instructors, d.assignments.ListSubmissions)

	quizzes := g.Group("/quizzes")
	quizzes.POST("", instructors, d.quizzes.Create)
	quizzes.GET("", d.quizzes.List)
	quizzes.GET("/:id", d.quizzes.Get)
	quizzes.PUT("/:id", instructors, d.quizzes.Update)
	quizzes.DELETE("/:id", instructors, d.quizzes.Delete)

	attempts := g.Group("/quiz-attempts")
	attempts.POST("/start/:quizId", middleware.RequireRoles(student), d.quizzes.StartAttempt)
	attempts.POST("/:id/submit", middleware.RequireRoles(student), d.quizzes.SubmitAttempt)
	attempts.GET("/:id", d.quizzes.GetAttempt)
	attempts.GET("/quiz/:quizId", d.quizzes.ListAttempts)

	grades := g.Group("/grades")
	grades.POST("/submissions/:id", instructors, d.grades.GradeSubmission)
	grades.PUT("/:id", instructors, d.grades.Update)
	grades.GET("/student/:id", middleware.RBAC(string(teacher), string(supervisor), string(admin), middleware.Self), d.grades.ListByStudent)
	grades.GET("/student/:id/gpa", middleware.RBAC(string(teacher), string(supervisor), string(admin), middleware.Self), d.grades.GPA)
	grades.GET("/course/:id", instructors, d.grades.ListByCourse)

	files := g.Group("/files")
	files.POST("", d.files.Upload)
	files.GET("/:id", d.files.Get)
	files.DELETE("/:id", d.files.Delete)
}

func registerNotificationRoutes(g *gin.RouterGroup, d routerDeps) {
	senders := middleware.RequireRoles(teacher, supervisor, admin)

	notifications := g.Group("/notifications")
	notifications.GET("", d.notifications.List)
	notifications.GET("/unread-count", d.notifications.UnreadCount)
	notifications.PATCH("/read-all", d.notifications.MarkAllRead)
	notifications.PATCH("/:id/read", d.notifications.MarkRead)
	notifications.DELETE("/:id", d.notifications.Delete)
	sent := middleware.Audit(d.audit, models.AuditActionNotify, models.AuditResourceNotification)
	notifications.POST("/users/:id", senders, sent, d.notifications.SendToUser)
	notifications.POST("/roles/:role", middleware.RequireRoles(supervisor, admin), sent, d.notifications.SendToRole)
	notifications.POST("/courses/:id", senders, sent, d.notifications.SendToCourse)
}

func registerAdminRoutes(g *gin.RouterGroup, d routerDeps) {
	adminOnly := middleware.RequireRoles(admin)

	g.GET("/audit-logs", adminOnly, d.auditLogs.List)

	reports := g.Group("/reports")
	reports.GET("/overview", adminOnly, d.reports.Overview)
	reports.POST("/export", middleware.RequireRoles(supervisor, admin), d.reports.Export)
	reports.GET("/jobs/:id", middleware.RequireRoles(supervisor, admin), d.reports.JobStatus)
}
