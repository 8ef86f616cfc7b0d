package router

import (
	"github.com/aicarelung/internal/handler"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const sessionName = "aicare_session"

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), RequestLogger(logger, api.Metrics()), Recovery(logger))

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60,
		HttpOnly: true,
	})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/healthz", api.HealthCheck)
	r.GET("/metrics", gin.WrapH(api.Metrics().Handler()))

	// 病人端路由
	patient := r.Group("/api")
	{
		patient.POST("/register", api.Register)
		patient.POST("/login", api.Login)
		patient.POST("/logout", api.Logout)

		auth := patient.Group("")
		auth.Use(api.PatientAuthRequired())
		{
			auth.GET("/me", api.Me)
			auth.GET("/session", api.StartSession)
			auth.POST("/chat", api.Chat)
			auth.GET("/reports", api.MyReports)
			auth.GET("/education", api.MyEducation)
			auth.POST("/education/:id/read", api.MarkEducationRead)
		}
	}

	// 个案管理后台路由
	admin := r.Group("/admin")
	{
		admin.POST("/login", api.ReviewerLogin)
		admin.POST("/logout", api.ReviewerLogout)

		// 需要认证的后台路由
		auth := admin.Group("/api")
		auth.Use(handler.AuthRequired())
		{
			auth.GET("/stats", api.DashboardStats)

			auth.GET("/alerts", api.PendingAlerts)
			auth.POST("/alerts/:id/handle", api.HandleAlert)

			auth.GET("/patients", api.ListPatients)
			auth.GET("/patients/:id", api.GetPatient)
			auth.PUT("/patients/:id/setup", api.SetupPatient)
			auth.POST("/patients/:id/discharge", api.DischargePatient)

			auth.GET("/education", api.ListEducation)
			auth.POST("/education", api.PushEducation)

			auth.GET("/interventions", api.ListInterventions)
			auth.POST("/interventions", api.SaveIntervention)

			auth.GET("/settings", api.GetSystemSettings)
			auth.PUT("/settings", api.UpdateSystemSettings)
			auth.POST("/settings/ai/test", api.TestAIConnection)

			auth.GET("/export/patients", api.ExportPatients)
			auth.GET("/export/reports", api.ExportReports)
		}
	}

	return r
}
