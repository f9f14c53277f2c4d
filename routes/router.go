package routes

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"survey-management-backend/handlers"
	"survey-management-backend/websocket"
)

// Server wraps the HTTP server.
type Server struct {
	*http.Server
}

// SetupRouter configures the Gin engine: CORS, rate limiting, the full API
// surface and the background status sweep.
func SetupRouter(wsHandler *websocket.Handler) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // restrict to the frontend origin in production
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-User-Role"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handlers.InitRateLimiters()

	go startStatusSweeper()

	api := router.Group("/api")
	{
		api.Use(handlers.RateLimitMiddleware())

		api.GET("/health", handlers.HealthCheck)
		api.GET("/status", handlers.SystemStatus)

		surveys := api.Group("/surveys")
		{
			surveys.POST("", handlers.CreateSurvey)
			surveys.GET("", handlers.GetSurveys)
			surveys.POST("/reconcile", handlers.ReconcileSurveyStatuses)
			surveys.GET("/:id", handlers.GetSurvey)
			surveys.PUT("/:id", handlers.UpdateSurvey)
			surveys.DELETE("/:id", handlers.DeleteSurvey)
			surveys.POST("/:id/status", handlers.AdvanceSurveyStatus)

			surveys.POST("/:id/questions", handlers.AddQuestion)
			surveys.GET("/:id/questions", handlers.GetQuestions)

			surveys.GET("/:id/consent/status", handlers.GetConsentStatus)
			surveys.POST("/:id/consent/regenerate", handlers.RegenerateConsentRecords)

			surveys.POST("/:id/tokens", handlers.GenerateAccessTokens)
			surveys.GET("/:id/tokens", handlers.ListAccessTokens)
			surveys.GET("/:id/tokens/:token/validate", handlers.ValidateAccessToken)
			surveys.DELETE("/:id/tokens/:tokenID", handlers.RevokeAccessToken)

			surveys.POST("/:id/attempts", handlers.StartAttempt)

			surveys.GET("/:id/report", handlers.GetSurveyReport)
			surveys.GET("/:id/live", handlers.HandleSSE)
			if wsHandler != nil {
				surveys.GET("/:id/ws", wsHandler.HandleConnection)
			}
		}

		consent := api.Group("/consent")
		{
			consent.GET("/:token", handlers.VerifyConsentToken)
			consent.POST("/:token", handlers.DecideConsent)
		}

		attempts := api.Group("/attempts")
		{
			attempts.POST("/:id/responses", handlers.SubmitResponses)
			attempts.POST("/:id/complete", handlers.CompleteAttempt)
		}

		questions := api.Group("/questions")
		{
			questions.DELETE("/:id", handlers.DeleteQuestion)
		}

		users := api.Group("/users")
		{
			users.POST("", handlers.CreateUser)
			users.GET("", handlers.GetUsers)
		}

		admin := api.Group("/admin")
		{
			admin.GET("/ratelimit/stats", handlers.GetRateLimiterStats)
			admin.POST("/ratelimit/config", handlers.UpdateRateLimiterConfig)
		}
	}

	return router
}

// StartServer starts the HTTP server on SERVER_PORT (default 8090).
func StartServer(router *gin.Engine) *Server {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8090"
	}
	addr := ":" + port

	srv := &Server{
		&http.Server{
			Addr:    addr,
			Handler: router,
		},
	}

	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	return srv
}

// startStatusSweeper runs the reconciliation sweep once a minute. The sweep
// is idempotent and redsync keeps multi-instance deployments from fanning
// out availability notifications twice.
func startStatusSweeper() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		handlers.RunStatusSweep()
	}
}
