package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"survey-management-backend/database"
	"survey-management-backend/models"
)

// SetupTestEnvironment builds the Gin router and an in-memory SQLite
// database for testing. Redis-backed features degrade gracefully when no
// Redis is reachable, so handlers run against the database alone.
func SetupTestEnvironment(t *testing.T) (*gin.Engine, *gorm.DB) {
	testing.Init()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	database.DB = db

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := database.DB.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
		timeNow = time.Now
	})

	router := gin.Default()
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-User-ID", "X-User-Role"}
	router.Use(cors.New(config))

	api := router.Group("/api")
	{
		api.POST("/surveys", CreateSurvey)
		api.GET("/surveys", GetSurveys)
		api.POST("/surveys/reconcile", ReconcileSurveyStatuses)
		api.GET("/surveys/:id", GetSurvey)
		api.PUT("/surveys/:id", UpdateSurvey)
		api.DELETE("/surveys/:id", DeleteSurvey)
		api.POST("/surveys/:id/status", AdvanceSurveyStatus)
		api.POST("/surveys/:id/questions", AddQuestion)
		api.GET("/surveys/:id/questions", GetQuestions)
		api.GET("/surveys/:id/consent/status", GetConsentStatus)
		api.POST("/surveys/:id/consent/regenerate", RegenerateConsentRecords)
		api.POST("/surveys/:id/tokens", GenerateAccessTokens)
		api.GET("/surveys/:id/tokens", ListAccessTokens)
		api.GET("/surveys/:id/tokens/:token/validate", ValidateAccessToken)
		api.DELETE("/surveys/:id/tokens/:tokenID", RevokeAccessToken)
		api.POST("/surveys/:id/attempts", StartAttempt)
		api.GET("/surveys/:id/report", GetSurveyReport)
		api.GET("/consent/:token", VerifyConsentToken)
		api.POST("/consent/:token", DecideConsent)
		api.POST("/attempts/:id/responses", SubmitResponses)
		api.POST("/attempts/:id/complete", CompleteAttempt)
		api.DELETE("/questions/:id", DeleteQuestion)
		api.POST("/users", CreateUser)
		api.GET("/users", GetUsers)
	}

	return router, db
}

// ClearTables wipes every table between tests. Order matters because of
// foreign key references.
func ClearTables(db *gorm.DB) {
	session := db.Session(&gorm.Session{AllowGlobalUpdate: true})
	session.Unscoped().Delete(&models.SurveyResponse{})
	session.Unscoped().Delete(&models.SurveyAttempt{})
	session.Unscoped().Delete(&models.SurveyAccessToken{})
	session.Unscoped().Delete(&models.Notification{})
	session.Unscoped().Delete(&models.ConsentRecord{})
	session.Unscoped().Delete(&models.QuestionOption{})
	session.Unscoped().Delete(&models.Question{})
	session.Unscoped().Delete(&models.Survey{})
	session.Unscoped().Delete(&models.User{})
}

// setNow pins the handler clock for the remainder of the test.
func setNow(t *testing.T, now time.Time) {
	t.Helper()
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = time.Now })
}

// performRequest runs one request through the router. A nil body sends no
// payload; otherwise the body is marshalled as JSON.
func performRequest(router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		jsonData, _ := json.Marshal(body)
		reader = bytes.NewBuffer(jsonData)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func adminHeaders() map[string]string {
	return map[string]string{"X-User-ID": "1", "X-User-Role": "admin"}
}

func userHeaders(id string) map[string]string {
	return map[string]string{"X-User-ID": id, "X-User-Role": "employee"}
}

// seedUsers creates one admin plus n active engineering employees and
// returns the employees.
func seedUsers(db *gorm.DB, n int) []models.User {
	admin := models.User{Name: "Admin", Email: "admin@example.com", Role: models.RoleAdmin, Active: true}
	db.Create(&admin)

	users := make([]models.User, n)
	for i := 0; i < n; i++ {
		users[i] = models.User{
			Name:       "Employee " + string(rune('A'+i)),
			Email:      "employee" + string(rune('a'+i)) + "@example.com",
			Role:       models.RoleEmployee,
			Department: "Engineering",
			Active:     true,
		}
		db.Create(&users[i])
	}
	return users
}

// seedSurvey creates a survey with two questions of two options each.
func seedSurvey(db *gorm.DB, status models.SurveyStatus, publishDate time.Time, durationDays int) *models.Survey {
	survey := models.Survey{
		Name:         "Team Health Check",
		PublishDate:  publishDate,
		DurationDays: durationDays,
		Department:   "Engineering",
		Status:       status,
		CreatorID:    1,
	}
	db.Create(&survey)

	for i, text := range []string{"How is the workload?", "How is the collaboration?"} {
		q := models.Question{SurveyID: survey.ID, Text: text, Parameter: "wellbeing", Order: i + 1}
		db.Create(&q)
		db.Create(&models.QuestionOption{QuestionID: q.ID, Text: "Good", Position: 1})
		db.Create(&models.QuestionOption{QuestionID: q.ID, Text: "Bad", Position: 2})
	}
	return &survey
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v (%s)", err, w.Body.String())
	}
	return body
}
