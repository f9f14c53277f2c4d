package handlers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"survey-management-backend/models"
)

func TestGenerateAccessTokens_PerItemDuplicates(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	survey := seedSurvey(db, models.StatusPendingConsent, time.Now().Add(24*time.Hour), 5)

	body := gin.H{"employees": []gin.H{
		{"email": "alice@example.com", "name": "Alice"},
		{"email": "bob@example.com", "name": "Bob"},
	}}
	w := performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/tokens", survey.ID), body, adminHeaders())
	assert.Equal(t, http.StatusCreated, w.Code)
	resp := decodeBody(t, w)
	assert.Len(t, resp["tokens"], 2)
	assert.Len(t, resp["errors"], 0)

	var tokens []models.SurveyAccessToken
	db.Where("survey_id = ?", survey.ID).Find(&tokens)
	assert.Len(t, tokens, 2)
	for _, tok := range tokens {
		assert.Equal(t, models.TokenActive, tok.Status)
		assert.True(t, tok.ExpiresAt.Equal(survey.EndDate()))
		assert.NotEmpty(t, tok.Token)
	}

	// Re-issuing for alice fails for her alone; carol still gets a token.
	body = gin.H{"employees": []gin.H{
		{"email": "alice@example.com", "name": "Alice"},
		{"email": "carol@example.com", "name": "Carol"},
	}}
	w = performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/tokens", survey.ID), body, adminHeaders())
	assert.Equal(t, http.StatusCreated, w.Code)
	resp = decodeBody(t, w)
	assert.Len(t, resp["tokens"], 1)
	errs := resp["errors"].([]interface{})
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0], "alice@example.com")

	db.Where("survey_id = ?", survey.ID).Find(&tokens)
	assert.Len(t, tokens, 3)
}

func TestValidateAccessToken_Lifecycle(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	publish := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	survey := seedSurvey(db, models.StatusActive, publish, 5)
	setNow(t, publish.Add(24*time.Hour))

	token := models.SurveyAccessToken{
		SurveyID:      survey.ID,
		EmployeeEmail: "alice@example.com",
		Token:         "tok-valid",
		Status:        models.TokenActive,
		ExpiresAt:     survey.EndDate(),
	}
	db.Create(&token)

	validate := func(tok string) map[string]interface{} {
		w := performRequest(router, "GET",
			fmt.Sprintf("/api/surveys/%d/tokens/%s/validate", survey.ID, tok), nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		return decodeBody(t, w)
	}

	resp := validate("tok-valid")
	assert.Equal(t, true, resp["valid"])
	assert.Equal(t, "alice@example.com", resp["employee_email"])

	resp = validate("tok-missing")
	assert.Equal(t, false, resp["valid"])
	assert.Equal(t, "not_found", resp["reason"])

	// Validation is not consumption: the token stays active across repeats
	// and only the access metadata moves.
	resp = validate("tok-valid")
	assert.Equal(t, true, resp["valid"])

	var reloaded models.SurveyAccessToken
	db.First(&reloaded, token.ID)
	assert.Equal(t, models.TokenActive, reloaded.Status)
	assert.Equal(t, 2, reloaded.AccessCount)
	assert.NotNil(t, reloaded.FirstAccessAt)
	assert.NotNil(t, reloaded.LastAccessAt)
}

func TestValidateAccessToken_LazyExpiry(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	publish := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	survey := seedSurvey(db, models.StatusActive, publish, 3)

	token := models.SurveyAccessToken{
		SurveyID:      survey.ID,
		EmployeeEmail: "bob@example.com",
		Token:         "tok-stale",
		Status:        models.TokenActive,
		ExpiresAt:     survey.EndDate(),
	}
	db.Create(&token)

	// Past the expiry, a still-active row is demoted during validation.
	setNow(t, survey.EndDate().Add(time.Hour))
	w := performRequest(router, "GET",
		fmt.Sprintf("/api/surveys/%d/tokens/%s/validate", survey.ID, "tok-stale"), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, false, resp["valid"])
	assert.Equal(t, "expired", resp["reason"])

	var reloaded models.SurveyAccessToken
	db.First(&reloaded, token.ID)
	assert.Equal(t, models.TokenExpired, reloaded.Status)
}

func TestValidateAccessToken_UsedToken(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	survey := seedSurvey(db, models.StatusActive, time.Now().Add(-24*time.Hour), 5)

	usedAt := time.Now()
	db.Create(&models.SurveyAccessToken{
		SurveyID:      survey.ID,
		EmployeeEmail: "carol@example.com",
		Token:         "tok-used",
		Status:        models.TokenUsed,
		ExpiresAt:     survey.EndDate(),
		UsedAt:        &usedAt,
	})

	w := performRequest(router, "GET",
		fmt.Sprintf("/api/surveys/%d/tokens/%s/validate", survey.ID, "tok-used"), nil, nil)
	resp := decodeBody(t, w)
	assert.Equal(t, false, resp["valid"])
	assert.Equal(t, "used", resp["reason"])
}

func TestRevokeAccessToken(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	survey := seedSurvey(db, models.StatusActive, time.Now().Add(-24*time.Hour), 5)

	token := models.SurveyAccessToken{
		SurveyID:      survey.ID,
		EmployeeEmail: "dave@example.com",
		Token:         "tok-revoke",
		Status:        models.TokenActive,
		ExpiresAt:     survey.EndDate(),
	}
	db.Create(&token)

	w := performRequest(router, "DELETE",
		fmt.Sprintf("/api/surveys/%d/tokens/%d", survey.ID, token.ID), nil, adminHeaders())
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	db.Unscoped().Model(&models.SurveyAccessToken{}).Where("id = ?", token.ID).Count(&count)
	assert.Zero(t, count)

	// Revoking again, or revoking through the wrong survey, is a 404.
	w = performRequest(router, "DELETE",
		fmt.Sprintf("/api/surveys/%d/tokens/%d", survey.ID, token.ID), nil, adminHeaders())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAccessTokens_AdminOnly(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	survey := seedSurvey(db, models.StatusActive, time.Now().Add(-24*time.Hour), 5)

	w := performRequest(router, "GET", fmt.Sprintf("/api/surveys/%d/tokens", survey.ID), nil, userHeaders("5"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = performRequest(router, "GET", fmt.Sprintf("/api/surveys/%d/tokens", survey.ID), nil, adminHeaders())
	assert.Equal(t, http.StatusOK, w.Code)
}
