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

func TestStartAttempt_WindowGate(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	seedUsers(db, 1)

	publish := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	survey := seedSurvey(db, models.StatusActive, publish, 5)

	// Before the publish date and after the end date participation is shut,
	// regardless of the persisted status.
	for _, now := range []time.Time{publish.Add(-time.Hour), survey.EndDate().Add(time.Hour)} {
		setNow(t, now)
		w := performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/attempts", survey.ID),
			nil, userHeaders("2"))
		assert.Equal(t, http.StatusConflict, w.Code)
		resp := decodeBody(t, w)
		assert.Equal(t, "not_active", resp["error"])
	}

	// A lagging pending_consent status does not block participation inside
	// the window.
	lagging := seedSurvey(db, models.StatusPendingConsent, publish, 5)
	setNow(t, publish.Add(time.Hour))
	w := performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/attempts", lagging.ID),
		nil, userHeaders("2"))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestStartAttempt_AuthenticatedReuseAndSingleCompletion(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	users := seedUsers(db, 1)
	survey := seedSurvey(db, models.StatusActive, time.Now().Add(-24*time.Hour), 5)
	headers := userHeaders(fmt.Sprint(users[0].ID))

	w := performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/attempts", survey.ID), nil, headers)
	assert.Equal(t, http.StatusCreated, w.Code)
	first := decodeBody(t, w)

	// Starting again resumes the open attempt instead of stacking a new one.
	w = performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/attempts", survey.ID), nil, headers)
	assert.Equal(t, http.StatusCreated, w.Code)
	second := decodeBody(t, w)
	assert.Equal(t, first["attempt_id"], second["attempt_id"])

	var attemptCount int64
	db.Model(&models.SurveyAttempt{}).Where("survey_id = ?", survey.ID).Count(&attemptCount)
	assert.EqualValues(t, 1, attemptCount)

	// Complete the attempt, then a fresh start is rejected.
	attemptID := uint(first["attempt_id"].(float64))
	db.Model(&models.SurveyAttempt{}).Where("id = ?", attemptID).
		Updates(map[string]interface{}{"completed": true, "completed_at": time.Now()})

	w = performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/attempts", survey.ID), nil, headers)
	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "already_completed", resp["error"])
}

func TestStartAttempt_Anonymous(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	survey := seedSurvey(db, models.StatusActive, time.Now().Add(-24*time.Hour), 5)

	w := performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/attempts", survey.ID),
		gin.H{"anonymous": true}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	resp := decodeBody(t, w)
	assert.NotEmpty(t, resp["anonymous_id"])

	// A client-supplied anonymous id is honored.
	w = performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/attempts", survey.ID),
		gin.H{"anonymous": true, "anonymous_id": "anon-returning"}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	resp = decodeBody(t, w)
	assert.Equal(t, "anon-returning", resp["anonymous_id"])
}

// Walks the full token flow: validate, start, answer everything, complete,
// then confirm the token is spent.
func TestTokenFlow_EndToEnd(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	publish := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	survey := seedSurvey(db, models.StatusActive, publish, 5)
	setNow(t, publish.Add(24*time.Hour))

	token := models.SurveyAccessToken{
		SurveyID:      survey.ID,
		EmployeeEmail: "alice@example.com",
		Token:         "tok-flow",
		Status:        models.TokenActive,
		ExpiresAt:     survey.EndDate(),
	}
	db.Create(&token)

	// 1. Validate.
	w := performRequest(router, "GET",
		fmt.Sprintf("/api/surveys/%d/tokens/%s/validate", survey.ID, "tok-flow"), nil, nil)
	resp := decodeBody(t, w)
	assert.Equal(t, true, resp["valid"])

	// 2. Start the attempt with the token.
	w = performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/attempts", survey.ID),
		gin.H{"token": "tok-flow"}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	resp = decodeBody(t, w)
	attemptID := uint(resp["attempt_id"].(float64))
	assert.Len(t, resp["questions"], 2)

	// Re-starting with the same token resumes the same attempt.
	w = performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/attempts", survey.ID),
		gin.H{"token": "tok-flow"}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.EqualValues(t, attemptID, decodeBody(t, w)["attempt_id"].(float64))

	// 3. Answer every question.
	var questions []models.Question
	db.Where("survey_id = ?", survey.ID).Order("display_order asc").Find(&questions)
	responses := make([]gin.H, len(questions))
	for i, q := range questions {
		responses[i] = gin.H{"question_id": q.ID, "answer": "Good"}
	}
	w = performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/responses", attemptID),
		gin.H{"responses": responses}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decodeBody(t, w)["saved_count"])

	// 4. Complete; the token is consumed in the same stroke.
	w = performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/complete", attemptID), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var spent models.SurveyAccessToken
	db.First(&spent, token.ID)
	assert.Equal(t, models.TokenUsed, spent.Status)
	assert.NotNil(t, spent.UsedAt)
	assert.NotNil(t, spent.ResponseBatchID)
	assert.EqualValues(t, attemptID, *spent.ResponseBatchID)

	// 5. The spent token validates as used and cannot start another attempt.
	w = performRequest(router, "GET",
		fmt.Sprintf("/api/surveys/%d/tokens/%s/validate", survey.ID, "tok-flow"), nil, nil)
	resp = decodeBody(t, w)
	assert.Equal(t, false, resp["valid"])
	assert.Equal(t, "used", resp["reason"])

	w = performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/attempts", survey.ID),
		gin.H{"token": "tok-flow"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "token_used", decodeBody(t, w)["error"])
}

func TestStartAttempt_TokenErrors(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	survey := seedSurvey(db, models.StatusActive, time.Now().Add(-24*time.Hour), 5)

	expired := models.SurveyAccessToken{
		SurveyID:      survey.ID,
		EmployeeEmail: "old@example.com",
		Token:         "tok-old",
		Status:        models.TokenExpired,
		ExpiresAt:     time.Now().Add(-time.Hour),
	}
	db.Create(&expired)

	w := performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/attempts", survey.ID),
		gin.H{"token": "tok-unknown"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "token_invalid", decodeBody(t, w)["error"])

	w = performRequest(router, "POST", fmt.Sprintf("/api/surveys/%d/attempts", survey.ID),
		gin.H{"token": "tok-old"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "token_expired", decodeBody(t, w)["error"])
}

func TestSubmitResponses_AtomicValidation(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	users := seedUsers(db, 1)
	survey := seedSurvey(db, models.StatusActive, time.Now().Add(-24*time.Hour), 5)

	attempt := models.SurveyAttempt{SurveyID: survey.ID, UserID: &users[0].ID, StartedAt: time.Now()}
	db.Create(&attempt)

	var questions []models.Question
	db.Where("survey_id = ?", survey.ID).Order("display_order asc").Find(&questions)

	// One good item plus one foreign question: the whole batch is rejected
	// and the good item must not land either.
	body := gin.H{"responses": []gin.H{
		{"question_id": questions[0].ID, "answer": "Good"},
		{"question_id": 99999, "answer": "Good"},
	}}
	w := performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/responses", attempt.ID), body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "validation failed", resp["error"])
	assert.Len(t, resp["errors"], 1)

	var count int64
	db.Model(&models.SurveyResponse{}).Where("attempt_id = ?", attempt.ID).Count(&count)
	assert.Zero(t, count)

	// Same for an answer that is not one of the question's options.
	body = gin.H{"responses": []gin.H{
		{"question_id": questions[0].ID, "answer": "Excellent"},
	}}
	w = performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/responses", attempt.ID), body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	db.Model(&models.SurveyResponse{}).Where("attempt_id = ?", attempt.ID).Count(&count)
	assert.Zero(t, count)
}

func TestSubmitResponses_UpdateInPlace(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	users := seedUsers(db, 1)
	survey := seedSurvey(db, models.StatusActive, time.Now().Add(-24*time.Hour), 5)

	attempt := models.SurveyAttempt{SurveyID: survey.ID, UserID: &users[0].ID, StartedAt: time.Now()}
	db.Create(&attempt)

	var questions []models.Question
	db.Where("survey_id = ?", survey.ID).Order("display_order asc").Find(&questions)
	q := questions[0]

	submit := func(answer string) {
		body := gin.H{"responses": []gin.H{{"question_id": q.ID, "answer": answer}}}
		w := performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/responses", attempt.ID), body, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 1, decodeBody(t, w)["saved_count"])
	}

	submit("Good")
	submit("Bad")

	// One row, holding the latest answer.
	var rows []models.SurveyResponse
	db.Where("survey_id = ? AND question_id = ? AND user_id = ?", survey.ID, q.ID, users[0].ID).Find(&rows)
	assert.Len(t, rows, 1)
	assert.Equal(t, "Bad", rows[0].SelectedOption)
}

func TestSubmitResponses_UserDedupeAcrossAttempts(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	users := seedUsers(db, 1)
	survey := seedSurvey(db, models.StatusActive, time.Now().Add(-24*time.Hour), 5)

	var questions []models.Question
	db.Where("survey_id = ?", survey.ID).Order("display_order asc").Find(&questions)
	q := questions[0]

	// An earlier, never-completed attempt already stored an answer.
	old := models.SurveyAttempt{SurveyID: survey.ID, UserID: &users[0].ID, StartedAt: time.Now().Add(-time.Hour)}
	db.Create(&old)
	db.Create(&models.SurveyResponse{
		SurveyID: survey.ID, QuestionID: q.ID, UserID: &users[0].ID, AttemptID: &old.ID,
		SelectedOption: "Good", SubmittedAt: time.Now().Add(-time.Hour),
	})

	current := models.SurveyAttempt{SurveyID: survey.ID, UserID: &users[0].ID, StartedAt: time.Now()}
	db.Create(&current)

	body := gin.H{"responses": []gin.H{{"question_id": q.ID, "answer": "Bad"}}}
	w := performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/responses", current.ID), body, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Still one row per (survey, question, user); it moved to the new attempt.
	var rows []models.SurveyResponse
	db.Where("survey_id = ? AND question_id = ? AND user_id = ?", survey.ID, q.ID, users[0].ID).Find(&rows)
	assert.Len(t, rows, 1)
	assert.Equal(t, "Bad", rows[0].SelectedOption)
	assert.EqualValues(t, current.ID, *rows[0].AttemptID)
}

func TestCompleteAttempt_AllQuestionsGate(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	users := seedUsers(db, 1)
	survey := seedSurvey(db, models.StatusActive, time.Now().Add(-24*time.Hour), 5)

	attempt := models.SurveyAttempt{SurveyID: survey.ID, UserID: &users[0].ID, StartedAt: time.Now()}
	db.Create(&attempt)

	var questions []models.Question
	db.Where("survey_id = ?", survey.ID).Order("display_order asc").Find(&questions)

	// Answer only the first of two questions.
	body := gin.H{"responses": []gin.H{{"question_id": questions[0].ID, "answer": "Good"}}}
	w := performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/responses", attempt.ID), body, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/complete", attempt.ID), nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "incomplete (1/2)", resp["error"])

	var reloaded models.SurveyAttempt
	db.First(&reloaded, attempt.ID)
	assert.False(t, reloaded.Completed)

	// Answer the second; completion now succeeds.
	body = gin.H{"responses": []gin.H{{"question_id": questions[1].ID, "answer": "Bad"}}}
	performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/responses", attempt.ID), body, nil)

	w = performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/complete", attempt.ID), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	db.First(&reloaded, attempt.ID)
	assert.True(t, reloaded.Completed)
	assert.NotNil(t, reloaded.CompletedAt)

	// Completion is terminal for both endpoints.
	w = performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/complete", attempt.ID), nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/responses", attempt.ID),
		gin.H{"responses": []gin.H{{"question_id": questions[0].ID, "answer": "Bad"}}}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "attempt already completed", decodeBody(t, w)["error"])
}

func TestSubmitResponses_ConsentLinkage(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)
	users := seedUsers(db, 2)
	survey := seedSurvey(db, models.StatusActive, time.Now().Add(-24*time.Hour), 5)

	yes := true
	db.Create(&models.ConsentRecord{UserID: users[0].ID, SurveyID: survey.ID, ConsentToken: "c-yes", ConsentGiven: &yes})
	// users[1] never decided.
	db.Create(&models.ConsentRecord{UserID: users[1].ID, SurveyID: survey.ID, ConsentToken: "c-none"})

	var questions []models.Question
	db.Where("survey_id = ?", survey.ID).Order("display_order asc").Find(&questions)
	q := questions[0]

	for _, u := range users {
		userID := u.ID
		attempt := models.SurveyAttempt{SurveyID: survey.ID, UserID: &userID, StartedAt: time.Now()}
		db.Create(&attempt)
		body := gin.H{"responses": []gin.H{{"question_id": q.ID, "answer": "Good"}}}
		w := performRequest(router, "POST", fmt.Sprintf("/api/attempts/%d/responses", attempt.ID), body, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	var withConsent, withoutConsent models.SurveyResponse
	db.Where("user_id = ?", users[0].ID).First(&withConsent)
	db.Where("user_id = ?", users[1].ID).First(&withoutConsent)
	assert.True(t, withConsent.HasConsent)
	assert.False(t, withoutConsent.HasConsent)
}
