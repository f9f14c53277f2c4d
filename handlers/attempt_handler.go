package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"survey-management-backend/cache"
	"survey-management-backend/database"
	"survey-management-backend/models"
	"survey-management-backend/security"
	"survey-management-backend/websocket"
)

// StartAttemptInput selects the participation path. A token takes precedence;
// otherwise the gateway identity is used when present; otherwise the attempt
// is anonymous.
type StartAttemptInput struct {
	Token       string  `json:"token,omitempty"`
	Anonymous   bool    `json:"anonymous,omitempty"`
	AnonymousID *string `json:"anonymous_id,omitempty"`
}

// StartAttempt opens a participation session against a survey that is inside
// its live window. The window check compares dates directly; it never trusts
// the persisted workflow status, which may lag the sweep.
func StartAttempt(c *gin.Context) {
	surveyID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var input StartAttemptInput
	if err := c.ShouldBindJSON(&input); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	survey, ok := findSurvey(c, surveyID, true)
	if !ok {
		return
	}

	now := timeNow()
	if !survey.InLiveWindow(now) {
		c.JSON(http.StatusConflict, gin.H{"error": "not_active"})
		return
	}

	var attempt *models.SurveyAttempt
	var err error

	ident, authed := currentIdentity(c)
	switch {
	case input.Token != "":
		attempt, err = startTokenAttempt(survey, input.Token, now)
	case authed && !input.Anonymous:
		attempt, err = startUserAttempt(survey, ident.UserID, now)
	default:
		attempt, err = startAnonymousAttempt(survey, input.AnonymousID, now)
	}
	if err != nil {
		status := http.StatusConflict
		if err.Error() == "token_invalid" {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"attempt_id": attempt.ID,
		"questions":  survey.Questions,
	}
	if attempt.AnonymousID != nil {
		resp["anonymous_id"] = *attempt.AnonymousID
	}
	c.JSON(http.StatusCreated, resp)
}

// startUserAttempt enforces at most one completed attempt per (user, survey)
// and reuses an open attempt when one exists.
func startUserAttempt(survey *models.Survey, userID uint, now time.Time) (*models.SurveyAttempt, error) {
	var completed int64
	database.DB.Model(&models.SurveyAttempt{}).
		Where("survey_id = ? AND user_id = ? AND completed = ?", survey.ID, userID, true).
		Count(&completed)
	if completed > 0 {
		return nil, errors.New("already_completed")
	}

	var open models.SurveyAttempt
	err := database.DB.
		Where("survey_id = ? AND user_id = ? AND completed = ?", survey.ID, userID, false).
		First(&open).Error
	if err == nil {
		return &open, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	attempt := models.SurveyAttempt{
		SurveyID:  survey.ID,
		UserID:    &userID,
		StartedAt: now,
	}
	if err := database.DB.Create(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// startTokenAttempt validates the access token and ties the attempt to it.
// A token gets exactly one attempt; an open one without a completion is
// resumed, anything further is rejected as consumed.
func startTokenAttempt(survey *models.Survey, tokenStr string, now time.Time) (*models.SurveyAttempt, error) {
	token, reason, err := lookupToken(survey.ID, tokenStr)
	if err != nil {
		return nil, err
	}
	switch reason {
	case "not_found":
		return nil, errors.New("token_invalid")
	case "used":
		return nil, errors.New("token_used")
	case "expired":
		return nil, errors.New("token_expired")
	}

	var existing models.SurveyAttempt
	err = database.DB.
		Where("survey_id = ? AND access_token_id = ?", survey.ID, token.ID).
		First(&existing).Error
	if err == nil {
		if existing.Completed {
			return nil, errors.New("token_used")
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	attempt := models.SurveyAttempt{
		SurveyID:      survey.ID,
		AccessTokenID: &token.ID,
		StartedAt:     now,
	}
	if err := database.DB.Create(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// startAnonymousAttempt mints an anonymous identifier unless the client
// supplied one from an earlier session.
func startAnonymousAttempt(survey *models.Survey, anonID *string, now time.Time) (*models.SurveyAttempt, error) {
	id := security.NewAnonymousID()
	if anonID != nil && *anonID != "" {
		id = *anonID
	}
	attempt := models.SurveyAttempt{
		SurveyID:    survey.ID,
		AnonymousID: &id,
		Anonymous:   true,
		StartedAt:   now,
	}
	if err := database.DB.Create(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// findAttempt loads an attempt or writes the error response.
func findAttempt(c *gin.Context, id uint) (*models.SurveyAttempt, bool) {
	var attempt models.SurveyAttempt
	if err := database.DB.First(&attempt, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve attempt"})
		}
		return nil, false
	}
	return &attempt, true
}

// ResponseItemInput is one answer in a bulk submission.
type ResponseItemInput struct {
	QuestionID uint   `json:"question_id" binding:"required"`
	Answer     string `json:"answer" binding:"required"`
}

// SubmitResponsesInput is the bulk submission body.
type SubmitResponsesInput struct {
	Responses []ResponseItemInput `json:"responses" binding:"required,min=1,dive"`
}

// SubmitResponses stores a batch of answers for an attempt. Every item is
// validated against the survey's question set before anything is written, so
// one bad item rejects the whole batch with zero rows touched. Writes are
// update-or-insert keyed on (attempt, question); a repeat submission updates
// the stored answer in place.
func SubmitResponses(c *gin.Context) {
	attemptID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	attempt, ok := findAttempt(c, attemptID)
	if !ok {
		return
	}
	if attempt.Completed {
		c.JSON(http.StatusConflict, gin.H{"error": "attempt already completed"})
		return
	}

	var input SubmitResponsesInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var questions []models.Question
	if err := database.DB.Preload("Options").
		Where("survey_id = ?", attempt.SurveyID).
		Find(&questions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load survey questions"})
		return
	}
	questionsByID := make(map[uint]*models.Question, len(questions))
	for i := range questions {
		questionsByID[questions[i].ID] = &questions[i]
	}

	// Validation pass over the full batch before any write.
	itemErrors := make([]string, 0)
	for i, item := range input.Responses {
		q, ok := questionsByID[item.QuestionID]
		if !ok {
			itemErrors = append(itemErrors, fmt.Sprintf("item %d: question %d does not belong to this survey", i, item.QuestionID))
			continue
		}
		if !q.HasOption(item.Answer) {
			itemErrors = append(itemErrors, fmt.Sprintf("item %d: %q is not an option of question %d", i, item.Answer, item.QuestionID))
		}
	}
	if len(itemErrors) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "errors": itemErrors})
		return
	}

	hasConsent := attemptHasConsent(attempt)
	now := timeNow()
	saved := 0

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		for _, item := range input.Responses {
			wrote, err := upsertResponse(tx, attempt, item.QuestionID, item.Answer, hasConsent, now)
			if err != nil {
				return err
			}
			if wrote {
				saved++
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("response submission failed for attempt %d: %v", attempt.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save responses"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"saved_count": saved})
}

// attemptHasConsent reports whether the attempt's user granted data linkage.
// Token and anonymous attempts carry no consent linkage.
func attemptHasConsent(attempt *models.SurveyAttempt) bool {
	if attempt.UserID == nil {
		return false
	}
	var count int64
	database.DB.Model(&models.ConsentRecord{}).
		Where("survey_id = ? AND user_id = ? AND consent_given = ?", attempt.SurveyID, *attempt.UserID, true).
		Count(&count)
	return count > 0
}

// upsertResponse writes one answer with update-or-insert semantics. The
// (survey, question, user) unique index backs authenticated dedupe at the
// store; anonymous retries are deduped best-effort with a Redis idempotency
// key scoped to (survey, question, anonymous id).
func upsertResponse(tx *gorm.DB, attempt *models.SurveyAttempt, questionID uint, answer string, hasConsent bool, now time.Time) (bool, error) {
	var existing models.SurveyResponse
	err := tx.Where("attempt_id = ? AND question_id = ?", attempt.ID, questionID).First(&existing).Error
	if err == nil {
		return true, tx.Model(&existing).Updates(map[string]interface{}{
			"selected_option": answer,
			"submitted_at":    now,
		}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	if attempt.UserID != nil {
		// A prior attempt by the same user may already hold this answer;
		// last write wins in place rather than duplicating the row.
		err := tx.Where("survey_id = ? AND question_id = ? AND user_id = ?",
			attempt.SurveyID, questionID, *attempt.UserID).First(&existing).Error
		if err == nil {
			return true, tx.Model(&existing).Updates(map[string]interface{}{
				"selected_option": answer,
				"submitted_at":    now,
				"attempt_id":      attempt.ID,
			}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
	}

	if attempt.Anonymous && attempt.AnonymousID != nil {
		key := fmt.Sprintf("resp:%d:%d:%s", attempt.SurveyID, questionID, *attempt.AnonymousID)
		if !cache.ReserveIdempotencyKey(context.Background(), key, 24*time.Hour) {
			// A retry of an already-stored answer; report it as saved.
			return true, nil
		}
	}

	response := models.SurveyResponse{
		SurveyID:       attempt.SurveyID,
		QuestionID:     questionID,
		AttemptID:      &attempt.ID,
		UserID:         attempt.UserID,
		AccessTokenID:  attempt.AccessTokenID,
		AnonymousID:    attempt.AnonymousID,
		SelectedOption: answer,
		HasConsent:     hasConsent,
		SubmittedAt:    now,
	}
	if err := tx.Create(&response).Error; err != nil {
		return false, err
	}
	return true, nil
}

// CompleteAttempt closes an attempt once every question has an answer. The
// completion flip and, for the token flow, the irreversible token
// consumption happen in one transaction; if the token was consumed by a
// racing submission the whole completion rolls back.
func CompleteAttempt(c *gin.Context) {
	attemptID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	attempt, ok := findAttempt(c, attemptID)
	if !ok {
		return
	}
	if attempt.Completed {
		c.JSON(http.StatusConflict, gin.H{"error": "attempt already completed"})
		return
	}

	var totalQuestions int64
	database.DB.Model(&models.Question{}).
		Where("survey_id = ?", attempt.SurveyID).
		Count(&totalQuestions)

	var answered int64
	database.DB.Model(&models.SurveyResponse{}).
		Where("attempt_id = ?", attempt.ID).
		Distinct("question_id").
		Count(&answered)

	if answered < totalQuestions {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("incomplete (%d/%d)", answered, totalQuestions),
		})
		return
	}

	now := timeNow()
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.SurveyAttempt{}).
			Where("id = ? AND completed = ?", attempt.ID, false).
			Updates(map[string]interface{}{
				"completed":    true,
				"completed_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.New("attempt already completed")
		}

		// Token consumption is the last step of a successful submission.
		if attempt.AccessTokenID != nil {
			return consumeToken(tx, *attempt.AccessTokenID, attempt.ID)
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	go broadcastParticipation(attempt.SurveyID)
	cache.InvalidateSurveyCache(context.Background(), attempt.SurveyID)

	c.JSON(http.StatusOK, gin.H{"completed_at": now})
}

// broadcastParticipation pushes fresh participation stats to the survey's
// WebSocket and SSE subscribers.
func broadcastParticipation(surveyID uint) {
	stats := participationStats(surveyID)
	if liveHub != nil {
		liveHub.BroadcastParticipation(surveyID, stats)
	}
	BroadcastParticipationSSE(surveyID, stats)
}

// participationStats aggregates attempt and response counts for a survey.
func participationStats(surveyID uint) websocket.ParticipationStats {
	var stats websocket.ParticipationStats
	database.DB.Model(&models.SurveyAttempt{}).
		Where("survey_id = ?", surveyID).Count(&stats.TotalAttempts)
	database.DB.Model(&models.SurveyAttempt{}).
		Where("survey_id = ? AND completed = ?", surveyID, true).Count(&stats.CompletedAttempts)
	database.DB.Model(&models.SurveyResponse{}).
		Where("survey_id = ?", surveyID).Count(&stats.ResponseCount)
	return stats
}
