package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"survey-management-backend/database"
	"survey-management-backend/models"
	"survey-management-backend/security"
)

// findConsentByToken resolves a consent token to its record and survey.
func findConsentByToken(token string) (*models.ConsentRecord, *models.Survey, error) {
	var record models.ConsentRecord
	if err := database.DB.Where("consent_token = ?", token).First(&record).Error; err != nil {
		return nil, nil, err
	}
	var survey models.Survey
	if err := database.DB.First(&survey, record.SurveyID).Error; err != nil {
		return nil, nil, err
	}
	return &record, &survey, nil
}

// VerifyConsentToken reports the state of a consent token without mutating
// anything: whether it exists, whether a decision was already made and
// whether the decision window is still open.
func VerifyConsentToken(c *gin.Context) {
	token := c.Param("token")
	record, survey, err := findConsentByToken(token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"valid": false, "reason": "invalid_token"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify consent token"})
		}
		return
	}

	now := timeNow()
	resp := gin.H{
		"survey_id":    survey.ID,
		"survey_name":  survey.Name,
		"publish_date": survey.PublishDate,
		"decided":      record.Decided(),
		"window_open":  now.Before(survey.PublishDate),
	}
	if record.Decided() {
		resp["consent_given"] = *record.ConsentGiven
		resp["decided_at"] = record.DecidedAt
	}
	c.JSON(http.StatusOK, resp)
}

// DecideConsentInput carries the one-shot consent decision.
type DecideConsentInput struct {
	ConsentGiven *bool `json:"consent_given" binding:"required"`
}

// DecideConsent records a consent decision. This is the only path that may
// write ConsentGiven. The decision is write-once and must land strictly
// before the survey's publish date; a late yes gives no privacy benefit.
func DecideConsent(c *gin.Context) {
	token := c.Param("token")

	var input DecideConsentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, survey, err := findConsentByToken(token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invalid_token"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve consent token"})
		}
		return
	}

	if record.Decided() {
		c.JSON(http.StatusConflict, gin.H{"error": "already_decided"})
		return
	}

	now := timeNow()
	if !now.Before(survey.PublishDate) {
		c.JSON(http.StatusConflict, gin.H{"error": "deadline_passed"})
		return
	}

	// Conditional update so a concurrent decision on the same token cannot
	// double-write: only the pending row matches.
	result := database.DB.Model(&models.ConsentRecord{}).
		Where("id = ? AND consent_given IS NULL", record.ID).
		Updates(map[string]interface{}{
			"consent_given": *input.ConsentGiven,
			"decided_at":    now,
		})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record consent decision"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "already_decided"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"consent_given": *input.ConsentGiven,
		"timestamp":     now,
	})
}

// GetConsentStatus aggregates consent decisions for a survey.
func GetConsentStatus(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}
	surveyID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if _, ok := findSurvey(c, surveyID, false); !ok {
		return
	}

	type consentCounts struct {
		Given   int64
		Denied  int64
		Pending int64
	}
	var counts consentCounts

	database.DB.Model(&models.ConsentRecord{}).
		Where("survey_id = ? AND consent_given = ?", surveyID, true).Count(&counts.Given)
	database.DB.Model(&models.ConsentRecord{}).
		Where("survey_id = ? AND consent_given = ?", surveyID, false).Count(&counts.Denied)
	database.DB.Model(&models.ConsentRecord{}).
		Where("survey_id = ? AND consent_given IS NULL", surveyID).Count(&counts.Pending)

	total := counts.Given + counts.Denied + counts.Pending
	rate := 0.0
	if total > 0 {
		rate = float64(counts.Given) / float64(total) * 100
	}

	c.JSON(http.StatusOK, gin.H{
		"survey_id": surveyID,
		"given":     counts.Given,
		"denied":    counts.Denied,
		"pending":   counts.Pending,
		"total":     total,
		"rate":      rate,
	})
}

// RegenerateConsentRecords re-issues consent records for targets that have
// none, e.g. users added to the department after the survey was created.
// Existing records are left untouched; the unique (user, survey) constraint
// backs the skip.
func RegenerateConsentRecords(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}
	surveyID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	survey, ok := findSurvey(c, surveyID, false)
	if !ok {
		return
	}

	targets, err := resolveTargets(database.DB, nil, survey.Department)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve target users"})
		return
	}

	var existing []uint
	if err := database.DB.Model(&models.ConsentRecord{}).
		Where("survey_id = ?", surveyID).
		Pluck("user_id", &existing).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load consent records"})
		return
	}
	have := make(map[uint]bool, len(existing))
	for _, id := range existing {
		have[id] = true
	}

	created := 0
	results := EmailResults{}
	for _, user := range targets {
		if have[user.ID] {
			continue
		}
		record := models.ConsentRecord{
			UserID:       user.ID,
			SurveyID:     surveyID,
			ConsentToken: security.NewToken(),
		}
		if err := database.DB.Create(&record).Error; err != nil {
			// Lost a race against a concurrent regenerate; the record exists.
			log.Printf("consent regenerate: skipping user %d: %v", user.ID, err)
			continue
		}
		created++

		subject := fmt.Sprintf("Consent request: %s", survey.Name)
		body := fmt.Sprintf("Please record your consent decision for survey %q before %s.",
			survey.Name, survey.PublishDate.Format(time.RFC1123))
		if err := notify(surveyID, models.NotifyConsentRequest, user.Email, subject, body); err != nil {
			results.Failed++
			results.Errors = append(results.Errors, fmt.Sprintf("%s: %v", user.Email, err))
			continue
		}
		results.Sent++
		database.DB.Model(&record).Update("email_sent_at", timeNow())
	}

	c.JSON(http.StatusOK, gin.H{
		"created":       created,
		"email_results": results,
	})
}
