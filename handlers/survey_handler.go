package handlers

import (
	"context"
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
)

// CreateQuestionInput is one question supplied at survey creation.
type CreateQuestionInput struct {
	Text      string   `json:"text" binding:"required"`
	Parameter string   `json:"parameter"`
	Options   []string `json:"options" binding:"required,min=2,max=4,dive,required"`
}

// CreateSurveyInput defines the expected input structure for creating a survey.
type CreateSurveyInput struct {
	Name          string                `json:"name" binding:"required"`
	Description   string                `json:"description"`
	PublishDate   time.Time             `json:"publish_date" binding:"required"`
	DurationDays  int                   `json:"duration_days" binding:"required"`
	Department    string                `json:"department"`
	TargetUserIDs []uint                `json:"target_user_ids"`
	Questions     []CreateQuestionInput `json:"questions" binding:"omitempty,dive"`
}

// EmailResults summarizes the per-recipient outcome of a notification fan-out.
type EmailResults struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// resolveTargets produces the audience for a survey: the explicit user list
// if one was given, else the named department's active employees and
// managers, else every active employee and manager org-wide.
func resolveTargets(db *gorm.DB, targetIDs []uint, department string) ([]models.User, error) {
	var users []models.User

	if len(targetIDs) > 0 {
		if err := db.Where("id IN ? AND active = ?", targetIDs, true).Find(&users).Error; err != nil {
			return nil, err
		}
		return users, nil
	}

	q := db.Where("active = ? AND role IN ?", true, []models.Role{models.RoleEmployee, models.RoleManager})
	if department != "" {
		q = q.Where("department = ?", department)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// CreateSurvey handles survey creation: target resolution, the transactional
// survey+questions+consent-record write, then best-effort consent-request
// notifications. Zero resolved targets fails before anything is written.
func CreateSurvey(c *gin.Context) {
	ident, ok := requireAdmin(c)
	if !ok {
		return
	}

	var input CreateSurveyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if input.DurationDays < 1 || input.DurationDays > 365 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_days must be between 1 and 365"})
		return
	}
	if len(input.TargetUserIDs) == 0 && input.Department == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either target_user_ids or department is required"})
		return
	}

	targets, err := resolveTargets(database.DB, input.TargetUserIDs, input.Department)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve target users"})
		return
	}
	if len(targets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no eligible target users resolved"})
		return
	}

	survey := models.Survey{
		Name:         input.Name,
		Description:  input.Description,
		PublishDate:  input.PublishDate,
		DurationDays: input.DurationDays,
		Department:   input.Department,
		Status:       models.StatusDraft,
		CreatorID:    ident.UserID,
	}

	var consents []models.ConsentRecord

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&survey).Error; err != nil {
			return fmt.Errorf("failed to create survey: %w", err)
		}

		for i, qInput := range input.Questions {
			question := models.Question{
				SurveyID:  survey.ID,
				Text:      qInput.Text,
				Parameter: qInput.Parameter,
				Order:     i + 1,
			}
			if err := tx.Create(&question).Error; err != nil {
				return fmt.Errorf("failed to create question: %w", err)
			}
			for pos, optText := range qInput.Options {
				opt := models.QuestionOption{
					QuestionID: question.ID,
					Text:       optText,
					Position:   pos + 1,
				}
				if err := tx.Create(&opt).Error; err != nil {
					return fmt.Errorf("failed to create question option: %w", err)
				}
			}
		}

		consents = make([]models.ConsentRecord, len(targets))
		for i, user := range targets {
			consents[i] = models.ConsentRecord{
				UserID:       user.ID,
				SurveyID:     survey.ID,
				ConsentToken: security.NewToken(),
			}
		}
		if err := tx.Create(&consents).Error; err != nil {
			return fmt.Errorf("failed to create consent records: %w", err)
		}

		// The consent fan-out exists; the survey is now waiting on decisions.
		survey.Status = models.StatusPendingConsent
		if err := tx.Model(&survey).Update("status", models.StatusPendingConsent).Error; err != nil {
			return fmt.Errorf("failed to advance survey status: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Printf("survey creation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create survey"})
		return
	}

	// Notification fan-out is best-effort per recipient; failures are
	// reported back but never roll back the records created above.
	results := EmailResults{}
	now := timeNow()
	for i, user := range targets {
		subject := fmt.Sprintf("Consent request: %s", survey.Name)
		body := fmt.Sprintf("Please record your consent decision for survey %q before %s.",
			survey.Name, survey.PublishDate.Format(time.RFC1123))
		if err := notify(survey.ID, models.NotifyConsentRequest, user.Email, subject, body); err != nil {
			results.Failed++
			results.Errors = append(results.Errors, fmt.Sprintf("%s: %v", user.Email, err))
			continue
		}
		results.Sent++
		database.DB.Model(&consents[i]).Update("email_sent_at", now)
	}

	c.JSON(http.StatusCreated, gin.H{
		"survey":                  survey,
		"target_count":            len(targets),
		"consent_records_created": len(consents),
		"email_results":           results,
	})
}

// GetSurveys lists all surveys, newest first, with their derived live status.
func GetSurveys(c *gin.Context) {
	var surveys []models.Survey
	if err := database.DB.Order("created_at desc").Find(&surveys).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve surveys"})
		return
	}

	now := timeNow()
	out := make([]gin.H, len(surveys))
	for i := range surveys {
		out[i] = surveyResponse(&surveys[i], now)
	}
	c.JSON(http.StatusOK, out)
}

// GetSurvey returns one survey with questions, options and derived fields.
func GetSurvey(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	survey, ok := findSurvey(c, id, true)
	if !ok {
		return
	}

	resp := surveyResponse(survey, timeNow())
	resp["questions"] = survey.Questions
	c.JSON(http.StatusOK, resp)
}

func surveyResponse(s *models.Survey, now time.Time) gin.H {
	return gin.H{
		"id":             s.ID,
		"name":           s.Name,
		"description":    s.Description,
		"publish_date":   s.PublishDate,
		"duration_days":  s.DurationDays,
		"end_date":       s.EndDate(),
		"department":     s.Department,
		"status":         s.Status,
		"current_status": s.CurrentStatus(now),
		"creator_id":     s.CreatorID,
		"created_at":     s.CreatedAt,
		"updated_at":     s.UpdatedAt,
	}
}

// UpdateSurveyInput defines the updatable survey fields. Status is bound
// only so an attempt to set it can be rejected with a pointed message.
type UpdateSurveyInput struct {
	Name         *string    `json:"name"`
	Description  *string    `json:"description"`
	PublishDate  *time.Time `json:"publish_date"`
	DurationDays *int       `json:"duration_days"`
	Department   *string    `json:"department"`
	Status       *string    `json:"status"`
}

// UpdateSurvey updates survey details. Only the creator or an admin may
// update, and the workflow status cannot be written through this path.
func UpdateSurvey(c *gin.Context) {
	ident, ok := currentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var input UpdateSurveyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.Status != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status cannot be changed through update; use POST /api/surveys/:id/status",
		})
		return
	}

	survey, ok := findSurvey(c, id, false)
	if !ok {
		return
	}
	if ident.Role != models.RoleAdmin && survey.CreatorID != ident.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the creator or an admin may update this survey"})
		return
	}

	if input.Name != nil {
		survey.Name = *input.Name
	}
	if input.Description != nil {
		survey.Description = *input.Description
	}
	if input.PublishDate != nil {
		survey.PublishDate = *input.PublishDate
	}
	if input.DurationDays != nil {
		if *input.DurationDays < 1 || *input.DurationDays > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duration_days must be between 1 and 365"})
			return
		}
		survey.DurationDays = *input.DurationDays
	}
	if input.Department != nil {
		survey.Department = *input.Department
	}

	if err := database.DB.Save(survey).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update survey"})
		return
	}

	cache.InvalidateSurveyCache(context.Background(), survey.ID)
	c.JSON(http.StatusOK, surveyResponse(survey, timeNow()))
}

// AdvanceStatusInput carries the explicit target workflow status.
type AdvanceStatusInput struct {
	Status models.SurveyStatus `json:"status" binding:"required"`
}

// AdvanceSurveyStatus moves the workflow status forward. Transitions are
// monotonic; a regression or repeat is rejected. The write is conditional on
// the status the caller saw, so concurrent advances cannot double-apply.
func AdvanceSurveyStatus(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var input AdvanceStatusInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	survey, ok := findSurvey(c, id, false)
	if !ok {
		return
	}

	if !survey.Status.CanTransitionTo(input.Status) {
		c.JSON(http.StatusConflict, gin.H{
			"error": fmt.Sprintf("cannot transition from %s to %s", survey.Status, input.Status),
		})
		return
	}

	result := database.DB.Model(&models.Survey{}).
		Where("id = ? AND status = ?", survey.ID, survey.Status).
		Update("status", input.Status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update survey status"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "survey status changed concurrently, retry"})
		return
	}

	if input.Status == models.StatusActive {
		go fanOutAvailability(survey.ID)
	}

	cache.InvalidateSurveyCache(context.Background(), survey.ID)
	survey.Status = input.Status
	c.JSON(http.StatusOK, surveyResponse(survey, timeNow()))
}

// fanOutAvailability notifies every targeted user that the survey went live.
func fanOutAvailability(surveyID uint) {
	var survey models.Survey
	if err := database.DB.First(&survey, surveyID).Error; err != nil {
		log.Printf("availability fan-out: survey %d not found: %v", surveyID, err)
		return
	}

	var recipients []string
	err := database.DB.Model(&models.ConsentRecord{}).
		Joins("JOIN users ON users.id = consent_records.user_id").
		Where("consent_records.survey_id = ?", surveyID).
		Pluck("users.email", &recipients).Error
	if err != nil {
		log.Printf("availability fan-out: failed to resolve recipients for survey %d: %v", surveyID, err)
		return
	}

	subject := fmt.Sprintf("Survey now available: %s", survey.Name)
	body := fmt.Sprintf("Survey %q is open until %s.", survey.Name, survey.EndDate().Format(time.RFC1123))
	for _, email := range recipients {
		if err := notify(surveyID, models.NotifySurveyAvailable, email, subject, body); err != nil {
			log.Printf("availability notification to %s failed: %v", email, err)
		}
	}
}

// ReconcileSurveyStatuses is the admin trigger for the sweep.
func ReconcileSurveyStatuses(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}
	activated, completed := RunStatusSweep()
	c.JSON(http.StatusOK, gin.H{"activated": activated, "completed": completed})
}

// RunStatusSweep promotes pending_consent surveys into active once their
// publish date arrives and active surveys into completed once their window
// ends. Each promotion is a conditional update, so the sweep is idempotent
// and safe to run concurrently; a redsync mutex additionally serializes it
// across instances so the availability fan-out happens once.
func RunStatusSweep() (activated, completed int) {
	lock := cache.GetLockService()
	if lock != nil {
		err := lock.TryWithLock(context.Background(), "survey_status_sweep", 30*time.Second, func() error {
			activated, completed = runStatusSweepLocked()
			return nil
		})
		if err != nil {
			log.Printf("status sweep skipped: %v", err)
		}
		return activated, completed
	}
	return runStatusSweepLocked()
}

func runStatusSweepLocked() (activated, completed int) {
	now := timeNow()

	// End dates are derived, so candidates are filtered in Go rather than by
	// a portable SQL date expression.
	var pending []models.Survey
	if err := database.DB.Where("status = ?", models.StatusPendingConsent).Find(&pending).Error; err != nil {
		log.Printf("status sweep: failed to load pending surveys: %v", err)
		return
	}
	for i := range pending {
		s := &pending[i]
		if !s.InLiveWindow(now) {
			continue
		}
		result := database.DB.Model(&models.Survey{}).
			Where("id = ? AND status = ?", s.ID, models.StatusPendingConsent).
			Update("status", models.StatusActive)
		if result.Error != nil {
			log.Printf("status sweep: failed to activate survey %d: %v", s.ID, result.Error)
			continue
		}
		if result.RowsAffected > 0 {
			activated++
			go fanOutAvailability(s.ID)
		}
	}

	var active []models.Survey
	if err := database.DB.Where("status = ?", models.StatusActive).Find(&active).Error; err != nil {
		log.Printf("status sweep: failed to load active surveys: %v", err)
		return
	}
	for i := range active {
		s := &active[i]
		if !now.After(s.EndDate()) {
			continue
		}
		result := database.DB.Model(&models.Survey{}).
			Where("id = ? AND status = ?", s.ID, models.StatusActive).
			Update("status", models.StatusCompleted)
		if result.Error != nil {
			log.Printf("status sweep: failed to complete survey %d: %v", s.ID, result.Error)
			continue
		}
		if result.RowsAffected > 0 {
			completed++
		}
	}

	if activated > 0 || completed > 0 {
		log.Printf("status sweep: activated %d, completed %d", activated, completed)
	}
	return activated, completed
}

// DeleteSurvey removes a survey and its questions, options, consent records,
// notifications and access tokens in one transaction. Attempts and responses
// are kept as historical data.
func DeleteSurvey(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		var questionIDs []uint
		if err := tx.Model(&models.Question{}).Where("survey_id = ?", id).Pluck("id", &questionIDs).Error; err != nil {
			return err
		}
		if len(questionIDs) > 0 {
			if err := tx.Where("question_id IN ?", questionIDs).Delete(&models.QuestionOption{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("survey_id = ?", id).Delete(&models.Question{}).Error; err != nil {
			return err
		}
		if err := tx.Where("survey_id = ?", id).Delete(&models.ConsentRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("survey_id = ?", id).Delete(&models.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Where("survey_id = ?", id).Delete(&models.SurveyAccessToken{}).Error; err != nil {
			return err
		}

		result := tx.Delete(&models.Survey{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "survey not found"})
			return
		}
		log.Printf("survey delete failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete survey"})
		return
	}

	cache.InvalidateSurveyCache(context.Background(), id)
	c.JSON(http.StatusOK, gin.H{"message": "survey deleted successfully"})
}
