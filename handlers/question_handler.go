package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"survey-management-backend/cache"
	"survey-management-backend/database"
	"survey-management-backend/models"
)

// AddQuestionInput defines the input for adding one question to a survey.
type AddQuestionInput struct {
	Text      string   `json:"text" binding:"required"`
	Parameter string   `json:"parameter"`
	Options   []string `json:"options" binding:"required,min=2,max=4,dive,required"`
}

// AddQuestion appends a question to a survey that has not gone live yet.
func AddQuestion(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}
	surveyID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var input AddQuestionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	survey, ok := findSurvey(c, surveyID, false)
	if !ok {
		return
	}
	if survey.Status != models.StatusDraft && survey.Status != models.StatusPendingConsent {
		c.JSON(http.StatusConflict, gin.H{"error": "questions can only be added before the survey goes live"})
		return
	}

	var maxOrder int
	database.DB.Model(&models.Question{}).
		Where("survey_id = ?", surveyID).
		Select("COALESCE(MAX(display_order), 0)").
		Scan(&maxOrder)

	question := models.Question{
		SurveyID:  surveyID,
		Text:      input.Text,
		Parameter: input.Parameter,
		Order:     maxOrder + 1,
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&question).Error; err != nil {
			return err
		}
		for pos, optText := range input.Options {
			opt := models.QuestionOption{
				QuestionID: question.ID,
				Text:       optText,
				Position:   pos + 1,
			}
			if err := tx.Create(&opt).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create question"})
		return
	}

	var created models.Question
	if err := database.DB.Preload("Options").First(&created, question.ID).Error; err != nil {
		c.JSON(http.StatusCreated, question)
		return
	}

	cache.InvalidateSurveyCache(context.Background(), surveyID)
	c.JSON(http.StatusCreated, created)
}

// GetQuestions lists a survey's questions in display order.
func GetQuestions(c *gin.Context) {
	surveyID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if _, ok := findSurvey(c, surveyID, false); !ok {
		return
	}

	var questions []models.Question
	if err := database.DB.Preload("Options").
		Where("survey_id = ?", surveyID).
		Order("display_order asc").
		Find(&questions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve questions"})
		return
	}
	c.JSON(http.StatusOK, questions)
}

// DeleteQuestion removes a question and closes the gap in the survivors'
// display order.
func DeleteQuestion(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}
	questionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var question models.Question
	if err := database.DB.First(&question, questionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "question not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve question"})
		}
		return
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("question_id = ?", question.ID).Delete(&models.QuestionOption{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&question).Error; err != nil {
			return err
		}
		// Re-index the remaining questions so display order stays dense.
		return tx.Model(&models.Question{}).
			Where("survey_id = ? AND display_order > ?", question.SurveyID, question.Order).
			UpdateColumn("display_order", gorm.Expr("display_order - 1")).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete question"})
		return
	}

	cache.InvalidateSurveyCache(context.Background(), question.SurveyID)
	c.JSON(http.StatusOK, gin.H{"message": "question deleted successfully"})
}
