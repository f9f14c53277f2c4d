package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"survey-management-backend/cache"
	"survey-management-backend/database"
	"survey-management-backend/models"
)

// reportCacheTTL bounds how stale a served report may be.
const reportCacheTTL = 30 * time.Second

// OptionDistribution is one option's share of a question's responses.
type OptionDistribution struct {
	Option     string  `json:"option"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// QuestionReport is one question's aggregated responses.
type QuestionReport struct {
	QuestionID   uint                 `json:"question_id"`
	Text         string               `json:"text"`
	Parameter    string               `json:"parameter,omitempty"`
	Total        int64                `json:"total"`
	Distribution []OptionDistribution `json:"distribution"`
}

// SurveyReport is the full aggregation served to admins.
type SurveyReport struct {
	SurveyID      uint                        `json:"survey_id"`
	Name          string                      `json:"name"`
	GeneratedAt   time.Time                   `json:"generated_at"`
	Participation gin.H                       `json:"participation"`
	Consent       gin.H                       `json:"consent"`
	ByParameter   map[string][]QuestionReport `json:"by_parameter"`
	Questions     []QuestionReport            `json:"questions"`
}

// GetSurveyReport aggregates participation, consent and per-question option
// distributions. Read-only; the result is cached in Redis for a short window
// since dashboards poll it.
func GetSurveyReport(c *gin.Context) {
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

	cacheKey := fmt.Sprintf("survey:%d:report", surveyID)
	payload, err := cache.GetWithCache(context.Background(), cacheKey, reportCacheTTL, func() (string, error) {
		report, err := buildSurveyReport(surveyID)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(report)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	if err != nil {
		log.Printf("report generation failed for survey %d: %v", surveyID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate report"})
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(payload))
}

func buildSurveyReport(surveyID uint) (*SurveyReport, error) {
	var survey models.Survey
	if err := database.DB.First(&survey, surveyID).Error; err != nil {
		return nil, err
	}

	var targets, started, completed int64
	database.DB.Model(&models.ConsentRecord{}).Where("survey_id = ?", surveyID).Count(&targets)
	database.DB.Model(&models.SurveyAttempt{}).Where("survey_id = ?", surveyID).Count(&started)
	database.DB.Model(&models.SurveyAttempt{}).
		Where("survey_id = ? AND completed = ?", surveyID, true).Count(&completed)

	completionRate := 0.0
	if started > 0 {
		completionRate = float64(completed) / float64(started) * 100
	}

	var given, denied, pending int64
	database.DB.Model(&models.ConsentRecord{}).
		Where("survey_id = ? AND consent_given = ?", surveyID, true).Count(&given)
	database.DB.Model(&models.ConsentRecord{}).
		Where("survey_id = ? AND consent_given = ?", surveyID, false).Count(&denied)
	database.DB.Model(&models.ConsentRecord{}).
		Where("survey_id = ? AND consent_given IS NULL", surveyID).Count(&pending)
	consentRate := 0.0
	if targets > 0 {
		consentRate = float64(given) / float64(targets) * 100
	}

	var questions []models.Question
	if err := database.DB.Preload("Options").
		Where("survey_id = ?", surveyID).
		Order("display_order asc").
		Find(&questions).Error; err != nil {
		return nil, err
	}

	report := &SurveyReport{
		SurveyID:    survey.ID,
		Name:        survey.Name,
		GeneratedAt: timeNow(),
		Participation: gin.H{
			"targets":         targets,
			"started":         started,
			"completed":       completed,
			"completion_rate": completionRate,
		},
		Consent: gin.H{
			"given":   given,
			"denied":  denied,
			"pending": pending,
			"rate":    consentRate,
		},
		ByParameter: make(map[string][]QuestionReport),
		Questions:   make([]QuestionReport, 0, len(questions)),
	}

	for _, q := range questions {
		qr, err := buildQuestionReport(&q)
		if err != nil {
			return nil, err
		}
		report.Questions = append(report.Questions, qr)

		param := q.Parameter
		if param == "" {
			param = "general"
		}
		report.ByParameter[param] = append(report.ByParameter[param], qr)
	}

	return report, nil
}

func buildQuestionReport(q *models.Question) (QuestionReport, error) {
	type optionCount struct {
		SelectedOption string
		Count          int64
	}
	var counts []optionCount
	err := database.DB.Model(&models.SurveyResponse{}).
		Select("selected_option, COUNT(*) as count").
		Where("question_id = ?", q.ID).
		Group("selected_option").
		Scan(&counts).Error
	if err != nil {
		return QuestionReport{}, err
	}

	countByOption := make(map[string]int64, len(counts))
	var total int64
	for _, oc := range counts {
		countByOption[oc.SelectedOption] = oc.Count
		total += oc.Count
	}

	qr := QuestionReport{
		QuestionID:   q.ID,
		Text:         q.Text,
		Parameter:    q.Parameter,
		Total:        total,
		Distribution: make([]OptionDistribution, 0, len(q.Options)),
	}
	// Every declared option appears in the distribution, zero-count included.
	for _, opt := range q.Options {
		count := countByOption[opt.Text]
		pct := 0.0
		if total > 0 {
			pct = float64(count) / float64(total) * 100
		}
		qr.Distribution = append(qr.Distribution, OptionDistribution{
			Option:     opt.Text,
			Count:      count,
			Percentage: pct,
		})
	}
	return qr, nil
}
