package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"survey-management-backend/cache"
	"survey-management-backend/database"
	"survey-management-backend/models"
	"survey-management-backend/security"
)

// tokenFilter is an optional bloom pre-check over issued token strings, set
// by InitHandler once Redis is up. When Redis is down it stays nil and
// validation goes straight to the database.
var tokenFilter *cache.BloomFilter

// warmTokenFilter seeds the bloom filter with every token already issued so
// the pre-check never produces a false not_found after a restart. The bitmap
// lives in Redis, so instances share one filter.
func warmTokenFilter() {
	if tokenFilter == nil {
		return
	}
	var tokens []string
	if err := database.DB.Model(&models.SurveyAccessToken{}).Pluck("token", &tokens).Error; err != nil {
		log.Printf("bloom filter warm-up failed, disabling pre-check: %v", err)
		tokenFilter = nil
		return
	}
	ctx := context.Background()
	for _, t := range tokens {
		if err := tokenFilter.Add(ctx, t); err != nil {
			log.Printf("bloom filter warm-up failed, disabling pre-check: %v", err)
			tokenFilter = nil
			return
		}
	}
	log.Printf("bloom filter warmed with %d access tokens", len(tokens))
}

// GenerateTokensInput lists the employees to issue tokens for.
type GenerateTokensInput struct {
	Employees []TokenEmployeeInput `json:"employees" binding:"required,min=1,dive"`
}

// TokenEmployeeInput is one (email, name) pair.
type TokenEmployeeInput struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name"`
}

// GenerateAccessTokens bulk-issues single-use tokens for a survey. Each
// employee succeeds or fails independently; an existing usable token for the
// same (survey, employee) pair is a per-item error, not a batch failure.
func GenerateAccessTokens(c *gin.Context) {
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

	var input GenerateTokensInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens := make([]models.SurveyAccessToken, 0, len(input.Employees))
	itemErrors := make([]string, 0)

	for _, emp := range input.Employees {
		token := models.SurveyAccessToken{
			SurveyID:      surveyID,
			EmployeeEmail: emp.Email,
			EmployeeName:  emp.Name,
			Token:         security.NewToken(),
			Status:        models.TokenActive,
			ExpiresAt:     survey.EndDate(),
		}
		// The unique (survey, email) index is the duplicate check; a racing
		// second insert fails here rather than in a read-then-write gap.
		if err := database.DB.Create(&token).Error; err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("%s: token already exists", emp.Email))
			continue
		}
		tokens = append(tokens, token)

		if tokenFilter != nil {
			if err := tokenFilter.Add(context.Background(), token.Token); err != nil {
				log.Printf("bloom filter add failed for token of %s: %v", emp.Email, err)
			}
		}

		subject := fmt.Sprintf("Survey invitation: %s", survey.Name)
		body := fmt.Sprintf("You are invited to take survey %q. Your access code: %s", survey.Name, token.Token)
		if err := notify(surveyID, models.NotifySurveyInvite, emp.Email, subject, body); err != nil {
			log.Printf("invite notification to %s failed: %v", emp.Email, err)
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"tokens": tokens,
		"errors": itemErrors,
	})
}

// ValidateAccessToken checks a token and reports {valid, reason}. An active
// token past its expiry is demoted to expired here, lazily, instead of by a
// background sweep. Each validation bumps the access metadata.
func ValidateAccessToken(c *gin.Context) {
	surveyID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	tokenStr := c.Param("token")

	if tokenFilter != nil {
		if present, err := tokenFilter.Contains(context.Background(), tokenStr); err == nil && !present {
			c.JSON(http.StatusOK, gin.H{"valid": false, "reason": "not_found"})
			return
		}
	}

	token, reason, err := lookupToken(surveyID, tokenStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate token"})
		return
	}
	if reason != "" {
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": reason})
		return
	}

	recordTokenAccess(token, c.ClientIP(), c.Request.UserAgent())

	c.JSON(http.StatusOK, gin.H{
		"valid":          true,
		"survey_id":      surveyID,
		"employee_email": token.EmployeeEmail,
		"expires_at":     token.ExpiresAt,
	})
}

// lookupToken resolves a token within a survey and classifies it. An empty
// reason means the token is usable.
func lookupToken(surveyID uint, tokenStr string) (*models.SurveyAccessToken, string, error) {
	var token models.SurveyAccessToken
	err := database.DB.Where("survey_id = ? AND token = ?", surveyID, tokenStr).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "not_found", nil
		}
		return nil, "", err
	}

	switch token.Status {
	case models.TokenUsed:
		return &token, "used", nil
	case models.TokenExpired:
		return &token, "expired", nil
	}

	if timeNow().After(token.ExpiresAt) {
		// Lazy demotion; conditional so a concurrent consume wins cleanly.
		database.DB.Model(&models.SurveyAccessToken{}).
			Where("id = ? AND status = ?", token.ID, models.TokenActive).
			Update("status", models.TokenExpired)
		return &token, "expired", nil
	}
	return &token, "", nil
}

// recordTokenAccess updates usage metadata for one validation hit.
func recordTokenAccess(token *models.SurveyAccessToken, ip, ua string) {
	now := timeNow()
	updates := map[string]interface{}{
		"access_count":   gorm.Expr("access_count + 1"),
		"last_access_at": now,
		"request_ip":     ip,
		"request_ua":     ua,
	}
	if token.FirstAccessAt == nil {
		updates["first_access_at"] = now
	}
	if err := database.DB.Model(token).Updates(updates).Error; err != nil {
		log.Printf("failed to record token access for token %d: %v", token.ID, err)
	}
}

// consumeToken is the single irreversible active->used transition, executed
// as one conditional update. RowsAffected==0 means another submission got
// there first and the caller must treat the token as used.
func consumeToken(db *gorm.DB, tokenID uint, attemptID uint) error {
	now := timeNow()
	result := db.Model(&models.SurveyAccessToken{}).
		Where("id = ? AND status = ?", tokenID, models.TokenActive).
		Updates(map[string]interface{}{
			"status":            models.TokenUsed,
			"used_at":           now,
			"response_batch_id": attemptID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("token_used")
	}
	return nil
}

// RevokeAccessToken hard-deletes a token. Permitted at any status.
func RevokeAccessToken(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}
	surveyID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	tokenID, ok := parseIDParam(c, "tokenID")
	if !ok {
		return
	}

	result := database.DB.Unscoped().
		Where("survey_id = ?", surveyID).
		Delete(&models.SurveyAccessToken{}, tokenID)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token revoked"})
}

// ListAccessTokens returns a survey's tokens for the admin dashboard.
func ListAccessTokens(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}
	surveyID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var tokens []models.SurveyAccessToken
	if err := database.DB.Where("survey_id = ?", surveyID).
		Order("created_at asc").Find(&tokens).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve tokens"})
		return
	}
	c.JSON(http.StatusOK, tokens)
}
