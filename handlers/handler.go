package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"survey-management-backend/cache"
	"survey-management-backend/database"
	"survey-management-backend/models"
	"survey-management-backend/mq"
	"survey-management-backend/websocket"
)

// Process-wide collaborators, set once at startup.
var (
	dispatcher *mq.Dispatcher
	liveHub    *websocket.Hub
)

// timeNow is indirected so tests can pin the clock.
var timeNow = time.Now

// InitHandler wires the notification dispatcher and live hub into the
// handler package.
func InitHandler(d *mq.Dispatcher, hub *websocket.Hub) {
	dispatcher = d
	liveHub = hub
	tokenFilter = cache.InitAccessTokenFilter()
	warmTokenFilter()
	log.Println("handlers initialized")
}

// Identity is the authenticated principal supplied by the upstream gateway
// through the X-User-ID and X-User-Role headers. Credential verification
// happens before requests reach this service.
type Identity struct {
	UserID uint
	Role   models.Role
}

// currentIdentity reads the gateway identity headers. Returns ok=false for
// unauthenticated requests.
func currentIdentity(c *gin.Context) (Identity, bool) {
	idStr := c.GetHeader("X-User-ID")
	if idStr == "" {
		return Identity{}, false
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		return Identity{}, false
	}
	role := models.Role(c.GetHeader("X-User-Role"))
	if role == "" {
		role = models.RoleEmployee
	}
	return Identity{UserID: uint(id), Role: role}, true
}

// requireAdmin aborts with 401/403 unless the caller is an admin. Returns
// the identity and whether the request may proceed.
func requireAdmin(c *gin.Context) (Identity, bool) {
	ident, ok := currentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return Identity{}, false
	}
	if ident.Role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return Identity{}, false
	}
	return ident, true
}

// parseIDParam parses a numeric path parameter.
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " format"})
		return 0, false
	}
	return uint(id), true
}

// findSurvey loads a survey or writes the 404/500 response.
func findSurvey(c *gin.Context, id uint, preloadQuestions bool) (*models.Survey, bool) {
	var survey models.Survey
	q := database.DB
	if preloadQuestions {
		q = q.Preload("Questions.Options")
	}
	if err := q.First(&survey, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "survey not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve survey"})
		}
		return nil, false
	}
	return &survey, true
}

// notify sends a lifecycle notification if a dispatcher is configured.
// Delivery failures are reported to the caller but never abort workflows.
func notify(surveyID uint, typ models.NotificationType, recipient, subject, body string) error {
	if dispatcher == nil {
		return nil
	}
	row, err := dispatcher.Dispatch(surveyID, typ, recipient, subject, body)
	if err != nil {
		return err
	}
	if row.Status == models.NotificationFailed {
		return errors.New(row.Error)
	}
	return nil
}
