package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"survey-management-backend/database"
	"survey-management-backend/models"
)

// CreateUserInput defines the input for registering a directory entry.
type CreateUserInput struct {
	Name       string      `json:"name" binding:"required"`
	Email      string      `json:"email" binding:"required,email"`
	Role       models.Role `json:"role" binding:"required,oneof=admin manager employee"`
	Department string      `json:"department"`
}

// CreateUser adds a user to the directory that target resolution reads from.
// Identity itself comes from the upstream gateway; this is just the roster.
func CreateUser(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}

	var input CreateUserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := models.User{
		Name:       input.Name,
		Email:      input.Email,
		Role:       input.Role,
		Department: input.Department,
		Active:     true,
	}
	if err := database.DB.Create(&user).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "a user with this email already exists"})
		return
	}
	c.JSON(http.StatusCreated, user)
}

// GetUsers lists directory entries, optionally filtered by department.
func GetUsers(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}

	q := database.DB.Order("name asc")
	if dept := c.Query("department"); dept != "" {
		q = q.Where("department = ?", dept)
	}

	var users []models.User
	if err := q.Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve users"})
		return
	}
	c.JSON(http.StatusOK, users)
}
