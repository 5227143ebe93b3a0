package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rentmarket/api/internal/models"
	"rentmarket/api/internal/services"
)

// UserHandler handles registration, login and public profiles.
type UserHandler struct {
	userService services.IUserService
	logger      *zap.Logger
}

func NewUserHandler(userService services.IUserService, log *zap.Logger) *UserHandler {
	return &UserHandler{userService: userService, logger: log.Named("users_api")}
}

// PublicUser represents the data returned for a user profile.
type PublicUser struct {
	ID         string      `json:"id"`
	Username   string      `json:"username"`
	Role       models.Role `json:"role"`
	Approved   bool        `json:"approved"`
	DateJoined string      `json:"date_joined"`
}

type registerRequest struct {
	Username string      `json:"username" validate:"required,alphanum,min=3,max=32"`
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required,min=8,max=72"`
	Role     models.Role `json:"role" validate:"required,oneof=customer renter"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Register handles POST /users/register. Renters start pending approval.
func (h *UserHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	user, err := h.userService.Register(c.Request.Context(), req.Username, req.Email, req.Password, req.Role)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// Login handles POST /users/login.
func (h *UserHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	token, user, err := h.userService.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// GetProfile handles GET /users/:username.
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, err := h.userService.FindByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, PublicUser{
		ID:         user.ID.String(),
		Username:   user.Username,
		Role:       user.Role,
		Approved:   user.ApprovalStatus == models.ApprovalApproved,
		DateJoined: user.CreatedAt.Format("2006-01-02"),
	})
}
