package auth

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/mealplanner/internal/storage"
)

const (
	msgPasswordChanged        = "Password changed."
	msgCurrentPasswordInvalid = "Current password is incorrect."
)

type updateUserRequest struct {
	Name  string `form:"name" json:"name" binding:"required"`
	Email string `form:"email" json:"email" binding:"required"`
}

type changePasswordRequest struct {
	Current  string `form:"current" json:"current" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

type updateFamilyRequest struct {
	Name string `form:"name" json:"name" binding:"required"`
}

// GetUser は GET /api/users/:id のハンドラーです。RequireSelf の後ろで使います。
func (m *Manager) GetUser(c *gin.Context) {
	user, ok := m.loadUser(c, TargetUserID(c))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateUser は PUT /api/users/:id のハンドラーです。
// 変更できるのは表示名とメールアドレスのみです。
func (m *Manager) UpdateUser(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "Please enter a name and an email address.",
		})
		return
	}

	userID := TargetUserID(c)
	user, err := m.repo.UpdateUserProfile(c.Request.Context(), userID, req.Name, req.Email)
	switch {
	case errors.Is(err, storage.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "ACCOUNT_EXISTS",
			"message": msgAccountExists,
		})
		return
	case errors.Is(err, storage.ErrNotFound):
		userNotFound(c)
		return
	case err != nil:
		m.logf("failed to update user=%d: %v", userID, err)
		serverError(c)
		return
	}

	c.JSON(http.StatusOK, user)
}

// UpdateUserPassword は PUT /api/users/:id/password のハンドラーです。
func (m *Manager) UpdateUserPassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "Please enter your current and new passwords.",
		})
		return
	}

	user, ok := m.loadUser(c, TargetUserID(c))
	if !ok {
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Current)) != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_CREDENTIALS",
			"message": msgCurrentPasswordInvalid,
		})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), m.cfg.BcryptCost)
	if err != nil {
		m.logf("failed to hash password: %v", err)
		serverError(c)
		return
	}
	if err := m.repo.UpdatePassword(c.Request.Context(), user.ID, string(hashed)); err != nil {
		m.logf("failed to update password user=%d: %v", user.ID, err)
		serverError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msgPasswordChanged})
}

// UpdateFamily は PUT /api/families/:family_id のハンドラーです。
// 所属メンバーのうちオーナー（または管理者）だけが名前を変更できます。
func (m *Manager) UpdateFamily(c *gin.Context) {
	familyID, err := strconv.ParseInt(c.Param("family_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "Invalid family id.",
		})
		return
	}

	var req updateFamilyRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "Please enter a family name.",
		})
		return
	}

	identity, _ := IdentityFrom(c)
	ctx := c.Request.Context()
	family, err := m.repo.Family(ctx, familyID)
	if errors.Is(err, storage.ErrNotFound) {
		familyNotFound(c)
		return
	}
	if err != nil {
		m.logf("failed to load family=%d: %v", familyID, err)
		serverError(c)
		return
	}
	if family.UserID != identity.UserID && !identity.Admin {
		c.JSON(http.StatusForbidden, gin.H{
			"code":    "FORBIDDEN",
			"message": "Only the owner can change this family.",
		})
		return
	}

	family, err = m.repo.UpdateFamilyName(ctx, familyID, req.Name)
	if errors.Is(err, storage.ErrNotFound) {
		familyNotFound(c)
		return
	}
	if err != nil {
		m.logf("failed to update family=%d: %v", familyID, err)
		serverError(c)
		return
	}

	c.JSON(http.StatusOK, family)
}

func (m *Manager) loadUser(c *gin.Context, userID int64) (*storage.User, bool) {
	user, err := m.repo.User(c.Request.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		userNotFound(c)
		return nil, false
	}
	if err != nil {
		m.logf("failed to load user=%d: %v", userID, err)
		serverError(c)
		return nil, false
	}
	return user, true
}

func userNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"code":    "USER_NOT_FOUND",
		"message": "The user does not exist.",
	})
}

func familyNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"code":    "FAMILY_NOT_FOUND",
		"message": "The family does not exist.",
	})
}

func serverError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "INTERNAL_ERROR",
		"message": msgServerError,
	})
}
