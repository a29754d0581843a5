// Package auth は認証・認可機能を提供します。
//
// ログイン・ログアウト・アカウント登録の API と、セッション検証・CSRF 検証・
// ファミリー単位のアクセス制御を行うミドルウェアをまとめています。
package auth

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/mealplanner/internal/storage"
)

// ListFamilies は GET /api/families のハンドラーです。
func (m *Manager) ListFamilies(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "Please sign in.",
		})
		return
	}

	families, err := m.repo.Families(c.Request.Context(), identity.UserID)
	if err != nil {
		m.logf("failed to list families user=%d: %v", identity.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": msgServerError,
		})
		return
	}

	c.JSON(http.StatusOK, families)
}

// GetFamily は GET /api/families/:family_id のハンドラーです。RequireFamily の後ろで使います。
func (m *Manager) GetFamily(c *gin.Context) {
	familyID, err := strconv.ParseInt(c.Param("family_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "Invalid family id.",
		})
		return
	}

	family, err := m.repo.Family(c.Request.Context(), familyID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "FAMILY_NOT_FOUND",
			"message": "The family does not exist.",
		})
		return
	}
	if err != nil {
		m.logf("failed to load family=%d: %v", familyID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": msgServerError,
		})
		return
	}

	c.JSON(http.StatusOK, family)
}
