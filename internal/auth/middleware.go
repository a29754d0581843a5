package auth

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// ContextIdentityKey は、ハンドラー間でログイン済みユーザーを共有するためのキーです。
const ContextIdentityKey = "auth.identity"

// ContextUserKey は RequireSelf が検証した :id を保持するキーです。
const ContextUserKey = "auth.user_id"

// Identity はセッションに保存されたログイン情報です。
type Identity struct {
	UserID   int64
	Admin    bool
	FamilyID int64   // 既定のファミリー
	Families []int64 // 所属ファミリー（昇順）
}

// CanAccessFamily はファミリーへのアクセス権があるかを返します。
func (i Identity) CanAccessFamily(familyID int64) bool {
	if i.Admin {
		return true
	}
	_, found := slices.BinarySearch(i.Families, familyID)
	return found
}

// sessionState はセッションの検証結果です。
type sessionState int

const (
	sessionValid sessionState = iota
	sessionMissing
	sessionExpired
	sessionIdle
)

// CurrentIdentity はセッションからログイン情報を読み出します。
// 期限切れのセッションは破棄し、ok=false を返します。
func (m *Manager) CurrentIdentity(c *gin.Context) (Identity, bool) {
	identity, state := m.loadIdentity(c)
	return identity, state == sessionValid
}

func (m *Manager) loadIdentity(c *gin.Context) (Identity, sessionState) {
	session := sessions.Default(c)
	userID, ok := session.Get(sessionKeyUser).(int64)
	if !ok || userID == 0 {
		return Identity{}, sessionMissing
	}

	now := time.Now()
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	lastActive := readUnix(session.Get(sessionKeyLastActive))

	if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
		session.Clear()
		_ = session.Save()
		return Identity{}, sessionExpired
	}
	if lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
		session.Clear()
		_ = session.Save()
		return Identity{}, sessionIdle
	}

	session.Set(sessionKeyLastActive, now.Unix())
	_ = session.Save()

	admin, _ := session.Get(sessionKeyAdmin).(bool)
	familyID, _ := session.Get(sessionKeyFamily).(int64)
	families, _ := session.Get(sessionKeyFamilies).([]int64)
	return Identity{
		UserID:   userID,
		Admin:    admin,
		FamilyID: familyID,
		Families: families,
	}, sessionValid
}

// RequireLogin はセッションを検証するミドルウェアを返します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, state := m.loadIdentity(c)
		switch state {
		case sessionMissing:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "Please sign in.",
			})
			return
		case sessionExpired:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "SESSION_EXPIRED",
				"message": "Your session has expired. Please sign in again.",
			})
			return
		case sessionIdle:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "SESSION_IDLE_TIMEOUT",
				"message": "You were signed out after a period of inactivity.",
			})
			return
		}

		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

// RequireFamily は :family_id パラメーターへのアクセス権を検証します。
// RequireLogin の後ろに置いてください。
func (m *Manager) RequireFamily() gin.HandlerFunc {
	return func(c *gin.Context) {
		familyID, err := strconv.ParseInt(c.Param("family_id"), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "Invalid family id.",
			})
			return
		}

		identity, ok := IdentityFrom(c)
		if !ok || !identity.CanAccessFamily(familyID) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "FORBIDDEN",
				"message": "You do not have access to this family.",
			})
			return
		}
		c.Next()
	}
}

// RequireSelf は :id が本人（または管理者）であることを検証します。
// RequireLogin の後ろに置いてください。
func (m *Manager) RequireSelf() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "Invalid user id.",
			})
			return
		}

		identity, ok := IdentityFrom(c)
		if !ok || (identity.UserID != userID && !identity.Admin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "FORBIDDEN",
				"message": "You do not have access to this user.",
			})
			return
		}

		c.Set(ContextUserKey, userID)
		c.Next()
	}
}

// TargetUserID は RequireSelf が検証したユーザーIDを返します。
func TargetUserID(c *gin.Context) int64 {
	return c.GetInt64(ContextUserKey)
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "The request is missing a CSRF token.",
			})
			return
		}

		received := c.GetHeader(csrfHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "The CSRF token does not match.",
			})
			return
		}

		c.Next()
	}
}

// IdentityFrom は RequireLogin が設定したログイン情報を取り出します。
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(ContextIdentityKey)
	if !ok {
		return Identity{}, false
	}
	identity, ok := v.(Identity)
	return identity, ok
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
