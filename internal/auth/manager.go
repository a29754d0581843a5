package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/mealplanner/internal/config"
	"github.com/yourusername/mealplanner/internal/storage"
)

const (
	SessionCookieName    = "mp_session"
	sessionKeyUser       = "user_id"
	sessionKeyAdmin      = "admin"
	sessionKeyFamilies   = "families"
	sessionKeyFamily     = "family_id"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader = "X-CSRF-Token"
)

var (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
	loginWindow        = 15 * time.Minute
	lockDuration       = 10 * time.Minute
	maxLoginAttempts   = 5
)

// ユーザーに返すメッセージ（クライアントはそのまま画面に表示する）
const (
	msgInvalidInput      = "Please enter your email address and password."
	msgInvalidSignUp     = "Please enter a name, an email address and a password."
	msgEmailUnknown      = "Email address was not recognized."
	msgPasswordIncorrect = "Password is incorrect."
	msgTooManyAttempts   = "Too many sign-in attempts. Please try again later."
	msgAccountExists     = "A user with that name or email address already exists."
	msgServerError       = "Server error - please try again later."
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// VerificationScheduler は登録直後の確認メール送信を受け付けます。
type VerificationScheduler interface {
	ScheduleVerification(ctx context.Context, user storage.User) error
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	cfg      *config.Config
	repo     storage.Repository
	verifier VerificationScheduler
	logger   *log.Logger

	lock     sync.Mutex
	attempts map[string]*attemptState
}

// Option は Manager の任意設定です。
type Option func(*Manager)

// WithVerification は登録時に確認メールを送るスケジューラーを設定します。
func WithVerification(v VerificationScheduler) Option {
	return func(m *Manager) {
		m.verifier = v
	}
}

// WithLogger はログ出力先を設定します。
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config, repo storage.Repository, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		repo:     repo,
		logger:   log.Default(),
		attempts: make(map[string]*attemptState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type loginRequest struct {
	Email    string `form:"email" json:"email" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

type registerRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Email    string `form:"email" json:"email" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// AuthResponse はログイン・登録成功時のレスポンスです。
type AuthResponse struct {
	UserID   int64   `json:"user_id"`
	Families []int64 `json:"families"`
}

// Login は /api/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": msgInvalidInput,
		})
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.checkLock(ip); retryAfter > 0 {
		// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": msgTooManyAttempts,
		})
		return
	}

	ctx := c.Request.Context()
	user, err := m.repo.UserByEmail(ctx, req.Email)
	if errors.Is(err, storage.ErrNotFound) {
		remaining := m.recordFailure(ip)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "EMAIL_NOT_RECOGNIZED",
			"message":           msgEmailUnknown,
			"remainingAttempts": remaining,
		})
		return
	}
	if err != nil {
		m.logf("login lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": msgServerError,
		})
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		remaining := m.recordFailure(ip)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           msgPasswordIncorrect,
			"remainingAttempts": remaining,
		})
		return
	}

	m.resetAttempts(ip)

	families, err := m.repo.FamilyIDs(ctx, user.ID)
	if err != nil {
		m.logf("failed to load families user=%d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": msgServerError,
		})
		return
	}

	identity := Identity{
		UserID:   user.ID,
		Admin:    user.Admin,
		FamilyID: user.DefaultFamilyID,
		Families: families,
	}
	if !m.startSession(c, identity) {
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		UserID:   user.ID,
		Families: families,
	})
}

// Logout は /api/logout のハンドラーです。未ログインでも成功扱いにします。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "Could not end the session.",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// Register は /api/register のハンドラーです。
func (m *Manager) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": msgInvalidSignUp,
		})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), m.cfg.BcryptCost)
	if err != nil {
		m.logf("failed to hash password: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": msgServerError,
		})
		return
	}

	ctx := c.Request.Context()
	account, err := m.repo.CreateAccount(ctx, storage.NewAccount{
		Name:         req.Username,
		Email:        req.Email,
		PasswordHash: string(hashed),
		EmailToken:   uuid.NewString(),
		TrialDays:    m.cfg.TrialDays,
	})
	if errors.Is(err, storage.ErrEmailTaken) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "ACCOUNT_EXISTS",
			"message": msgAccountExists,
		})
		return
	}
	if err != nil {
		m.logf("failed to create account: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": msgServerError,
		})
		return
	}

	families := []int64{account.Family.ID}
	identity := Identity{
		UserID:   account.User.ID,
		Admin:    account.User.Admin,
		FamilyID: account.User.DefaultFamilyID,
		Families: families,
	}
	if !m.startSession(c, identity) {
		return
	}

	// 確認メールは送れなくても登録自体は成功させる
	if m.verifier != nil {
		if err := m.verifier.ScheduleVerification(ctx, account.User); err != nil {
			m.logf("failed to schedule verification user=%d: %v", account.User.ID, err)
		}
	}

	c.JSON(http.StatusOK, AuthResponse{
		UserID:   account.User.ID,
		Families: families,
	})
}

// startSession はセッションを発行し、CSRF トークンをヘッダーで返します。
// 失敗時はレスポンスを書き込んで false を返します。
func (m *Manager) startSession(c *gin.Context, identity Identity) bool {
	token, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": msgServerError,
		})
		return false
	}

	session := sessions.Default(c)
	now := time.Now()
	session.Clear()
	session.Set(sessionKeyUser, identity.UserID)
	session.Set(sessionKeyAdmin, identity.Admin)
	session.Set(sessionKeyFamilies, identity.Families)
	session.Set(sessionKeyFamily, identity.FamilyID)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)

	if err := session.Save(); err != nil {
		m.logf("failed to save session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": msgServerError,
		})
		return false
	}

	c.Header(csrfHeader, token)
	return true
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := time.Now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return time.Until(state.lockedUntil)
}

func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := time.Now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}

	return max(maxLoginAttempts-state.count, 0)
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
