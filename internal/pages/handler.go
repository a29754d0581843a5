package pages

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/chasefleming/elem-go"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/mealplanner/internal/auth"
	"github.com/yourusername/mealplanner/internal/storage"
)

// IdentitySource はリクエストのログイン情報を返します（auth.Manager が満たします）。
type IdentitySource interface {
	CurrentIdentity(c *gin.Context) (auth.Identity, bool)
}

// Handler はページのハンドラーをまとめます。
type Handler struct {
	repo     storage.Repository
	identity IdentitySource
	logger   *log.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(repo storage.Repository, identity IdentitySource, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{repo: repo, identity: identity, logger: logger}
}

// Register はページのルートを登録します。
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/", h.SignIn)
	r.GET("/sign-up.html", h.SignUp)
	r.GET("/sign-out.html", h.SignOut)
	r.GET("/family/:family_id/view.html", h.Family)
	r.GET("/user/:user_id/verify.html", h.VerifyEmail)
}

func (h *Handler) SignIn(c *gin.Context) {
	render(c, http.StatusOK, SignInPage())
}

func (h *Handler) SignUp(c *gin.Context) {
	render(c, http.StatusOK, SignUpPage())
}

func (h *Handler) SignOut(c *gin.Context) {
	render(c, http.StatusOK, SignOutPage())
}

// Family はファミリー画面を返します。
// 未ログイン、または所属していないファミリーの場合はトップページへリダイレクトします。
func (h *Handler) Family(c *gin.Context) {
	identity, ok := h.identity.CurrentIdentity(c)
	if !ok {
		c.Redirect(http.StatusFound, "/")
		return
	}

	familyID, err := strconv.ParseInt(c.Param("family_id"), 10, 64)
	if err != nil || !identity.CanAccessFamily(familyID) {
		c.Redirect(http.StatusFound, "/")
		return
	}

	ctx := c.Request.Context()
	family, err := h.repo.Family(ctx, familyID)
	if errors.Is(err, storage.ErrNotFound) {
		render(c, http.StatusNotFound, MessagePage("Not found", "The family does not exist."))
		return
	}
	if err != nil {
		h.serverError(c, "load family", err)
		return
	}

	verified := true
	user, err := h.repo.User(ctx, identity.UserID)
	if err != nil {
		h.logger.Printf("pages: load user %d: %v", identity.UserID, err)
	} else {
		verified = user.EmailVerified
	}

	render(c, http.StatusOK, FamilyPage(family, verified))
}

// VerifyEmail はメール確認リンクの遷移先です。
func (h *Handler) VerifyEmail(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		render(c, http.StatusBadRequest, MessagePage("Verification failed", invalidLinkMsg))
		return
	}

	ok, err := h.repo.VerifyEmail(c.Request.Context(), userID, c.Query("token"))
	if err != nil {
		h.serverError(c, "verify email", err)
		return
	}
	if !ok {
		render(c, http.StatusBadRequest, MessagePage("Verification failed", invalidLinkMsg))
		return
	}
	render(c, http.StatusOK, MessagePage("Email verified", "Your email address has been verified."))
}

const invalidLinkMsg = "This verification link is invalid."

func (h *Handler) serverError(c *gin.Context, op string, err error) {
	h.logger.Printf("pages: %s: %v", op, err)
	render(c, http.StatusInternalServerError, MessagePage("Server error", "Server error - please try again later."))
}

func render(c *gin.Context, status int, page *elem.Element) {
	c.Data(status, "text/html; charset=utf-8", []byte(page.Render()))
}
