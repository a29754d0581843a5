package pages

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/mealplanner/internal/auth"
	"github.com/yourusername/mealplanner/internal/storage"
)

type fakeRepo struct {
	users    map[int64]*storage.User
	families map[int64]*storage.Family
}

func (r *fakeRepo) UserByEmail(ctx context.Context, email string) (*storage.User, error) {
	return nil, storage.ErrNotFound
}

func (r *fakeRepo) User(ctx context.Context, id int64) (*storage.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, storage.ErrNotFound
}

func (r *fakeRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	return false, nil
}

func (r *fakeRepo) CreateAccount(ctx context.Context, input storage.NewAccount) (*storage.Account, error) {
	return nil, storage.ErrEmailTaken
}

func (r *fakeRepo) FamilyIDs(ctx context.Context, userID int64) ([]int64, error) {
	return nil, nil
}

func (r *fakeRepo) Families(ctx context.Context, userID int64) ([]storage.Family, error) {
	return nil, nil
}

func (r *fakeRepo) Family(ctx context.Context, id int64) (*storage.Family, error) {
	if f, ok := r.families[id]; ok {
		return f, nil
	}
	return nil, storage.ErrNotFound
}

func (r *fakeRepo) VerifyEmail(ctx context.Context, userID int64, token string) (bool, error) {
	u, ok := r.users[userID]
	if !ok || token == "" || u.EmailToken != token {
		return false, nil
	}
	u.EmailVerified = true
	return true, nil
}

func (r *fakeRepo) UpdateUserProfile(ctx context.Context, id int64, name, email string) (*storage.User, error) {
	return nil, storage.ErrNotFound
}

func (r *fakeRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return storage.ErrNotFound
}

func (r *fakeRepo) UpdateFamilyName(ctx context.Context, id int64, name string) (*storage.Family, error) {
	return nil, storage.ErrNotFound
}

type fixedIdentity struct {
	identity auth.Identity
	ok       bool
}

func (f fixedIdentity) CurrentIdentity(c *gin.Context) (auth.Identity, bool) {
	return f.identity, f.ok
}

func newTestRouter(repo storage.Repository, identity IdentitySource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(repo, identity, log.New(io.Discard, "", 0)).Register(router)
	return router
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: map[int64]*storage.User{
			1: {ID: 1, Email: "ann@example.com", Name: "ann", EmailToken: "tok"},
		},
		families: map[int64]*storage.Family{
			5: {ID: 5, UserID: 1, Name: "Ann Family", AccountStatus: storage.AccountStatusTrial, StatusExpiresOn: "2024-03-31"},
			6: {ID: 6, UserID: 2, Name: "other"},
		},
	}
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestStaticPagesCarryFormContract(t *testing.T) {
	router := newTestRouter(newFakeRepo(), fixedIdentity{})

	tests := []struct {
		path string
		want []string
	}{
		{
			path: "/",
			want: []string{`id="login-form"`, `onsubmit="signIn(event)"`, `id="email"`, `id="password"`, `id="login-alert"`},
		},
		{
			path: "/sign-up.html",
			want: []string{`id="register-form"`, `onsubmit="signUp(event)"`, `id="register-name"`, `id="register-email"`,
				`id="register-password"`, `id="register-retype"`, `id="register-alert"`},
		},
		{
			path: "/sign-out.html",
			want: []string{`id="logout-form"`, `onsubmit="signOut(event)"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(router, tt.path)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
			body := w.Body.String()
			assert.Contains(t, body, wasmExecPath)
			assert.Contains(t, body, wasmPath)
			for _, s := range tt.want {
				assert.Contains(t, body, s)
			}
		})
	}
}

var (
	formTag   = regexp.MustCompile(`<form[^>]*>`)
	buttonTag = regexp.MustCompile(`<button[^>]*>`)
)

// wasm が読み込まれる前に送信されても、パスワードが URL に載らないこと
func TestFormsPostToAPIAndStartDisabled(t *testing.T) {
	tests := []struct {
		name   string
		page   string
		action string
	}{
		{name: "sign in", page: SignInPage().Render(), action: `action="/api/login"`},
		{name: "sign up", page: SignUpPage().Render(), action: `action="/api/register"`},
		{name: "sign out", page: SignOutPage().Render(), action: `action="/api/logout"`},
		{name: "family", page: FamilyPage(&storage.Family{ID: 1, Name: "f"}, true).Render(), action: `action="/api/logout"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forms := formTag.FindAllString(tt.page, -1)
			require.Len(t, forms, 1)
			assert.Contains(t, forms[0], `method="post"`)
			assert.Contains(t, forms[0], tt.action)

			buttons := buttonTag.FindAllString(tt.page, -1)
			require.NotEmpty(t, buttons)
			for _, b := range buttons {
				assert.Contains(t, b, "disabled")
			}
		})
	}
}

func TestFamilyPage(t *testing.T) {
	signedIn := fixedIdentity{identity: auth.Identity{UserID: 1, FamilyID: 5, Families: []int64{5}}, ok: true}

	t.Run("member sees family", func(t *testing.T) {
		w := get(newTestRouter(newFakeRepo(), signedIn), "/family/5/view.html")
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, "Ann Family")
		assert.Contains(t, body, "Trial ends on 2024-03-31.")
		assert.Contains(t, body, "verify your email address")
		assert.Contains(t, body, `id="logout-form"`)
	})

	t.Run("signed out redirects home", func(t *testing.T) {
		w := get(newTestRouter(newFakeRepo(), fixedIdentity{}), "/family/5/view.html")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))
	})

	t.Run("other family redirects home", func(t *testing.T) {
		w := get(newTestRouter(newFakeRepo(), signedIn), "/family/6/view.html")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))
	})

	t.Run("admin missing family", func(t *testing.T) {
		admin := fixedIdentity{identity: auth.Identity{UserID: 1, Admin: true}, ok: true}
		w := get(newTestRouter(newFakeRepo(), admin), "/family/99/view.html")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestVerifyEmailPage(t *testing.T) {
	repo := newFakeRepo()
	router := newTestRouter(repo, fixedIdentity{})

	w := get(router, "/user/1/verify.html?token=wrong")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, repo.users[1].EmailVerified)

	w = get(router, "/user/abc/verify.html?token=tok")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = get(router, "/user/1/verify.html?token=tok")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Your email address has been verified.")
	assert.True(t, repo.users[1].EmailVerified)
}
