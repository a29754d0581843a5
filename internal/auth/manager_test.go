package auth

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/mealplanner/internal/config"
	"github.com/yourusername/mealplanner/internal/storage"
)

type memoryRepo struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]*storage.User
	families map[int64]*storage.Family
	members  map[int64][]int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextID:   100,
		users:    make(map[int64]*storage.User),
		families: make(map[int64]*storage.Family),
		members:  make(map[int64][]int64),
	}
}

func (r *memoryRepo) addUser(t *testing.T, email, password string, families ...int64) *storage.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	user := &storage.User{ID: r.nextID, Email: email, UserName: email, Password: string(hashed)}
	r.users[user.ID] = user
	for _, id := range families {
		r.families[id] = &storage.Family{ID: id, UserID: user.ID, Name: "family"}
	}
	r.members[user.ID] = append([]int64(nil), families...)
	slices.Sort(r.members[user.ID])
	if len(families) > 0 {
		user.DefaultFamilyID = r.members[user.ID][0]
	}
	return user
}

func (r *memoryRepo) UserByEmail(ctx context.Context, email string) (*storage.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *memoryRepo) User(ctx context.Context, id int64) (*storage.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *memoryRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := r.UserByEmail(ctx, email)
	return err == nil, nil
}

func (r *memoryRepo) CreateAccount(ctx context.Context, input storage.NewAccount) (*storage.Account, error) {
	if exists, _ := r.EmailExists(ctx, input.Email); exists {
		return nil, storage.ErrEmailTaken
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	family := storage.Family{ID: r.nextID, Name: input.Name, AccountStatus: storage.AccountStatusTrial}
	r.nextID++
	user := storage.User{
		ID:              r.nextID,
		UserName:        input.Email,
		Email:           input.Email,
		Name:            input.Name,
		Password:        input.PasswordHash,
		EmailToken:      input.EmailToken,
		DefaultFamilyID: family.ID,
	}
	family.UserID = user.ID
	r.users[user.ID] = &user
	r.families[family.ID] = &family
	r.members[user.ID] = []int64{family.ID}
	return &storage.Account{User: user, Family: family}, nil
}

func (r *memoryRepo) FamilyIDs(ctx context.Context, userID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.members[userID]...), nil
}

func (r *memoryRepo) Families(ctx context.Context, userID int64) ([]storage.Family, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.Family
	for _, id := range r.members[userID] {
		out = append(out, *r.families[id])
	}
	return out, nil
}

func (r *memoryRepo) Family(ctx context.Context, id int64) (*storage.Family, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *f
	return &copied, nil
}

func (r *memoryRepo) VerifyEmail(ctx context.Context, userID int64, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || token == "" || u.EmailToken != token {
		return false, nil
	}
	u.EmailVerified = true
	return true, nil
}

func (r *memoryRepo) UpdateUserProfile(ctx context.Context, id int64, name, email string) (*storage.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID != id && u.Email == email {
			return nil, storage.ErrEmailTaken
		}
	}
	u, ok := r.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if u.Email != email {
		u.EmailVerified = false
	}
	u.Name, u.Email, u.UserName = name, email, email
	copied := *u
	return &copied, nil
}

func (r *memoryRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.Password = passwordHash
	return nil
}

func (r *memoryRepo) UpdateFamilyName(ctx context.Context, id int64, name string) (*storage.Family, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	f.Name = name
	copied := *f
	return &copied, nil
}

type stubVerifier struct {
	users []storage.User
}

func (s *stubVerifier) ScheduleVerification(ctx context.Context, user storage.User) error {
	s.users = append(s.users, user)
	return nil
}

func newTestRouter(t *testing.T, repo storage.Repository, opts ...Option) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		SessionSecret: "test-secret",
		BcryptCost:    bcrypt.MinCost,
		TrialDays:     30,
	}
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	m := NewManager(cfg, repo, opts...)

	router := gin.New()
	router.Use(sessions.Sessions(SessionCookieName, cookie.NewStore([]byte(cfg.SessionSecret))))

	api := router.Group("/api")
	api.POST("/login", m.Login)
	api.POST("/logout", m.Logout)
	api.POST("/register", m.Register)

	protected := api.Group("")
	protected.Use(m.RequireLogin(), m.VerifyCSRF())
	protected.GET("/families", m.ListFamilies)
	protected.GET("/families/:family_id", m.RequireFamily(), m.GetFamily)
	protected.PUT("/families/:family_id", m.RequireFamily(), m.UpdateFamily)
	protected.POST("/families/:family_id/touch", m.RequireFamily(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	protected.GET("/users/:id", m.RequireSelf(), m.GetUser)
	protected.PUT("/users/:id", m.RequireSelf(), m.UpdateUser)
	protected.PUT("/users/:id/password", m.RequireSelf(), m.UpdateUserPassword)
	return router
}

func postForm(router http.Handler, path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func login(t *testing.T, router http.Handler, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	return postForm(router, "/api/login", url.Values{"email": {email}, "password": {password}})
}

func TestLoginSuccess(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(t, "a@b.com", "x", 7, 3)
	router := newTestRouter(t, repo)

	rec := login(t, router, "a@b.com", "x")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	var resp AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Families) != 2 || resp.Families[0] != 3 || resp.Families[1] != 7 {
		t.Fatalf("unexpected families: %#v", resp.Families)
	}
	if rec.Header().Get(csrfHeader) == "" {
		t.Fatal("expected CSRF token header")
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Fatal("expected session cookie")
	}
}

func TestLoginJSONBody(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(t, "a@b.com", "x", 1)
	router := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"email":"a@b.com","password":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestLoginFailures(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(t, "a@b.com", "x", 1)

	tests := []struct {
		name    string
		form    url.Values
		status  int
		message string
	}{
		{"missing password", url.Values{"email": {"a@b.com"}}, http.StatusBadRequest, msgInvalidInput},
		{"empty email", url.Values{"email": {""}, "password": {"x"}}, http.StatusBadRequest, msgInvalidInput},
		{"unknown email", url.Values{"email": {"nobody@b.com"}, "password": {"x"}}, http.StatusUnauthorized, msgEmailUnknown},
		{"wrong password", url.Values{"email": {"a@b.com"}, "password": {"y"}}, http.StatusUnauthorized, msgPasswordIncorrect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, repo)
			rec := postForm(router, "/api/login", tt.form)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := decodeBody(t, rec)["message"]; got != tt.message {
				t.Fatalf("message = %v, want %q", got, tt.message)
			}
		})
	}
}

func TestLoginLockout(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(t, "a@b.com", "x", 1)
	router := newTestRouter(t, repo)

	for i := 0; i < maxLoginAttempts; i++ {
		rec := login(t, router, "a@b.com", "wrong")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: unexpected status %d", i+1, rec.Code)
		}
		want := float64(maxLoginAttempts - i - 1)
		if got := decodeBody(t, rec)["remainingAttempts"]; got != want {
			t.Fatalf("attempt %d: remainingAttempts = %v, want %v", i+1, got, want)
		}
	}

	rec := login(t, router, "a@b.com", "x")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected lockout, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRegister(t *testing.T) {
	repo := newMemoryRepo()
	verifier := &stubVerifier{}
	router := newTestRouter(t, repo, WithVerification(verifier))

	rec := postForm(router, "/api/register", url.Values{
		"username": {"Smiths"},
		"email":    {"smith@example.com"},
		"password": {"p1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	var resp AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Families) != 1 {
		t.Fatalf("unexpected families: %#v", resp.Families)
	}
	if len(verifier.users) != 1 || verifier.users[0].Email != "smith@example.com" {
		t.Fatalf("verification not scheduled: %#v", verifier.users)
	}
	if verifier.users[0].EmailToken == "" {
		t.Fatal("expected an email token")
	}

	user, err := repo.User(context.Background(), resp.UserID)
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("p1")) != nil {
		t.Fatal("stored password does not match")
	}

	// 登録直後にログイン状態になっている
	cookies := rec.Result().Cookies()
	req := httptest.NewRequest(http.MethodGet, "/api/families", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	famRec := httptest.NewRecorder()
	router.ServeHTTP(famRec, req)
	if famRec.Code != http.StatusOK {
		t.Fatalf("expected session after register, got %d", famRec.Code)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(t, "smith@example.com", "x", 1)
	router := newTestRouter(t, repo)

	rec := postForm(router, "/api/register", url.Values{
		"username": {"Smiths"},
		"email":    {"smith@example.com"},
		"password": {"p1"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := decodeBody(t, rec)["message"]; got != msgAccountExists {
		t.Fatalf("unexpected message: %v", got)
	}
}

func TestLogout(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(t, "a@b.com", "x", 1)
	router := newTestRouter(t, repo)

	// 未ログインでも成功する
	rec := postForm(router, "/api/logout", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	loginRec := login(t, router, "a@b.com", "x")
	rec = postForm(router, "/api/logout", nil, loginRec.Result().Cookies()...)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestProtectedRoutes(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(t, "a@b.com", "x", 3)
	router := newTestRouter(t, repo)

	get := func(path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := get("/api/families", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}

	loginRec := login(t, router, "a@b.com", "x")
	cookies := loginRec.Result().Cookies()
	token := loginRec.Header().Get(csrfHeader)

	if rec := get("/api/families", cookies); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with session, got %d", rec.Code)
	}
	if rec := get("/api/families/3", cookies); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for own family, got %d", rec.Code)
	}
	if rec := get("/api/families/99", cookies); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for other family, got %d", rec.Code)
	}
	if rec := get("/api/families/abc", cookies); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", rec.Code)
	}

	// CSRF
	rec := postForm(router, "/api/families/3/touch", nil, cookies...)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF header, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/families/3/touch", nil)
	req.Header.Set(csrfHeader, token)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with CSRF header, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestIdentityCanAccessFamily(t *testing.T) {
	id := Identity{Families: []int64{2, 5, 9}}
	if !id.CanAccessFamily(5) || id.CanAccessFamily(4) {
		t.Fatal("unexpected membership result")
	}
	admin := Identity{Admin: true}
	if !admin.CanAccessFamily(123) {
		t.Fatal("admin should access every family")
	}
}
