package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/smehub/apiserver/internal/logging"
	"github.com/smehub/apiserver/internal/mail"
	"github.com/smehub/apiserver/internal/rbac"
	"github.com/smehub/apiserver/internal/services"
	"github.com/smehub/apiserver/internal/store"
	"github.com/smehub/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]types.User
	err   error
}

func (f *fakeUsers) put(u types.User) types.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return u
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return types.User{}, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) match(fn func(types.User) bool) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if fn(u) {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	return f.match(func(u types.User) bool { return u.Email == email })
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (types.User, error) {
	return f.match(func(u types.User) bool { return u.Username == username })
}

func (f *fakeUsers) List(_ context.Context, offset, limit int) ([]types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeUsers) Create(_ context.Context, u types.User) (types.User, error) {
	if _, err := f.GetByUsername(context.Background(), u.Username); err == nil {
		return types.User{}, store.ErrConflict
	}
	u.ID = "new-" + u.Username
	return f.put(u), nil
}

func (f *fakeUsers) modify(id string, fn func(*types.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&u)
	f.users[id] = u
	return nil
}

func (f *fakeUsers) UpdateStatus(_ context.Context, id string, active bool) error {
	return f.modify(id, func(u *types.User) { u.IsActive = active })
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id, hash string) error {
	return f.modify(id, func(u *types.User) { u.PasswordHash = hash })
}

func (f *fakeUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return f.modify(id, func(u *types.User) { u.LastLogin = &at })
}

func (f *fakeUsers) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

type fakeTokens struct {
	mu       sync.Mutex
	users    *fakeUsers
	tokens   map[string]types.ResetToken
	requests map[string]int
}

func (f *fakeTokens) PurgeExpired(context.Context, time.Time, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeTokens) CountRequestsSince(_ context.Context, ip string, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[ip], nil
}

func (f *fakeTokens) RecordRequest(_ context.Context, ip string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[ip]++
	return nil
}

func (f *fakeTokens) Create(_ context.Context, t types.ResetToken) (types.ResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[t.Token] = t
	return t, nil
}

func (f *fakeTokens) GetByToken(_ context.Context, token string) (types.ResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return types.ResetToken{}, store.ErrNotFound
	}
	return t, nil
}

func (f *fakeTokens) Consume(ctx context.Context, token, hash string, now time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return "", store.ErrNotFound
	}
	if t.UsedAt != nil {
		return "", store.ErrTokenUsed
	}
	t.UsedAt = &now
	f.tokens[token] = t
	return t.UserID, f.users.UpdatePassword(ctx, t.UserID, hash)
}

type fakeEmployees struct {
	mu   sync.Mutex
	rows map[int64]types.Employee
	next int64
}

func (f *fakeEmployees) List(context.Context, types.EmployeeFilter) ([]types.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Employee, 0, len(f.rows))
	for _, e := range f.rows {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeEmployees) GetByID(_ context.Context, id int64) (types.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[id]
	if !ok {
		return types.Employee{}, store.ErrNotFound
	}
	return e, nil
}

func (f *fakeEmployees) Create(_ context.Context, e types.Employee) (types.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	e.ID = f.next
	f.rows[e.ID] = e
	return e, nil
}

func (f *fakeEmployees) Update(_ context.Context, e types.Employee) (types.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[e.ID] = e
	return e, nil
}

func (f *fakeEmployees) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

type testHasher struct{}

// Hash mirrors bcrypt's input limit.
func (testHasher) Hash(p string) (string, error) {
	if len(p) > 72 {
		return "", bcrypt.ErrPasswordTooLong
	}
	return "h:" + p, nil
}

func (testHasher) Compare(hash, p string) error {
	if hash != "h:"+p {
		return errors.New("mismatch")
	}
	return nil
}

type outbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

type denialCounter struct {
	mu    sync.Mutex
	perms []string
}

func (d *denialCounter) PermissionDenied(p string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.perms = append(d.perms, p)
}

type testEnv struct {
	router  *chi.Mux
	users   *fakeUsers
	tokens  *fakeTokens
	outbox  *outbox
	guard   *Guard
	denials *denialCounter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	users := &fakeUsers{users: map[string]types.User{}}
	tokens := &fakeTokens{users: users, tokens: map[string]types.ResetToken{}, requests: map[string]int{}}
	box := &outbox{}
	denials := &denialCounter{}
	engine := rbac.NewEngine(rbac.FallbackConfig())
	log := logging.Discard()

	userService := services.NewUserService(users, testHasher{}, engine)
	resetService := services.NewPasswordResetService(tokens, users, box, testHasher{}, log)
	employeeService := services.NewEmployeeService(&fakeEmployees{rows: map[int64]types.Employee{}}, users)
	guard := NewGuard(testSecret, time.Hour, users, engine, log, denials)

	router := chi.NewRouter()
	router.Get("/healthz", Healthz)
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, NewAuthHandler(userService, resetService, engine, guard, log), NewIPRateLimiter(5, 5, nil).Middleware)
	})
	router.Route("/users", func(r chi.Router) {
		UserRouter(r, userService, guard)
	})
	router.Route("/employees", func(r chi.Router) {
		EmployeeRouter(r, employeeService, guard)
	})

	users.put(types.User{ID: "root", Username: "root", Email: "root@example.com", Role: "superadmin", IsActive: true, PasswordHash: "h:Passw0rd"})
	users.put(types.User{ID: "admin", Username: "admin", Email: "admin@example.com", Role: "admin1", IsActive: true, PasswordHash: "h:Passw0rd"})
	users.put(types.User{ID: "hr", Username: "hr", Email: "hr@example.com", Role: "hr", IsActive: true, PasswordHash: "h:Passw0rd"})
	users.put(types.User{ID: "jane", Username: "jane", Email: "jane@example.com", Role: "employee", IsActive: true, PasswordHash: "h:Passw0rd"})
	users.put(types.User{ID: "off", Username: "off", Email: "off@example.com", Role: "admin", IsActive: false, PasswordHash: "h:Passw0rd"})

	return &testEnv{router: router, users: users, tokens: tokens, outbox: box, guard: guard, denials: denials}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:5555"
	if userID != "" {
		u, err := e.users.GetByID(context.Background(), userID)
		require.NoError(t, err)
		token, err := e.guard.IssueToken(u)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "jane", Password: "Passw0rd"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[AuthResponse](t, rec)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.NotContains(t, rec.Body.String(), "h:Passw0rd")

	subject, err := parseTokenSubject(resp.AccessToken, []byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, "jane", subject)

	rec = env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "jane", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "off", Password: "Passw0rd"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoginThrottled(t *testing.T) {
	env := newTestEnv(t)
	var last int
	for i := 0; i < 6; i++ {
		last = env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "jane", Password: "nope"}).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/me", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[MeResponse](t, rec)
	assert.Equal(t, "admin", me.CanonicalRole)
	assert.Equal(t, "admin1", me.Role)
	assert.Equal(t, 3, me.Level)
	assert.ElementsMatch(t, []string{"user.*", "employee.*", "hr.*", "profile.*"}, me.Permissions)
}

func TestValidateToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/auth/validate-token", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/validate-token", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ValidateTokenResponse{Valid: true, Username: "admin", Role: "admin", ExpiresIn: 3600}, decode[ValidateTokenResponse](t, rec))

	rec = env.do(t, http.MethodGet, "/auth/validate-token", "off", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/logout", "jane", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, LogoutResponse{Message: msgLoggedOut, Username: "jane"}, decode[LogoutResponse](t, rec))
}

func TestRequireAuthRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestPermissionGuard(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		want   int
	}{
		{"superadmin lists users", http.MethodGet, "/users/", "root", http.StatusOK},
		{"admin alias lists users", http.MethodGet, "/users/", "admin", http.StatusOK},
		{"hr cannot list users", http.MethodGet, "/users/", "hr", http.StatusForbidden},
		{"employee cannot list users", http.MethodGet, "/users/", "jane", http.StatusForbidden},
		{"inactive admin rejected", http.MethodGet, "/users/", "off", http.StatusForbidden},
		{"hr lists employees", http.MethodGet, "/employees/", "hr", http.StatusOK},
		{"employee cannot list employees", http.MethodGet, "/employees/", "jane", http.StatusForbidden},
		{"anonymous rejected", http.MethodGet, "/employees/", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.user, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.NotEmpty(t, env.denials.perms)
}

func TestPermissionGuardFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.guard.IssueToken(types.User{ID: "root", Role: "superadmin"})
	require.NoError(t, err)
	env.users.err = errors.New("db down")

	req := httptest.NewRequest(http.MethodGet, "/users/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateUserRoleCeiling(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/users/", "admin", CreateUserRequest{Username: "newbie", Email: "newbie@example.com", Password: "Passw0rd", Role: "user"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "user", decode[types.User](t, rec).Role)

	rec = env.do(t, http.MethodPost, "/users/", "admin", CreateUserRequest{Username: "boss", Email: "boss@example.com", Password: "Passw0rd", Role: "superadmin"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/users/", "admin", CreateUserRequest{Username: "newbie", Email: "other@example.com", Password: "Passw0rd", Role: "user"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/users/", "admin", CreateUserRequest{Username: "weak", Email: "weak@example.com", Password: "short", Role: "user"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserStatusAndDelete(t *testing.T) {
	env := newTestEnv(t)
	inactive := false

	rec := env.do(t, http.MethodPatch, "/users/jane/status", "admin", UpdateStatusRequest{IsActive: &inactive})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[types.User](t, rec).IsActive)

	rec = env.do(t, http.MethodPatch, "/users/root/status", "admin", UpdateStatusRequest{IsActive: &inactive})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, "/users/admin", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/users/jane", "admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/users/jane", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmployeeCRUD(t *testing.T) {
	env := newTestEnv(t)
	code, first, last := "E001", "Ann", "Lee"

	rec := env.do(t, http.MethodPost, "/employees/", "hr", EmployeeRequest{EmpCode: &code, FirstName: &first, LastName: &last})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[types.Employee](t, rec)
	assert.True(t, created.Active)
	require.NotNil(t, created.CreatedBy)
	assert.Equal(t, "hr", *created.CreatedBy)

	dept := "Sales"
	rec = env.do(t, http.MethodPut, "/employees/1", "hr", EmployeeRequest{Department: &dept})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sales", decode[types.Employee](t, rec).Department)

	badDate := "01/02/2024"
	rec = env.do(t, http.MethodPatch, "/employees/1", "hr", EmployeeRequest{StartDate: &badDate})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ghost := "ghost"
	code2 := "E002"
	rec = env.do(t, http.MethodPost, "/employees/", "hr", EmployeeRequest{EmpCode: &code2, FirstName: &first, LastName: &last, UserID: &ghost})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/employees/abc", "hr", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/employees/1", "hr", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/employees/1", "hr", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func lastResetToken(t *testing.T, env *testEnv) string {
	t.Helper()
	env.outbox.mu.Lock()
	defer env.outbox.mu.Unlock()
	require.NotEmpty(t, env.outbox.sent)
	text := env.outbox.sent[len(env.outbox.sent)-1].Text
	idx := strings.Index(text, "token=")
	require.GreaterOrEqual(t, idx, 0)
	return strings.Fields(text[idx+len("token="):])[0]
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/forgot-password", "", ForgotPasswordRequest{Email: "jane@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	known := decode[ForgotPasswordResponse](t, rec)
	assert.Equal(t, msgResetLinkSent, known.Message)

	token := lastResetToken(t, env)

	rec = env.do(t, http.MethodGet, "/auth/verify-reset-token?token="+token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, VerifyResetTokenResponse{Valid: true, Message: msgTokenValid}, decode[VerifyResetTokenResponse](t, rec))

	rec = env.do(t, http.MethodPost, "/auth/reset-password", "", ResetPasswordRequest{Token: token, NewPassword: "weak"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/reset-password", "", ResetPasswordRequest{Token: token, NewPassword: "NewPassw0rd"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, msgPasswordReset, decode[MessageResponse](t, rec).Message)

	rec = env.do(t, http.MethodPost, "/auth/reset-password", "", ResetPasswordRequest{Token: token, NewPassword: "OtherPassw0rd"})
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/verify-reset-token?token="+token, "", nil)
	assert.Equal(t, VerifyResetTokenResponse{Valid: false, Message: msgTokenUsed}, decode[VerifyResetTokenResponse](t, rec))

	u, err := env.users.GetByID(context.Background(), "jane")
	require.NoError(t, err)
	assert.Equal(t, "h:NewPassw0rd", u.PasswordHash)
}

func TestForgotPasswordUnknownEmailSameResponse(t *testing.T) {
	env := newTestEnv(t)

	known := env.do(t, http.MethodPost, "/auth/forgot-password", "", ForgotPasswordRequest{Email: "jane@example.com"})
	unknown := env.do(t, http.MethodPost, "/auth/forgot-password", "", ForgotPasswordRequest{Email: "nobody@example.com"})

	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t,
		decode[ForgotPasswordResponse](t, known).Message,
		decode[ForgotPasswordResponse](t, unknown).Message,
	)
}

func TestForgotPasswordRateLimited(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < services.ResetRateLimit; i++ {
		rec := env.do(t, http.MethodPost, "/auth/forgot-password", "", ForgotPasswordRequest{Email: "jane@example.com"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/auth/forgot-password", "", ForgotPasswordRequest{Email: "jane@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestForgotPasswordValidation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/auth/forgot-password", "", ForgotPasswordRequest{Email: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/verify-reset-token", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/verify-reset-token?token=unknown", "", nil)
	assert.Equal(t, VerifyResetTokenResponse{Valid: false, Message: msgTokenInvalid}, decode[VerifyResetTokenResponse](t, rec))

	rec = env.do(t, http.MethodPost, "/auth/reset-password", "", ResetPasswordRequest{Token: "unknown", NewPassword: "NewPassw0rd"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPasswordOverBcryptLimitIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	long := strings.Repeat("a1", 40)

	rec := env.do(t, http.MethodPost, "/auth/forgot-password", "", ForgotPasswordRequest{Email: "jane@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := lastResetToken(t, env)

	rec = env.do(t, http.MethodPost, "/auth/reset-password", "", ResetPasswordRequest{Token: token, NewPassword: long})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/verify-reset-token?token="+token, "", nil)
	assert.Equal(t, VerifyResetTokenResponse{Valid: true, Message: msgTokenValid}, decode[VerifyResetTokenResponse](t, rec))

	rec = env.do(t, http.MethodPost, "/auth/change-password", "jane", ChangePasswordRequest{CurrentPassword: "Passw0rd", NewPassword: long})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangePasswordAllowedForEveryBuiltInRole(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"root", "admin", "hr", "jane"} {
		rec := env.do(t, http.MethodPost, "/auth/change-password", id, ChangePasswordRequest{CurrentPassword: "Passw0rd", NewPassword: "NewPassw0rd"})
		assert.Equal(t, http.StatusOK, rec.Code, id)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/change-password", "jane", ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "NewPassw0rd"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/change-password", "jane", ChangePasswordRequest{CurrentPassword: "Passw0rd", NewPassword: "NewPassw0rd"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "jane", Password: "NewPassw0rd"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(60, 2, nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))

	now = now.Add(visitorTTL + 2*time.Minute)
	l.Allow("c")
	l.mu.Lock()
	_, stale := l.visitors["a"]
	l.mu.Unlock()
	assert.False(t, stale)
}
