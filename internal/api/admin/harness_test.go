package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/db/repositories"
	"github.com/opsconsole/opsconsole/internal/middleware"
	"github.com/opsconsole/opsconsole/internal/services"
	"github.com/opsconsole/opsconsole/internal/verification"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Test setup helpers
// ---------------------------------------------------------------------------

var userCols = []string{
	"id", "email", "name", "role", "department", "is_active", "is_admin",
	"must_change_password", "password_hash", "created_at", "updated_at",
}

// addUser appends a users row built from u to rows
func addUser(rows *sqlmock.Rows, u *models.User) *sqlmock.Rows {
	var role, dept interface{}
	if u.Role != nil {
		role = int64(u.Role.Code())
	}
	if u.Department != nil {
		dept = *u.Department
	}
	now := time.Now()
	return rows.AddRow(u.ID, u.Email, u.Name, role, dept, u.IsActive, u.IsAdmin,
		u.MustChangePassword, u.PasswordHash, now, now)
}

func userRows(users ...*models.User) *sqlmock.Rows {
	rows := sqlmock.NewRows(userCols)
	for _, u := range users {
		addUser(rows, u)
	}
	return rows
}

func rolePtr(r auth.Role) *auth.Role { return &r }

func adminUser() *models.User {
	return &models.User{ID: 1, Email: "ada@example.com", Name: "Ada Admin", IsActive: true, IsAdmin: true}
}

func employee(id int64, role auth.Role) *models.User {
	return &models.User{ID: id, Email: "sam@example.com", Name: "Sam Field", Role: rolePtr(role), IsActive: true}
}

// capturingSender records the last code handed to it
type capturingSender struct {
	mu   sync.Mutex
	code string
}

func (s *capturingSender) Send(_ context.Context, _ verification.Method, _, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
	return nil
}

func (s *capturingSender) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// handlerEnv wires real repositories and services onto one sqlmock connection
type handlerEnv struct {
	mock     sqlmock.Sqlmock
	users    *UserHandlers
	auth     *AuthHandlers
	rbac     *RBACHandlers
	activity *ActivityHandlers
	sender   *capturingSender
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	userRepo := repositories.NewUserRepository(db)
	grantRepo := repositories.NewRoleGrantRepository(sqlx.NewDb(db, "postgres"))
	recorder := audit.NewRecorder(repositories.NewActivityRepository(db))

	access := services.NewAccessService(userRepo, grantRepo, recorder)
	userSvc := services.NewUserService(userRepo, recorder, &config.AuthConfig{
		TokenTTL:           time.Hour,
		BcryptCost:         bcrypt.MinCost,
		AllowRegistration:  true,
		TempPasswordLength: 12,
	})
	sender := &capturingSender{}
	verifier := verification.NewService(verification.NewMemoryStore(nil), sender, time.Minute)

	return &handlerEnv{
		mock:     mock,
		users:    NewUserHandlers(userSvc, access, userRepo),
		auth:     NewAuthHandlers(userSvc, verifier),
		rbac:     NewRBACHandlers(access),
		activity: NewActivityHandlers(recorder, access),
		sender:   sender,
	}
}

// router returns an engine on which every request is authenticated as caller (nil: anonymous)
func (e *handlerEnv) router(caller *models.User) *gin.Engine {
	r := gin.New()
	if caller != nil {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.UserKey, caller)
			c.Set(middleware.UserIDKey, caller.ID)
			c.Next()
		})
	}

	r.POST("/auth/register", e.auth.RegisterHandler())
	r.POST("/auth/login", e.auth.LoginHandler())
	r.POST("/auth/logout", e.auth.LogoutHandler())
	r.POST("/auth/password", e.auth.ChangePasswordHandler())
	r.POST("/auth/refresh", e.auth.RefreshHandler())
	r.POST("/auth/verification/send", e.auth.SendCodeHandler())
	r.POST("/auth/verification/verify", e.auth.VerifyCodeHandler())

	r.GET("/users", e.users.ListUsersHandler())
	r.POST("/users", e.users.CreateUserHandler())
	r.GET("/users/me", e.users.MeHandler())
	r.GET("/users/stats", e.users.UserStatsHandler())
	r.GET("/users/:id", e.users.GetUserHandler())
	r.PUT("/users/:id", e.users.UpdateUserHandler())
	r.PUT("/users/:id/role", e.users.AssignRoleHandler())
	r.POST("/users/:id/activate", e.users.ActivateUserHandler())
	r.POST("/users/:id/deactivate", e.users.DeactivateUserHandler())
	r.DELETE("/users/:id", e.users.DeleteUserHandler())

	r.GET("/roles", e.rbac.ListRoles)
	r.GET("/roles/:role/users", e.users.UsersByRoleHandler())
	r.GET("/access/check", e.rbac.CheckAccess)
	r.GET("/role-grants", e.rbac.ListGrants)
	r.PUT("/role-grants", e.rbac.UpsertGrant)
	r.GET("/role-grants/resolve", e.rbac.ResolveGrant)

	r.GET("/activity/recent", e.activity.FeedGate(), e.activity.RecentActivity)
	return r
}

// expectActivityInsert expects one activity record to be written
func (e *handlerEnv) expectActivityInsert() {
	e.mock.ExpectQuery("INSERT INTO activity_records").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(100)))
}

func (e *handlerEnv) expectUserByID(u *models.User) {
	e.mock.ExpectQuery("SELECT .+ FROM users WHERE id").
		WithArgs(u.ID).
		WillReturnRows(userRows(u))
}

func (e *handlerEnv) verify(t *testing.T) {
	t.Helper()
	if err := e.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func serve(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getJSON(w *httptest.ResponseRecorder) map[string]interface{} {
	var m map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	return m
}
