package admin

import (
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"golang.org/x/crypto/bcrypt"
)

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

// ---------------------------------------------------------------------------
// RegisterHandler
// ---------------------------------------------------------------------------

func TestRegisterHandler_Success(t *testing.T) {
	env := newHandlerEnv(t)
	env.mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(21), time.Now(), time.Now()))
	env.expectActivityInsert()

	w := serve(env.router(nil), http.MethodPost, "/auth/register", map[string]interface{}{
		"email":    "field.worker@example.com",
		"name":     "Field Worker",
		"password": "correct-horse",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}
	user := getJSON(w)["user"].(map[string]interface{})
	if user["is_active"] != false {
		t.Error("self-registered accounts must start inactive")
	}
	if user["role"] != nil {
		t.Errorf("role = %v, want null", user["role"])
	}
	env.verify(t)
}

func TestRegisterHandler_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"short password", map[string]interface{}{"email": "a@example.com", "name": "A", "password": "short"}},
		{"bad email", map[string]interface{}{"email": "not-an-email", "name": "A", "password": "long-enough"}},
		{"missing name", map[string]interface{}{"email": "a@example.com", "password": "long-enough"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHandlerEnv(t)
			w := serve(env.router(nil), http.MethodPost, "/auth/register", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			env.verify(t)
		})
	}
}

// ---------------------------------------------------------------------------
// LoginHandler
// ---------------------------------------------------------------------------

func TestLoginHandler_Success(t *testing.T) {
	env := newHandlerEnv(t)
	u := employee(5, auth.RoleProductionManager)
	u.PasswordHash = hashed(t, "s3cret-pass")
	u.MustChangePassword = true

	env.mock.ExpectQuery("SELECT .+ FROM users WHERE email").
		WithArgs("sam@example.com").
		WillReturnRows(userRows(u))
	env.expectActivityInsert()

	w := serve(env.router(nil), http.MethodPost, "/auth/login", map[string]interface{}{
		"email":    "  Sam@Example.com ",
		"password": "s3cret-pass",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	token, _ := resp["token"].(string)
	claims, err := auth.ValidateJWT(token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.UserID != 5 {
		t.Errorf("token user = %d, want 5", claims.UserID)
	}
	if resp["must_change_password"] != true {
		t.Error("must_change_password should be reported")
	}
	env.verify(t)
}

func TestLoginHandler_Rejections(t *testing.T) {
	inactive := employee(5, auth.RoleSafetyOfficer)
	inactive.IsActive = false

	tests := []struct {
		name     string
		user     *models.User
		password string
	}{
		{"unknown email", nil, "whatever-pass"},
		{"wrong password", employee(5, auth.RoleSafetyOfficer), "wrong-pass"},
		{"inactive account", inactive, "s3cret-pass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHandlerEnv(t)
			rows := userRows()
			if tt.user != nil {
				tt.user.PasswordHash = hashed(t, "s3cret-pass")
				rows = userRows(tt.user)
			}
			env.mock.ExpectQuery("SELECT .+ FROM users WHERE email").WillReturnRows(rows)

			w := serve(env.router(nil), http.MethodPost, "/auth/login", map[string]interface{}{
				"email":    "sam@example.com",
				"password": tt.password,
			})
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if _, ok := getJSON(w)["token"]; ok {
				t.Error("no token may be issued")
			}
			env.verify(t)
		})
	}
}

// ---------------------------------------------------------------------------
// LogoutHandler / ChangePasswordHandler
// ---------------------------------------------------------------------------

func TestLogoutHandler_RecordsActivity(t *testing.T) {
	env := newHandlerEnv(t)
	env.expectActivityInsert()

	w := serve(env.router(employee(5, auth.RoleSafetyOfficer)), http.MethodPost, "/auth/logout", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	env.verify(t)
}

func TestRefreshHandler(t *testing.T) {
	env := newHandlerEnv(t)

	w := serve(env.router(employee(5, auth.RoleSafetyOfficer)), http.MethodPost, "/auth/refresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	token, _ := getJSON(w)["token"].(string)
	claims, err := auth.ValidateJWT(token)
	if err != nil {
		t.Fatalf("refreshed token does not validate: %v", err)
	}
	if claims.UserID != 5 {
		t.Errorf("token user = %d, want 5", claims.UserID)
	}

	w = serve(env.router(nil), http.MethodPost, "/auth/refresh", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", w.Code)
	}
	env.verify(t)
}

func TestChangePasswordHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		env := newHandlerEnv(t)
		u := employee(5, auth.RoleSafetyOfficer)
		u.PasswordHash = hashed(t, "temporary-1")
		env.mock.ExpectExec("UPDATE users SET password_hash").
			WithArgs(int64(5), sqlmock.AnyArg(), false).
			WillReturnResult(sqlmock.NewResult(0, 1))
		env.expectActivityInsert()

		w := serve(env.router(u), http.MethodPost, "/auth/password", map[string]interface{}{
			"current_password": "temporary-1",
			"new_password":     "permanent-2",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
		}
		env.verify(t)
	})

	t.Run("wrong current password", func(t *testing.T) {
		env := newHandlerEnv(t)
		u := employee(5, auth.RoleSafetyOfficer)
		u.PasswordHash = hashed(t, "temporary-1")

		w := serve(env.router(u), http.MethodPost, "/auth/password", map[string]interface{}{
			"current_password": "guess",
			"new_password":     "permanent-2",
		})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
		env.verify(t)
	})
}

// ---------------------------------------------------------------------------
// Verification codes
// ---------------------------------------------------------------------------

func TestVerificationFlow(t *testing.T) {
	env := newHandlerEnv(t)
	r := env.router(nil)

	w := serve(r, http.MethodPost, "/auth/verification/send", map[string]interface{}{
		"method":      "email",
		"destination": "sam@example.com",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	code := env.sender.last()
	if len(code) != 6 {
		t.Fatalf("code = %q, want 6 digits", code)
	}

	verify := func(code string) bool {
		t.Helper()
		w := serve(r, http.MethodPost, "/auth/verification/verify", map[string]interface{}{
			"destination": "sam@example.com",
			"code":        code,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("verify status = %d, want 200", w.Code)
		}
		return getJSON(w)["verified"] == true
	}

	if verify("000000") {
		t.Error("a wrong code must not verify")
	}
	if !verify(code) {
		t.Error("the issued code should verify")
	}
	if verify(code) {
		t.Error("a code must verify only once")
	}
}

func TestSendCodeHandler_InvalidMethod(t *testing.T) {
	env := newHandlerEnv(t)
	w := serve(env.router(nil), http.MethodPost, "/auth/verification/send", map[string]interface{}{
		"method":      "carrier-pigeon",
		"destination": "sam@example.com",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if env.sender.last() != "" {
		t.Error("no code may be issued for an invalid method")
	}
}
