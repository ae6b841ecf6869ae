package admin

import (
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/opsconsole/opsconsole/internal/auth"
)

var activityCols = []string{"id", "user", "module", "entity_type", "entity_id", "action", "description", "created_at"}

func activityRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(activityCols).
		AddRow(int64(2), "Ada Admin", "safety", "incident", int64(9), "create", "Ada Admin (User) - opened incident", now).
		AddRow(int64(1), "System", "safety", "incident", nil, "update", "System - nightly close", now.Add(-time.Hour))
}

func TestRecentActivity_AdminReadsEverything(t *testing.T) {
	env := newHandlerEnv(t)
	env.expectUserByID(adminUser())
	env.mock.ExpectQuery("SELECT .+ FROM activity_records a").
		WithArgs(20).
		WillReturnRows(activityRows())

	w := serve(env.router(adminUser()), http.MethodGet, "/activity/recent", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	items := getJSON(w)["activity"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("got %d records, want 2", len(items))
	}
	last := items[1].(map[string]interface{})
	if last["user"] != "System" || last["object_id"] != nil {
		t.Errorf("system record rendered as %v", last)
	}
	env.verify(t)
}

func TestRecentActivity_ModuleOwnerReadsOwnFeed(t *testing.T) {
	env := newHandlerEnv(t)
	caller := employee(5, auth.RoleSafetyOfficer)
	env.expectUserByID(caller) // admin check
	env.expectUserByID(caller) // role check
	env.mock.ExpectQuery("SELECT .+ FROM activity_records a .+ WHERE a.module").
		WithArgs("safety", 5).
		WillReturnRows(activityRows())

	w := serve(env.router(caller), http.MethodGet, "/activity/recent?module=safety&limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	env.verify(t)
}

func TestRecentActivity_ModuleFilterIsTrimmed(t *testing.T) {
	env := newHandlerEnv(t)
	caller := employee(5, auth.RoleEquipmentManager)
	env.expectUserByID(caller)
	env.expectUserByID(caller)
	env.mock.ExpectQuery("SELECT .+ FROM activity_records a .+ WHERE a.module").
		WithArgs("equipment", 20).
		WillReturnRows(activityRows())

	w := serve(env.router(caller), http.MethodGet, "/activity/recent?module=equipment%20", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	env.verify(t)
}

func TestRecentActivity_Denied(t *testing.T) {
	tests := []struct {
		name  string
		query string
		reads int
	}{
		{"another module", "?module=inventory", 2},
		{"unfiltered feed", "", 1},
		{"module without owner, no department", "?module=users", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHandlerEnv(t)
			caller := employee(5, auth.RoleSafetyOfficer)
			for i := 0; i < tt.reads; i++ {
				env.expectUserByID(caller)
			}

			w := serve(env.router(caller), http.MethodGet, "/activity/recent"+tt.query, nil)
			if w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", w.Code)
			}
			env.verify(t)
		})
	}
}

func TestRecentActivity_UnownedModuleByGroupGrant(t *testing.T) {
	tests := []struct {
		name   string
		grant  *sqlmock.Rows
		status int
	}{
		{"view grant", sqlmock.NewRows(grantCols).AddRow(int64(4), "Maintenance Crew", "maintenance", int64(1), time.Now()), http.StatusOK},
		{"full grant", sqlmock.NewRows(grantCols).AddRow(int64(4), "Maintenance Crew", "maintenance", int64(3), time.Now()), http.StatusOK},
		{"none grant", sqlmock.NewRows(grantCols).AddRow(int64(4), "Maintenance Crew", "maintenance", int64(0), time.Now()), http.StatusForbidden},
		{"no grant", sqlmock.NewRows(grantCols), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHandlerEnv(t)
			caller := employee(5, auth.RoleEquipmentManager)
			crew := "Maintenance Crew"
			caller.Department = &crew
			env.expectUserByID(caller) // admin check
			env.expectUserByID(caller) // grant check
			env.mock.ExpectQuery("SELECT .+ FROM role_module_permissions").
				WithArgs("Maintenance Crew", "maintenance").
				WillReturnRows(tt.grant)
			if tt.status == http.StatusOK {
				env.mock.ExpectQuery("SELECT .+ FROM activity_records a .+ WHERE a.module").
					WithArgs("maintenance", 20).
					WillReturnRows(activityRows())
			}

			w := serve(env.router(caller), http.MethodGet, "/activity/recent?module=maintenance", nil)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.status, w.Body.String())
			}
			env.verify(t)
		})
	}
}

func TestRecentActivity_DeactivatedOwnerDenied(t *testing.T) {
	env := newHandlerEnv(t)
	caller := employee(5, auth.RoleSafetyOfficer)
	stored := employee(5, auth.RoleSafetyOfficer)
	stored.IsActive = false
	env.expectUserByID(stored)
	env.expectUserByID(stored)

	w := serve(env.router(caller), http.MethodGet, "/activity/recent?module=safety", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	env.verify(t)
}

func TestRecentActivity_InvalidLimit(t *testing.T) {
	env := newHandlerEnv(t)
	env.expectUserByID(adminUser())

	w := serve(env.router(adminUser()), http.MethodGet, "/activity/recent?limit=lots", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	env.verify(t)
}

func TestRecentActivity_Anonymous(t *testing.T) {
	env := newHandlerEnv(t)
	w := serve(env.router(nil), http.MethodGet, "/activity/recent", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
