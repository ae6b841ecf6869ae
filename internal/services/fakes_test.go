package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/db/repositories"
)

type fakeUsers struct {
	mu     sync.Mutex
	byID   map[int64]*models.User
	nextID int64
	writes int
	getErr error
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{byID: map[int64]*models.User{}, nextID: 100}
	for _, u := range users {
		cp := *u
		f.byID[u.ID] = &cp
	}
	return f
}

func (f *fakeUsers) CreateUser(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return repositories.ErrDuplicate
		}
	}
	f.nextID++
	u.ID = f.nextID
	cp := *u
	f.byID[u.ID] = &cp
	f.writes++
	return nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) update(id int64, fn func(*models.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repositories.ErrNotFound
	}
	fn(u)
	f.writes++
	return nil
}

func (f *fakeUsers) UpdateUser(_ context.Context, user *models.User) error {
	return f.update(user.ID, func(u *models.User) {
		u.Name = user.Name
		u.Department = user.Department
	})
}

func (f *fakeUsers) UpdateUserRole(_ context.Context, id int64, role auth.Role) error {
	return f.update(id, func(u *models.User) { u.Role = &role })
}

func (f *fakeUsers) SetActive(_ context.Context, id int64, active bool) error {
	return f.update(id, func(u *models.User) { u.IsActive = active })
}

func (f *fakeUsers) SetPassword(_ context.Context, id int64, hash string, mustChange bool) error {
	return f.update(id, func(u *models.User) {
		u.PasswordHash = hash
		u.MustChangePassword = mustChange
	})
}

func (f *fakeUsers) DeleteUser(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(f.byID, id)
	f.writes++
	return nil
}

type grantKey struct{ group, module string }

type fakeGrants struct {
	mu     sync.Mutex
	grants map[grantKey]*models.RoleGrant
	nextID int64
}

func newFakeGrants() *fakeGrants {
	return &fakeGrants{grants: map[grantKey]*models.RoleGrant{}}
}

func (f *fakeGrants) GetGrant(_ context.Context, group, module string) (*models.RoleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[grantKey{group, module}]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGrants) UpsertGrant(_ context.Context, g *models.RoleGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := grantKey{g.Group, g.Module}
	if existing, ok := f.grants[k]; ok {
		g.ID = existing.ID
	} else {
		f.nextID++
		g.ID = f.nextID
	}
	cp := *g
	f.grants[k] = &cp
	return nil
}

func (f *fakeGrants) ListGrants(_ context.Context, group *string) ([]*models.RoleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.RoleGrant
	for _, g := range f.grants {
		if group == nil || g.Group == *group {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []audit.RecordInput
	err     error
}

func (f *fakeRecorder) Record(_ context.Context, in audit.RecordInput) (*models.ActivityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, errors.Join(audit.ErrWriteFailure, f.err)
	}
	f.records = append(f.records, in)
	return &models.ActivityRecord{ID: int64(len(f.records)), Module: in.Module, Action: string(in.Action)}, nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func rolePtr(r auth.Role) *auth.Role { return &r }

func adminUser() *models.User {
	return &models.User{ID: 1, Email: "admin@example.com", Name: "Ada Admin", IsActive: true, IsAdmin: true}
}

func employee(id int64, role *auth.Role, active bool) *models.User {
	return &models.User{ID: id, Email: fmt.Sprintf("emp%d@example.com", id), Name: "Sam Field", Role: role, IsActive: active}
}
