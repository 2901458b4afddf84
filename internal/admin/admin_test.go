package admin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/admin"
	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/session"
)

// ── Stubs ───────────────────────────────────────────────────────────────

type stubDirectory struct {
	lists    map[string]interface{}
	writeErr error
	created  interface{}
	calls    []string
}

func (d *stubDirectory) List(_ context.Context, resource string) (interface{}, error) {
	d.calls = append(d.calls, "list "+resource)
	return d.lists[resource], nil
}

func (d *stubDirectory) Create(_ context.Context, resource string, _ interface{}) (interface{}, error) {
	d.calls = append(d.calls, "create "+resource)
	return d.created, d.writeErr
}

func (d *stubDirectory) Update(_ context.Context, resource, id string, _ interface{}) (interface{}, error) {
	d.calls = append(d.calls, "update "+resource+" "+id)
	return nil, d.writeErr
}

func (d *stubDirectory) Delete(_ context.Context, resource, id string) error {
	d.calls = append(d.calls, "delete "+resource+" "+id)
	return d.writeErr
}

type stubAudit struct {
	entries []models.ActivityLogEntry
}

func (a *stubAudit) Log(_ context.Context, e *models.ActivityLogEntry) error {
	a.entries = append(a.entries, *e)
	return nil
}

func sysAdmin() *session.Session {
	return &session.Session{ID: "s1", BackendToken: "bt", Principal: models.Principal{ID: "root", Role: models.RoleSystemAdmin}}
}

func newService(dir *stubDirectory, audit *stubAudit) *admin.Service {
	return admin.NewService(func(string) admin.Directory { return dir }, audit, zap.NewNop().Sugar())
}

func departments() map[string]interface{} {
	return map[string]interface{}{
		"departments": []interface{}{
			map[string]interface{}{"Id": 1, "Name": "IT Support"},
			map[string]interface{}{"Id": 2, "Name": "Security"},
		},
	}
}

// ── Collection ──────────────────────────────────────────────────────────

func withID(d models.Department, id string) models.Department {
	d.ID = id
	return d
}

func TestCollection_CreateGetsTemporaryKeyThenServerKey(t *testing.T) {
	col := admin.NewCollection(withID)
	applied := col.ApplyOptimistic(admin.Change[models.Department]{Op: admin.OpCreate, Record: models.Department{Name: "Legal"}})
	require.True(t, admin.IsTemporary(applied.Record.ID))
	require.Len(t, col.Items(), 1)

	server := models.Department{ID: "9", Name: "Legal"}
	got, err := col.Reconcile(applied, &server, nil)
	require.NoError(t, err)
	assert.Equal(t, server, got)
	assert.Equal(t, []models.Department{server}, col.Items())
}

func TestCollection_FailureKeepsLocalChange(t *testing.T) {
	col := admin.NewCollection(withID)
	col.Replace([]models.Department{{ID: "1", Name: "IT"}, {ID: "2", Name: "HR"}})

	t.Run("Update", func(t *testing.T) {
		applied := col.ApplyOptimistic(admin.Change[models.Department]{Op: admin.OpUpdate, Record: models.Department{ID: "1", Name: "IT Support"}})
		boom := errors.New("500")
		got, err := col.Reconcile(applied, nil, boom)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "IT Support", got.Name)

		rec, ok := col.Find("1")
		require.True(t, ok)
		assert.Equal(t, "IT Support", rec.Name)
	})

	t.Run("Delete", func(t *testing.T) {
		applied := col.ApplyOptimistic(admin.Change[models.Department]{Op: admin.OpDelete, Record: models.Department{ID: "2"}})
		_, err := col.Reconcile(applied, nil, errors.New("500"))
		require.Error(t, err)
		_, ok := col.Find("2")
		assert.False(t, ok)
	})
}

// ── Service ─────────────────────────────────────────────────────────────

func TestService_RequiresSystemAdmin(t *testing.T) {
	svc := newService(&stubDirectory{}, nil)
	ctx := context.Background()

	for _, role := range []models.Role{models.RoleDepartmentAdmin, models.RoleEmployee, "Auditor"} {
		sess := &session.Session{ID: "x", Principal: models.Principal{Role: role}}
		_, err := svc.ListDepartments(ctx, sess, false)
		assert.ErrorIs(t, err, admin.ErrForbidden, "role %q", role)

		_, err = svc.CreateLocation(ctx, sess, models.Location{Name: "HQ"})
		assert.ErrorIs(t, err, admin.ErrForbidden, "role %q", role)
	}
}

func TestService_ListCachesPerSession(t *testing.T) {
	dir := &stubDirectory{lists: map[string]interface{}{"departments": departments()}}
	svc := newService(dir, nil)
	ctx := context.Background()

	got, err := svc.ListDepartments(ctx, sysAdmin(), false)
	require.NoError(t, err)
	assert.Equal(t, []models.Department{{ID: "1", Name: "IT Support"}, {ID: "2", Name: "Security"}}, got)

	_, err = svc.ListDepartments(ctx, sysAdmin(), false)
	require.NoError(t, err)
	assert.Len(t, dir.calls, 1)

	_, err = svc.ListDepartments(ctx, sysAdmin(), true)
	require.NoError(t, err)
	assert.Len(t, dir.calls, 2)
}

func TestService_CreateAdoptsServerRecord(t *testing.T) {
	dir := &stubDirectory{
		lists:   map[string]interface{}{"departments": departments()},
		created: map[string]interface{}{"department": map[string]interface{}{"id": "3", "name": "Legal"}},
	}
	audit := &stubAudit{}
	svc := newService(dir, audit)
	ctx := context.Background()

	out, err := svc.CreateDepartment(ctx, sysAdmin(), models.Department{Name: "Legal"})
	require.NoError(t, err)
	assert.True(t, out.Synced)
	assert.Equal(t, "3", out.Record.ID)

	items, _ := svc.ListDepartments(ctx, sysAdmin(), false)
	assert.Len(t, items, 3)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "departments.create", audit.entries[0].Action)
}

func TestService_FailedWriteIsKeptAndReported(t *testing.T) {
	dir := &stubDirectory{
		lists:    map[string]interface{}{"departments": departments()},
		writeErr: errors.New("backend returned 500"),
	}
	svc := newService(dir, &stubAudit{})
	ctx := context.Background()

	out, err := svc.UpdateDepartment(ctx, sysAdmin(), models.Department{ID: "2", Name: "Physical Security"})
	require.NoError(t, err)
	assert.False(t, out.Synced)
	assert.Contains(t, out.Error, "500")

	items, _ := svc.ListDepartments(ctx, sysAdmin(), false)
	assert.Contains(t, items, models.Department{ID: "2", Name: "Physical Security"})

	out, err = svc.DeleteDepartment(ctx, sysAdmin(), "1")
	require.NoError(t, err)
	assert.False(t, out.Synced)
	items, _ = svc.ListDepartments(ctx, sysAdmin(), false)
	assert.Len(t, items, 1)
}

func TestService_Validation(t *testing.T) {
	dir := &stubDirectory{}
	svc := newService(dir, nil)
	ctx := context.Background()

	t.Run("BlankName", func(t *testing.T) {
		_, err := svc.CreateDepartment(ctx, sysAdmin(), models.Department{Name: "   "})
		assert.ErrorIs(t, err, admin.ErrInvalid)
	})

	t.Run("DepartmentAdminNeedsDepartment", func(t *testing.T) {
		reg := models.UserRegistration{
			User:     models.User{Name: "Dana", Email: "dana@example.com", Role: models.RoleDepartmentAdmin},
			Password: "long-enough",
		}
		_, err := svc.RegisterUser(ctx, sysAdmin(), reg)
		assert.ErrorIs(t, err, admin.ErrInvalid)
	})

	t.Run("UpdateWithoutID", func(t *testing.T) {
		_, err := svc.UpdateLocation(ctx, sysAdmin(), models.Location{Name: "HQ"})
		assert.ErrorIs(t, err, admin.ErrInvalid)
	})

	assert.Empty(t, dir.calls)
}

func TestService_RegisterUser(t *testing.T) {
	dir := &stubDirectory{created: map[string]interface{}{"Id": 12, "Name": "Eli", "Email": "eli@example.com", "Role": "Employee"}}
	svc := newService(dir, nil)

	reg := models.UserRegistration{
		User:     models.User{Name: "Eli", Email: "eli@example.com", Role: models.RoleEmployee},
		Password: "s3cret-pass",
	}
	out, err := svc.RegisterUser(context.Background(), sysAdmin(), reg)
	require.NoError(t, err)
	assert.Equal(t, "12", out.Record.ID)
	assert.Contains(t, dir.calls, "create users")
}

func TestService_WorkspacesAreIsolated(t *testing.T) {
	dir := &stubDirectory{lists: map[string]interface{}{"locations": []interface{}{}}, writeErr: errors.New("down")}
	svc := newService(dir, nil)
	ctx := context.Background()

	a := sysAdmin()
	b := sysAdmin()
	b.ID = "s2"

	_, err := svc.CreateLocation(ctx, a, models.Location{Name: "Annex"})
	require.NoError(t, err)

	itemsA, _ := svc.ListLocations(ctx, a, false)
	itemsB, _ := svc.ListLocations(ctx, b, false)
	assert.Len(t, itemsA, 1)
	assert.Empty(t, itemsB)

	svc.Forget(a.ID)
	itemsA, _ = svc.ListLocations(ctx, a, false)
	assert.Empty(t, itemsA)
}
