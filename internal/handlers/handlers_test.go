package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/admin"
	"github.com/opsdesk/triage-console/internal/backend"
	"github.com/opsdesk/triage-console/internal/handlers"
	"github.com/opsdesk/triage-console/internal/middleware"
	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/services"
	"github.com/opsdesk/triage-console/internal/session"
	"github.com/opsdesk/triage-console/internal/workflow"
)

// ── Stubs ───────────────────────────────────────────────────────────────

type stubBackend struct {
	saveErr error
	saves   []models.SaveRequest
}

var fixtureReports = []interface{}{
	map[string]interface{}{"Id": "r1", "Title": "Printer on fire", "DepartmentId": "d1", "StatusId": "st1", "SubmittedBy": "emp-1"},
	map[string]interface{}{"Id": "r2", "Title": "Leaking pipe", "DepartmentId": "d2", "StatusId": "st1", "SubmittedBy": "emp-2"},
}

func (b *stubBackend) ListReports(context.Context, string) (interface{}, error) {
	return fixtureReports, nil
}

func (b *stubBackend) GetReport(_ context.Context, id string) (interface{}, error) {
	for _, raw := range fixtureReports {
		if rec := raw.(map[string]interface{}); rec["Id"] == id {
			return rec, nil
		}
	}
	return nil, backend.ErrNotFound
}

func (b *stubBackend) SaveReport(_ context.Context, _ string, req models.SaveRequest) error {
	b.saves = append(b.saves, req)
	return b.saveErr
}

func (b *stubBackend) SendReport(context.Context, string) error { return nil }

func (b *stubBackend) ListComments(context.Context, string) (interface{}, error) { return nil, nil }

func (b *stubBackend) AddComment(context.Context, string, string) error { return nil }

func (b *stubBackend) Dropdown(_ context.Context, kind string) (interface{}, error) {
	switch kind {
	case "status":
		return []interface{}{
			map[string]interface{}{"id": "st1", "name": "Open"},
			map[string]interface{}{"id": "st2", "name": "Resolved"},
		}, nil
	case "department":
		return []interface{}{
			map[string]interface{}{"id": "d1", "name": "IT Support"},
			map[string]interface{}{"id": "d2", "name": "Facility Maintenance"},
		}, nil
	}
	return nil, errors.New("unavailable")
}

type stubAuth struct{}

func (stubAuth) Login(_ context.Context, email, password string) (*backend.LoginResult, error) {
	if password != "secret" {
		return nil, backend.ErrUnauthorized
	}
	return &backend.LoginResult{
		Token:   "bt",
		Profile: map[string]interface{}{"id": "it", "name": "Ian", "email": email, "role": "Department Admin", "department": "IT Support"},
	}, nil
}

func (stubAuth) Logout(context.Context, string) error { return nil }

func (stubAuth) Profile(context.Context, string) (map[string]interface{}, error) {
	return map[string]interface{}{"id": "it", "name": "Ian", "role": "Department Admin", "department": "IT Support"}, nil
}

type stubDirectory struct {
	writeErr error
}

func (d *stubDirectory) List(context.Context, string) (interface{}, error) {
	return []interface{}{}, nil
}

func (d *stubDirectory) Create(_ context.Context, _ string, body interface{}) (interface{}, error) {
	if d.writeErr != nil {
		return nil, d.writeErr
	}
	return map[string]interface{}{"id": "dept-9", "name": "Security"}, nil
}

func (d *stubDirectory) Update(context.Context, string, string, interface{}) (interface{}, error) {
	return nil, d.writeErr
}

func (d *stubDirectory) Delete(context.Context, string, string) error { return d.writeErr }

// ── Helpers ─────────────────────────────────────────────────────────────

var (
	sysAdmin = models.Principal{ID: "admin", Name: "Ada", Role: models.RoleSystemAdmin}
	itAdmin  = models.Principal{ID: "it", Name: "Ian", Role: models.RoleDepartmentAdmin, Department: "IT Support"}
	employee = models.Principal{ID: "emp-1", Name: "Eve", Role: models.RoleEmployee}
)

// withPrincipal mounts the router behind a fixed session
func withPrincipal(p models.Principal, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := &session.Session{ID: "sess-" + p.ID, BackendToken: "bt", Principal: p}
		h.ServeHTTP(w, r.WithContext(middleware.WithSession(r.Context(), sess)))
	})
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

type reportApp struct {
	be     *stubBackend
	router chi.Router
}

func newReportApp() *reportApp {
	logger := zap.NewNop().Sugar()
	be := &stubBackend{}
	bf := func(string) services.Backend { return be }

	reports := services.NewReportService(bf, logger)
	editors := services.NewEditorService(services.EditorConfig{
		Reports: reports,
		Backend: bf,
		Policy:  workflow.SendAutoSave,
		Logger:  logger,
	})
	analyticsSvc := services.NewAnalyticsService(reports, logger)

	rh := handlers.NewReportHandler(reports, logger)
	eh := handlers.NewEditorHandler(editors, logger)
	ah := handlers.NewAnalyticsHandler(analyticsSvc, logger)
	act := handlers.NewActivityHandler(nil, reports, logger)

	r := chi.NewRouter()
	r.Get("/reports", rh.List)
	r.Get("/reports/{id}", rh.Detail)
	r.Post("/reports/{id}/comments", rh.AddComment)
	r.Get("/lookups/{kind}", rh.Lookup)
	r.Post("/editors", eh.Open)
	r.Get("/editors/{id}/options/{field}", eh.Options)
	r.Put("/editors/{id}/field", eh.SetField)
	r.Post("/editors/{id}/save", eh.Save)
	r.Delete("/editors/{id}", eh.Close)
	r.Get("/analytics", ah.Compute)
	r.Get("/activity/recent", act.Recent)
	return &reportApp{be: be, router: r}
}

// ── Auth ────────────────────────────────────────────────────────────────

func TestAuthHandler_LoginSessionLogout(t *testing.T) {
	logger := zap.NewNop().Sugar()
	store := session.NewMemoryStore()
	sessions := session.NewService(store, stubAuth{}, session.NewTokens("handler-secret", time.Hour), time.Hour, logger)

	var forgotten []string
	h := handlers.NewAuthHandler(sessions, logger, func(id string) { forgotten = append(forgotten, id) })

	r := chi.NewRouter()
	r.Post("/auth/login", h.Login)
	r.Post("/auth/restore", h.Restore)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(sessions))
		r.Get("/auth/session", h.Session)
		r.Get("/navigation", h.Navigation)
		r.Post("/auth/logout", h.Logout)
	})

	rec := do(t, r, http.MethodPost, "/auth/login", map[string]string{"email": "ian@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, r, http.MethodPost, "/auth/login", map[string]string{"email": "ian@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, "/auth/login", map[string]string{"email": "ian@example.com", "password": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Token     string           `json:"token"`
		Principal models.Principal `json:"principal"`
		Sections  []string         `json:"sections"`
	}
	decode(t, rec, &login)
	require.NotEmpty(t, login.Token)
	assert.Equal(t, models.RoleDepartmentAdmin, login.Principal.Role)
	assert.Equal(t, []string{"reports", "analytics", "profile"}, login.Sections)

	authed := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+login.Token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, authed(http.MethodGet, "/auth/session").Code)

	rec = authed(http.MethodGet, "/navigation")
	require.Equal(t, http.StatusOK, rec.Code)
	var nav struct {
		SettingsTabs []string `json:"settingsTabs"`
	}
	decode(t, rec, &nav)
	assert.Empty(t, nav.SettingsTabs)

	assert.Equal(t, http.StatusOK, authed(http.MethodPost, "/auth/logout").Code)
	assert.Len(t, forgotten, 1)
	assert.Equal(t, 0, store.Len())

	// the token still verifies, so restore rebuilds the session from the profile
	rec = authed(http.MethodPost, "/auth/restore")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.Len())
}

// ── Reports ─────────────────────────────────────────────────────────────

func TestReportHandler_ListIsScoped(t *testing.T) {
	app := newReportApp()

	rec := do(t, withPrincipal(itAdmin, app.router), http.MethodGet, "/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Reports []models.Report `json:"reports"`
		Count   int             `json:"count"`
	}
	decode(t, rec, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "r1", body.Reports[0].ID)
	assert.Equal(t, "IT Support", body.Reports[0].DepartmentName)

	rec = do(t, withPrincipal(itAdmin, app.router), http.MethodGet, "/reports/r2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, withPrincipal(sysAdmin, app.router), http.MethodGet, "/reports/r2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		ID           string `json:"id"`
		Capabilities struct {
			EditSeverity bool `json:"editSeverity"`
		} `json:"capabilities"`
	}
	decode(t, rec, &detail)
	assert.Equal(t, "r2", detail.ID)
	assert.True(t, detail.Capabilities.EditSeverity)
}

func TestReportHandler_CommentValidation(t *testing.T) {
	app := newReportApp()
	rec := do(t, withPrincipal(sysAdmin, app.router), http.MethodPost, "/reports/r1/comments", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportHandler_Lookup(t *testing.T) {
	app := newReportApp()

	rec := do(t, withPrincipal(employee, app.router), http.MethodGet, "/lookups/statuses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	decode(t, rec, &entries)
	assert.Len(t, entries, 2)

	rec = do(t, withPrincipal(employee, app.router), http.MethodGet, "/lookups/colours", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ── Editors ─────────────────────────────────────────────────────────────

func TestEditorHandler_EditAndSave(t *testing.T) {
	app := newReportApp()
	h := withPrincipal(sysAdmin, app.router)

	rec := do(t, h, http.MethodPost, "/editors", map[string]string{"reportId": "r1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var opened struct {
		EditorID string `json:"editorId"`
		View     struct {
			State string `json:"state"`
		} `json:"view"`
	}
	decode(t, rec, &opened)
	require.NotEmpty(t, opened.EditorID)
	assert.Equal(t, "clean", opened.View.State)

	base := "/editors/" + opened.EditorID

	rec = do(t, h, http.MethodPut, base+"/field", map[string]string{"field": "status", "value": "Purple"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, base+"/field", map[string]string{"field": "status", "value": "Resolved"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"dirty"`)

	rec = do(t, h, http.MethodGet, base+"/options/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"clean"`)
	require.Len(t, app.be.saves, 1)
	assert.Equal(t, "st2", app.be.saves[0].Status)

	rec = do(t, h, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/save", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditorHandler_SaveFailureReturnsView(t *testing.T) {
	app := newReportApp()
	app.be.saveErr = errors.New("backend returned 500")
	h := withPrincipal(sysAdmin, app.router)

	rec := do(t, h, http.MethodPost, "/editors", map[string]string{"reportId": "r1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var opened struct {
		EditorID string `json:"editorId"`
	}
	decode(t, rec, &opened)

	base := "/editors/" + opened.EditorID
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, base+"/field", map[string]string{"field": "status", "value": "st2"}).Code)

	rec = do(t, h, http.MethodPost, base+"/save", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var failed struct {
		Error string `json:"error"`
		View  struct {
			State string `json:"state"`
		} `json:"view"`
	}
	decode(t, rec, &failed)
	assert.NotEmpty(t, failed.Error)
	assert.Equal(t, "dirty", failed.View.State)
}

func TestEditorHandler_OtherSessionCannotUseEditor(t *testing.T) {
	app := newReportApp()

	rec := do(t, withPrincipal(sysAdmin, app.router), http.MethodPost, "/editors", map[string]string{"reportId": "r1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var opened struct {
		EditorID string `json:"editorId"`
	}
	decode(t, rec, &opened)

	rec = do(t, withPrincipal(itAdmin, app.router), http.MethodPost, "/editors/"+opened.EditorID+"/save", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ── Analytics / activity ────────────────────────────────────────────────

func TestAnalyticsHandler(t *testing.T) {
	app := newReportApp()

	rec := do(t, withPrincipal(sysAdmin, app.router), http.MethodGet, "/analytics?timeframe=fortnight", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, withPrincipal(itAdmin, app.router), http.MethodGet, "/analytics?timeframe=all&department=Facility%20Maintenance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Total                   int  `json:"total"`
		DepartmentLocked        bool `json:"departmentLocked"`
		ShowDepartmentBreakdown bool `json:"showDepartmentBreakdown"`
	}
	decode(t, rec, &res)
	assert.Equal(t, 1, res.Total)
	assert.True(t, res.DepartmentLocked)
	assert.False(t, res.ShowDepartmentBreakdown)
}

func TestActivityHandler_Unconfigured(t *testing.T) {
	app := newReportApp()
	rec := do(t, withPrincipal(sysAdmin, app.router), http.MethodGet, "/activity/recent", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ── Admin ───────────────────────────────────────────────────────────────

func newAdminRouter(dir *stubDirectory) http.Handler {
	logger := zap.NewNop().Sugar()
	svc := admin.NewService(func(string) admin.Directory { return dir }, nil, logger)
	h := handlers.NewAdminHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequireRole(models.RoleSystemAdmin))
	r.Get("/admin/departments", h.ListDepartments)
	r.Post("/admin/departments", h.CreateDepartment)
	r.Put("/admin/departments/{id}", h.UpdateDepartment)
	return r
}

func TestAdminHandler_Departments(t *testing.T) {
	t.Run("RoleGate", func(t *testing.T) {
		rec := do(t, withPrincipal(itAdmin, newAdminRouter(&stubDirectory{})), http.MethodGet, "/admin/departments", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("CreateSynced", func(t *testing.T) {
		rec := do(t, withPrincipal(sysAdmin, newAdminRouter(&stubDirectory{})), http.MethodPost, "/admin/departments", map[string]string{"name": "Security"})
		require.Equal(t, http.StatusCreated, rec.Code)
		var out admin.Outcome[models.Department]
		decode(t, rec, &out)
		assert.True(t, out.Synced)
		assert.Equal(t, "dept-9", out.Record.ID)
	})

	t.Run("CreateRejectedKeepsLocal", func(t *testing.T) {
		dir := &stubDirectory{writeErr: errors.New("backend returned 500")}
		rec := do(t, withPrincipal(sysAdmin, newAdminRouter(dir)), http.MethodPost, "/admin/departments", map[string]string{"name": "Security"})
		require.Equal(t, http.StatusOK, rec.Code)
		var out admin.Outcome[models.Department]
		decode(t, rec, &out)
		assert.False(t, out.Synced)
		assert.NotEmpty(t, out.Error)
		assert.True(t, admin.IsTemporary(out.Record.ID))
	})

	t.Run("BlankName", func(t *testing.T) {
		rec := do(t, withPrincipal(sysAdmin, newAdminRouter(&stubDirectory{})), http.MethodPut, "/admin/departments/7", map[string]string{"name": "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// ── Health ──────────────────────────────────────────────────────────────

func TestHealthHandler_WithoutBackingServices(t *testing.T) {
	h := handlers.NewHealthHandler(nil, nil, zap.NewNop().Sugar())

	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.HealthStatus
	decode(t, rec, &status)
	assert.Equal(t, "ready", status.Status)
	assert.Equal(t, "disabled", status.Database)
	assert.Equal(t, "memory", status.Cache)
}
