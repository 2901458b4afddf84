package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/triage-console/internal/lookup"
	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/rbac"
	"github.com/opsdesk/triage-console/internal/workflow"
)

// ── Stub gateway ─────────────────────────────────────────────────────────

type stubGateway struct {
	mu       sync.Mutex
	saveErr  error
	sendErr  error
	saves    []models.SaveRequest
	sends    int
	calls    []string
	saveGate chan struct{}
}

func (g *stubGateway) SaveReport(_ context.Context, _ string, req models.SaveRequest) error {
	if g.saveGate != nil {
		<-g.saveGate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "save")
	g.saves = append(g.saves, req)
	return g.saveErr
}

func (g *stubGateway) SendReport(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "send")
	g.sends++
	return g.sendErr
}

var (
	sysAdmin  = models.Principal{ID: "u-1", Name: "Sys", Role: models.RoleSystemAdmin}
	deptAdmin = models.Principal{ID: "u-2", Name: "Dee", Role: models.RoleDepartmentAdmin, Department: "Facility Maintenance"}
)

func sampleReport() models.Report {
	return models.Report{
		ID:             "r-1",
		Title:          "Leaking pipe",
		DepartmentID:   "d-fm",
		DepartmentName: "Facility Maintenance",
		SeverityID:     "s-low",
		SeverityName:   "Low",
		StatusID:       "st-open",
		StatusName:     "Open",
		SyncStatus:     models.SyncPending,
		Comments: []models.Comment{
			{Author: "Ana", Timestamp: "2026-10-01T00:00:00Z", Text: "first"},
		},
	}
}

func newEditor(gw workflow.Gateway, p models.Principal, opts workflow.Options) *workflow.Editor {
	return workflow.New(sampleReport(), gw, func() models.Principal { return p }, opts)
}

func TestEditor_StartsClean(t *testing.T) {
	e := newEditor(&stubGateway{}, sysAdmin, workflow.Options{})

	v := e.View()
	assert.Equal(t, workflow.StateClean, v.State)
	assert.False(t, v.CanSave)
	assert.True(t, v.CanSend)
}

func TestEditor_EditsMakeDirty(t *testing.T) {
	e := newEditor(&stubGateway{}, sysAdmin, workflow.Options{})

	require.NoError(t, e.SetField(rbac.FieldStatus, lookup.Entry{ID: "st-open", Name: "Open"}))
	assert.Equal(t, workflow.StateClean, e.State(), "same value is not a change")

	require.NoError(t, e.SetCommentDraft("   "))
	assert.Equal(t, workflow.StateClean, e.State(), "blank draft is not a change")

	require.NoError(t, e.SetField(rbac.FieldSeverity, lookup.Entry{ID: "s-high", Name: "High"}))
	assert.Equal(t, workflow.StateDirty, e.State())
	assert.True(t, e.View().CanSave)
}

func TestEditor_SaveClearsConfirmationOnNextEdit(t *testing.T) {
	e := newEditor(&stubGateway{}, sysAdmin, workflow.Options{})

	require.NoError(t, e.SetField(rbac.FieldStatus, lookup.Entry{ID: "st-prog", Name: "In Progress"}))
	require.NoError(t, e.Save(context.Background(), false))
	assert.Equal(t, "Changes saved", e.View().Notice)

	require.NoError(t, e.SetCommentDraft("more"))
	assert.Empty(t, e.View().Notice)
}

func TestEditor_SaveOnCleanIsNoOpUnlessForced(t *testing.T) {
	gw := &stubGateway{}
	e := newEditor(gw, sysAdmin, workflow.Options{})

	require.NoError(t, e.Save(context.Background(), false))
	assert.Empty(t, gw.saves)

	require.NoError(t, e.Save(context.Background(), true))
	require.Len(t, gw.saves, 1)
	assert.Equal(t, models.SaveRequest{Department: "d-fm", Severity: "s-low", Status: "st-open"}, gw.saves[0])
}

func TestEditor_SaveAppendsComment(t *testing.T) {
	var applied []models.Report
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	gw := &stubGateway{}
	e := newEditor(gw, sysAdmin, workflow.Options{
		OnApplied: func(r models.Report) { applied = append(applied, r) },
		Now:       func() time.Time { return now },
	})

	before := len(e.View().Report.Comments)
	require.NoError(t, e.SetCommentDraft("  needs a plumber  "))
	require.NoError(t, e.Save(context.Background(), false))

	v := e.View()
	require.Len(t, v.Report.Comments, before+1)
	last := v.Report.Comments[len(v.Report.Comments)-1]
	assert.Equal(t, "needs a plumber", last.Text)
	assert.Equal(t, "Sys", last.Author)
	assert.Equal(t, "2026-10-18T09:00:00Z", last.Timestamp)
	assert.Empty(t, v.Draft)
	assert.Equal(t, workflow.StateClean, v.State)

	require.Len(t, gw.saves, 1)
	assert.Equal(t, "needs a plumber", gw.saves[0].Comment)
	require.Len(t, applied, 1)
	assert.Len(t, applied[0].Comments, before+1)
}

func TestEditor_SaveFailureStaysDirty(t *testing.T) {
	gw := &stubGateway{saveErr: errors.New("backend error 500")}
	var applied int
	e := newEditor(gw, sysAdmin, workflow.Options{OnApplied: func(models.Report) { applied++ }})

	require.NoError(t, e.SetField(rbac.FieldStatus, lookup.Entry{ID: "st-res", Name: "Resolved"}))
	require.NoError(t, e.SetCommentDraft("done"))

	err := e.Save(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, gw.saveErr)

	v := e.View()
	assert.Equal(t, workflow.StateDirty, v.State)
	assert.Contains(t, v.Error, "Failed to save report")
	assert.Equal(t, models.SyncPending, v.Report.SyncStatus)
	assert.Len(t, v.Report.Comments, 1)
	assert.Equal(t, "done", v.Draft)
	assert.Zero(t, applied)
}

func TestEditor_SendFromClean(t *testing.T) {
	gw := &stubGateway{}
	var applied []models.Report
	e := newEditor(gw, sysAdmin, workflow.Options{OnApplied: func(r models.Report) { applied = append(applied, r) }})

	require.NoError(t, e.Send(context.Background()))

	assert.Equal(t, []string{"send"}, gw.calls)
	v := e.View()
	assert.Equal(t, workflow.StateSent, v.State)
	assert.True(t, v.Closed)
	assert.Equal(t, models.SyncSent, v.Report.SyncStatus)
	require.Len(t, applied, 1)
	assert.True(t, applied[0].IsSent())

	assert.ErrorIs(t, e.Send(context.Background()), workflow.ErrClosed)
}

func TestEditor_SendFromDirtySavesFirst(t *testing.T) {
	gw := &stubGateway{}
	e := newEditor(gw, sysAdmin, workflow.Options{})

	require.NoError(t, e.SetField(rbac.FieldDepartment, lookup.Entry{ID: "d-it", Name: "IT Support"}))
	require.NoError(t, e.Send(context.Background()))

	assert.Equal(t, []string{"save", "send"}, gw.calls)
	assert.Equal(t, "d-it", gw.saves[0].Department)
	assert.Equal(t, workflow.StateSent, e.State())
}

func TestEditor_SendAbortsWhenAutoSaveFails(t *testing.T) {
	gw := &stubGateway{saveErr: errors.New("boom")}
	e := newEditor(gw, sysAdmin, workflow.Options{})

	require.NoError(t, e.SetField(rbac.FieldSeverity, lookup.Entry{ID: "s-high", Name: "High"}))
	require.Error(t, e.Send(context.Background()))

	assert.Equal(t, []string{"save"}, gw.calls)
	v := e.View()
	assert.Equal(t, workflow.StateDirty, v.State)
	assert.Equal(t, models.SyncPending, v.Report.SyncStatus)
	assert.False(t, v.Closed)
}

func TestEditor_SendFailureAfterSave(t *testing.T) {
	gw := &stubGateway{sendErr: errors.New("downstream unavailable")}
	e := newEditor(gw, sysAdmin, workflow.Options{})

	require.NoError(t, e.SetCommentDraft("forwarding"))
	require.Error(t, e.Send(context.Background()))

	v := e.View()
	assert.Equal(t, workflow.StateClean, v.State)
	assert.Contains(t, v.Error, "Failed to send report")
	assert.Equal(t, models.SyncPending, v.Report.SyncStatus)
	assert.Len(t, v.Report.Comments, 2)
	assert.False(t, v.Closed)
}

func TestEditor_RequireCleanPolicy(t *testing.T) {
	gw := &stubGateway{}
	e := newEditor(gw, sysAdmin, workflow.Options{Policy: workflow.SendRequireClean})

	require.NoError(t, e.SetField(rbac.FieldStatus, lookup.Entry{ID: "st-res", Name: "Resolved"}))
	v := e.View()
	assert.False(t, v.CanSend)
	assert.Equal(t, "Save your changes before sending", v.Hint)

	assert.ErrorIs(t, e.Send(context.Background()), workflow.ErrSaveBeforeSend)
	assert.Empty(t, gw.calls)

	require.NoError(t, e.Save(context.Background(), false))
	require.NoError(t, e.Send(context.Background()))
	assert.Equal(t, []string{"save", "send"}, gw.calls)
}

func TestEditor_DepartmentAdminGuards(t *testing.T) {
	gw := &stubGateway{}
	e := newEditor(gw, deptAdmin, workflow.Options{})

	v := e.View()
	assert.True(t, v.Capabilities.EditStatus)
	assert.False(t, v.Capabilities.EditDepartment)
	assert.Equal(t, "Facility Maintenance", v.Capabilities.FixedDepartment)
	assert.False(t, v.CanSend)

	assert.ErrorIs(t, e.SetField(rbac.FieldDepartment, lookup.Entry{ID: "d-it", Name: "IT Support"}), workflow.ErrForbidden)
	assert.ErrorIs(t, e.SetField(rbac.FieldSeverity, lookup.Entry{ID: "s-high", Name: "High"}), workflow.ErrForbidden)
	require.NoError(t, e.SetField(rbac.FieldStatus, lookup.Entry{ID: "st-prog", Name: "In Progress"}))

	assert.ErrorIs(t, e.Send(context.Background()), workflow.ErrForbidden)
	assert.Empty(t, gw.calls)

	require.NoError(t, e.Save(context.Background(), false))
	assert.Equal(t, "d-fm", gw.saves[0].Department)
}

func TestEditor_RoleDowngradeBlocksPendingSave(t *testing.T) {
	gw := &stubGateway{}
	current := sysAdmin
	e := workflow.New(sampleReport(), gw, func() models.Principal { return current }, workflow.Options{})

	require.NoError(t, e.SetField(rbac.FieldSeverity, lookup.Entry{ID: "s-high", Name: "High"}))
	current = deptAdmin

	assert.ErrorIs(t, e.Save(context.Background(), false), workflow.ErrForbidden)
	assert.Empty(t, gw.saves)
}

func TestEditor_BusyWhileSaving(t *testing.T) {
	gw := &stubGateway{saveGate: make(chan struct{})}
	e := newEditor(gw, sysAdmin, workflow.Options{})
	require.NoError(t, e.SetCommentDraft("hello"))

	done := make(chan error, 1)
	go func() { done <- e.Save(context.Background(), false) }()

	require.Eventually(t, func() bool { return e.State() == workflow.StateSaving }, time.Second, time.Millisecond)

	assert.ErrorIs(t, e.Save(context.Background(), true), workflow.ErrBusy)
	assert.ErrorIs(t, e.Send(context.Background()), workflow.ErrBusy)
	assert.ErrorIs(t, e.SetCommentDraft("again"), workflow.ErrBusy)
	assert.False(t, e.View().CanSave)

	close(gw.saveGate)
	require.NoError(t, <-done)
	assert.Equal(t, workflow.StateClean, e.State())
	assert.Len(t, gw.saves, 1)
}

func TestParseSendPolicy(t *testing.T) {
	assert.Equal(t, workflow.SendRequireClean, workflow.ParseSendPolicy("REQUIRE_CLEAN"))
	assert.Equal(t, workflow.SendAutoSave, workflow.ParseSendPolicy(""))
}
