// Package workflow implements the save/send state machine of one open report
// editor.
//
//	Clean ──edit──▶ Dirty ──Save──▶ Saving ──ok──▶ Clean ──Send──▶ Sending ──ok──▶ Sent
//	                  ▲                │fail                          │fail
//	                  └────────────────┘               Clean ◀────────┘
//
// A send from Dirty saves first (or is refused, depending on SendPolicy).
// The report's sync status only becomes Sent after the backend accepted the
// send request.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opsdesk/triage-console/internal/lookup"
	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/rbac"
)

// State of an editor
type State int

const (
	StateClean State = iota
	StateDirty
	StateSaving
	StateSending
	StateSent
)

var stateNames = [...]string{"clean", "dirty", "saving", "sending", "sent"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in JSON views
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrBusy           = errors.New("a save or send is already in progress")
	ErrClosed         = errors.New("editor is closed")
	ErrForbidden      = errors.New("action not permitted for this role")
	ErrSaveBeforeSend = errors.New("save changes before sending")
)

// SendPolicy decides what Send does with unsaved edits
type SendPolicy int

const (
	// SendAutoSave saves pending edits, then sends
	SendAutoSave SendPolicy = iota
	// SendRequireClean refuses to send while edits are pending
	SendRequireClean
)

// ParseSendPolicy reads the configured policy name
func ParseSendPolicy(s string) SendPolicy {
	if strings.EqualFold(s, "require_clean") {
		return SendRequireClean
	}
	return SendAutoSave
}

const (
	noticeSaved = "Changes saved"
	noticeSent  = "Report sent"

	hintAutoSave     = "Unsaved changes will be saved before sending"
	hintRequireClean = "Save your changes before sending"
)

// Gateway issues the backend actions of the editor
type Gateway interface {
	SaveReport(ctx context.Context, reportID string, req models.SaveRequest) error
	SendReport(ctx context.Context, reportID string) error
}

// Options tune an editor
type Options struct {
	Policy SendPolicy
	// OnApplied receives the report after every successful save or send so
	// the owning list can patch its cached copy.
	OnApplied func(models.Report)
	Now       func() time.Time
}

// Editor is one open report editor. It is safe for concurrent use; a save or
// send in flight rejects every other mutation with ErrBusy.
type Editor struct {
	mu        sync.Mutex
	reportID  string
	report    models.Report
	saved     models.Classification
	draft     string
	state     State
	inflight  bool
	closed    bool
	errMsg    string
	notice    string
	gw        Gateway
	principal func() models.Principal
	opts      Options
}

// New opens an editor on report. principal is consulted on every operation
// so that role changes take effect immediately.
func New(report models.Report, gw Gateway, principal func() models.Principal, opts Options) *Editor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Editor{
		reportID:  report.ID,
		report:    cloneReport(report),
		saved:     report.Classification(),
		state:     StateClean,
		gw:        gw,
		principal: principal,
		opts:      opts,
	}
}

// View is the render model of an editor
type View struct {
	State        State             `json:"state"`
	Report       models.Report     `json:"report"`
	Draft        string            `json:"draft"`
	Error        string            `json:"error,omitempty"`
	Notice       string            `json:"notice,omitempty"`
	Hint         string            `json:"hint,omitempty"`
	Closed       bool              `json:"closed"`
	CanSave      bool              `json:"canSave"`
	CanSend      bool              `json:"canSend"`
	Capabilities rbac.Capabilities `json:"capabilities"`
}

// View snapshots the editor
func (e *Editor) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	caps := e.caps()
	open := !e.closed && !e.inflight

	v := View{
		State:        e.state,
		Report:       cloneReport(e.report),
		Draft:        e.draft,
		Error:        e.errMsg,
		Notice:       e.notice,
		Closed:       e.closed,
		CanSave:      open && caps.Save && e.state == StateDirty,
		CanSend:      open && caps.Send && (e.state == StateClean || e.opts.Policy == SendAutoSave),
		Capabilities: caps,
	}
	if open && caps.Send && e.state == StateDirty {
		v.Hint = hintAutoSave
		if e.opts.Policy == SendRequireClean {
			v.Hint = hintRequireClean
		}
	}
	return v
}

// State returns the current state
func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetField changes one classification field to the given lookup entry
func (e *Editor) SetField(field rbac.Field, value lookup.Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ready(); err != nil {
		return err
	}
	if !e.caps().CanEdit(field) {
		return fmt.Errorf("edit %s: %w", field, ErrForbidden)
	}

	var id, name *string
	switch field {
	case rbac.FieldStatus:
		id, name = &e.report.StatusID, &e.report.StatusName
	case rbac.FieldDepartment:
		id, name = &e.report.DepartmentID, &e.report.DepartmentName
	case rbac.FieldSeverity:
		id, name = &e.report.SeverityID, &e.report.SeverityName
	default:
		return fmt.Errorf("unknown field %q", field)
	}

	if *id == value.ID && *name == value.Name {
		return nil
	}
	*id, *name = value.ID, value.Name
	e.markDirty()
	return nil
}

// SetCommentDraft replaces the comment draft. A non-blank draft makes the
// editor dirty.
func (e *Editor) SetCommentDraft(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ready(); err != nil {
		return err
	}
	if !e.caps().Comment {
		return fmt.Errorf("comment: %w", ErrForbidden)
	}

	e.draft = text
	if strings.TrimSpace(text) != "" {
		e.markDirty()
	}
	return nil
}

// Save submits the current classification and comment draft. A clean editor
// is left alone unless force is set.
func (e *Editor) Save(ctx context.Context, force bool) error {
	e.mu.Lock()
	if err := e.ready(); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.state == StateClean && !force {
		e.mu.Unlock()
		return nil
	}
	req, err := e.prepareSave()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.inflight = true
	e.mu.Unlock()

	defer e.release()

	applied, err := e.commitSave(ctx, req)
	if err != nil {
		return err
	}
	e.notify(applied)
	return nil
}

// Send forwards the report downstream. Pending edits are saved first under
// SendAutoSave; a failed save aborts the send.
func (e *Editor) Send(ctx context.Context) error {
	e.mu.Lock()
	if err := e.ready(); err != nil {
		e.mu.Unlock()
		return err
	}
	if !e.caps().Send {
		e.mu.Unlock()
		return fmt.Errorf("send: %w", ErrForbidden)
	}

	var pending *models.SaveRequest
	if e.state == StateDirty {
		if e.opts.Policy == SendRequireClean {
			e.errMsg = hintRequireClean
			e.mu.Unlock()
			return ErrSaveBeforeSend
		}
		req, err := e.prepareSave()
		if err != nil {
			e.mu.Unlock()
			return err
		}
		pending = &req
	}
	e.inflight = true
	e.mu.Unlock()

	defer e.release()

	if pending != nil {
		applied, err := e.commitSave(ctx, *pending)
		if err != nil {
			return err
		}
		e.notify(applied)
	}

	e.mu.Lock()
	e.state = StateSending
	e.mu.Unlock()

	err := e.gw.SendReport(ctx, e.reportID)

	e.mu.Lock()
	if err != nil {
		e.state = StateClean
		e.errMsg = "Failed to send report: " + err.Error()
		e.mu.Unlock()
		return fmt.Errorf("send report %s: %w", e.reportID, err)
	}
	e.report.SyncStatus = models.SyncSent
	e.state = StateSent
	e.closed = true
	e.errMsg = ""
	e.notice = noticeSent
	sent := cloneReport(e.report)
	e.mu.Unlock()

	e.notify(sent)
	return nil
}

// Close discards the editor; unsaved edits are dropped
func (e *Editor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Closed reports whether the editor has been closed or sent
func (e *Editor) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// ReportID returns the id of the report being edited
func (e *Editor) ReportID() string {
	return e.reportID
}

// prepareSave checks the guards and builds the save request. Caller holds mu.
func (e *Editor) prepareSave() (models.SaveRequest, error) {
	caps := e.caps()
	if !caps.Save {
		return models.SaveRequest{}, fmt.Errorf("save: %w", ErrForbidden)
	}

	// Fields may only differ from the saved copy if the role can still edit
	// them; the role may have changed since the edit was made.
	cur := e.report.Classification()
	if changed(cur.StatusID, cur.StatusName, e.saved.StatusID, e.saved.StatusName) && !caps.EditStatus ||
		changed(cur.DepartmentID, cur.DepartmentName, e.saved.DepartmentID, e.saved.DepartmentName) && !caps.EditDepartment ||
		changed(cur.SeverityID, cur.SeverityName, e.saved.SeverityID, e.saved.SeverityName) && !caps.EditSeverity {
		return models.SaveRequest{}, fmt.Errorf("save: %w", ErrForbidden)
	}

	comment := strings.TrimSpace(e.draft)
	if comment != "" && !caps.Comment {
		return models.SaveRequest{}, fmt.Errorf("save: %w", ErrForbidden)
	}

	e.state = StateSaving
	e.notice = ""
	return models.SaveRequest{
		Department: firstNonEmpty(cur.DepartmentID, cur.DepartmentName),
		Severity:   firstNonEmpty(cur.SeverityID, cur.SeverityName),
		Status:     firstNonEmpty(cur.StatusID, cur.StatusName),
		Comment:    comment,
	}, nil
}

// commitSave performs the backend save and applies its outcome
func (e *Editor) commitSave(ctx context.Context, req models.SaveRequest) (models.Report, error) {
	err := e.gw.SaveReport(ctx, e.reportID, req)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.state = StateDirty
		e.errMsg = "Failed to save report: " + err.Error()
		return models.Report{}, fmt.Errorf("save report %s: %w", e.reportID, err)
	}

	if req.Comment != "" {
		now := e.opts.Now().UTC()
		e.report.Comments = append(e.report.Comments, models.Comment{
			Author:    e.principal().Name,
			Timestamp: now.Format(time.RFC3339),
			Text:      req.Comment,
			At:        now,
		})
		e.draft = ""
	}
	e.saved = e.report.Classification()
	e.state = StateClean
	e.errMsg = ""
	e.notice = noticeSaved
	return cloneReport(e.report), nil
}

func (e *Editor) release() {
	e.mu.Lock()
	e.inflight = false
	e.mu.Unlock()
}

func (e *Editor) notify(r models.Report) {
	if e.opts.OnApplied != nil {
		e.opts.OnApplied(r)
	}
}

// ready rejects mutations on a closed or busy editor. Caller holds mu.
func (e *Editor) ready() error {
	if e.closed {
		return ErrClosed
	}
	if e.inflight {
		return ErrBusy
	}
	return nil
}

// markDirty records a local edit. Caller holds mu.
func (e *Editor) markDirty() {
	e.state = StateDirty
	e.notice = ""
	e.errMsg = ""
}

// caps evaluates the policy for the current principal. Caller holds mu.
func (e *Editor) caps() rbac.Capabilities {
	return rbac.ForReport(e.principal(), e.report)
}

func cloneReport(r models.Report) models.Report {
	r.Comments = append([]models.Comment(nil), r.Comments...)
	if r.Comments == nil {
		r.Comments = []models.Comment{}
	}
	return r
}

func changed(id, name, savedID, savedName string) bool {
	return id != savedID || name != savedName
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
