package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/events"
	"github.com/opsdesk/triage-console/internal/lookup"
	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/rbac"
	"github.com/opsdesk/triage-console/internal/session"
	"github.com/opsdesk/triage-console/internal/workflow"
)

var (
	// ErrEditorNotFound is returned for unknown editor ids, or ids that
	// belong to another session
	ErrEditorNotFound = errors.New("editor not found")
	// ErrUnknownValue is returned when a field value matches no lookup entry
	ErrUnknownValue = errors.New("value not found in lookup")
)

// EditorConfig wires an EditorService
type EditorConfig struct {
	Reports   *ReportService
	Backend   BackendFunc
	Activity  ActivityRecorder // may be nil
	Publisher events.Publisher
	Policy    workflow.SendPolicy
	Logger    *zap.SugaredLogger
}

// editorEntry is one open editor and the session that owns it
type editorEntry struct {
	sessionID string
	editor    *workflow.Editor

	mu        sync.Mutex
	principal models.Principal
}

func (e *editorEntry) setPrincipal(p models.Principal) {
	e.mu.Lock()
	e.principal = p
	e.mu.Unlock()
}

func (e *editorEntry) currentPrincipal() models.Principal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.principal
}

// EditorService keeps the open report editors of every session
type EditorService struct {
	cfg EditorConfig

	mu      sync.Mutex
	editors map[string]*editorEntry
}

// NewEditorService creates an editor registry
func NewEditorService(cfg EditorConfig) *EditorService {
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	return &EditorService{cfg: cfg, editors: make(map[string]*editorEntry)}
}

// Open loads a report and opens an editor on it for the session
func (s *EditorService) Open(ctx context.Context, sess *session.Session, reportID string) (string, workflow.View, error) {
	report, err := s.cfg.Reports.Detail(ctx, sess, reportID)
	if err != nil {
		return "", workflow.View{}, err
	}
	if !rbac.ForReport(sess.Principal, report).View {
		return "", workflow.View{}, ErrForbidden
	}

	entry := &editorEntry{sessionID: sess.ID, principal: sess.Principal}
	gw := &trackedGateway{
		inner:     s.cfg.Backend(sess.BackendToken),
		svc:       s,
		principal: entry.currentPrincipal,
	}

	var ed *workflow.Editor
	ed = workflow.New(report, gw, entry.currentPrincipal, workflow.Options{
		Policy: s.cfg.Policy,
		OnApplied: func(r models.Report) {
			s.cfg.Reports.Patch(entry.sessionID, r)
			eventType := events.ReportSaved
			if ed.State() == workflow.StateSent {
				eventType = events.ReportSent
			}
			s.publish(eventType, r, entry.currentPrincipal())
		},
	})
	entry.editor = ed

	id := uuid.NewString()
	s.mu.Lock()
	s.editors[id] = entry
	s.mu.Unlock()
	openEditors.Inc()

	s.cfg.Logger.Infow("Editor opened",
		"editor", id,
		"report", reportID,
		"session", sess.ID,
	)
	return id, ed.View(), nil
}

// View returns the current view of an editor
func (s *EditorService) View(sess *session.Session, editorID string) (workflow.View, error) {
	ed, err := s.get(sess, editorID)
	if err != nil {
		return workflow.View{}, err
	}
	return ed.View(), nil
}

// Options returns the selectable entries of a classification field,
// including the report's current value when the lookup no longer lists it
func (s *EditorService) Options(ctx context.Context, sess *session.Session, editorID string, field rbac.Field) ([]lookup.Entry, error) {
	ed, err := s.get(sess, editorID)
	if err != nil {
		return nil, err
	}
	kind, err := fieldKind(field)
	if err != nil {
		return nil, err
	}

	r := ed.View().Report
	table := s.cfg.Reports.Lookup(ctx, sess, kind)
	switch field {
	case rbac.FieldStatus:
		return table.Options(r.StatusID, r.StatusName), nil
	case rbac.FieldDepartment:
		return table.Options(r.DepartmentID, r.DepartmentName), nil
	default:
		return table.Options(r.SeverityID, r.SeverityName), nil
	}
}

// SetField changes a classification field. value is a lookup id or name.
func (s *EditorService) SetField(ctx context.Context, sess *session.Session, editorID string, field rbac.Field, value string) (workflow.View, error) {
	ed, err := s.get(sess, editorID)
	if err != nil {
		return workflow.View{}, err
	}
	kind, err := fieldKind(field)
	if err != nil {
		return workflow.View{}, err
	}

	entry, ok := s.cfg.Reports.Lookup(ctx, sess, kind).Find(value)
	if !ok {
		return ed.View(), fmt.Errorf("%s %q: %w", field, value, ErrUnknownValue)
	}
	if err := ed.SetField(field, entry); err != nil {
		return ed.View(), err
	}
	return ed.View(), nil
}

// SetComment replaces the comment draft
func (s *EditorService) SetComment(sess *session.Session, editorID, text string) (workflow.View, error) {
	ed, err := s.get(sess, editorID)
	if err != nil {
		return workflow.View{}, err
	}
	if err := ed.SetCommentDraft(text); err != nil {
		return ed.View(), err
	}
	return ed.View(), nil
}

// Save persists pending edits
func (s *EditorService) Save(ctx context.Context, sess *session.Session, editorID string) (workflow.View, error) {
	ed, err := s.get(sess, editorID)
	if err != nil {
		return workflow.View{}, err
	}
	err = ed.Save(ctx, false)
	return ed.View(), err
}

// Send forwards the report, saving pending edits first per the send policy
func (s *EditorService) Send(ctx context.Context, sess *session.Session, editorID string) (workflow.View, error) {
	ed, err := s.get(sess, editorID)
	if err != nil {
		return workflow.View{}, err
	}
	err = ed.Send(ctx)
	view := ed.View()
	if ed.Closed() {
		s.drop(editorID)
	}
	return view, err
}

// Close discards an editor
func (s *EditorService) Close(sess *session.Session, editorID string) error {
	ed, err := s.get(sess, editorID)
	if err != nil {
		return err
	}
	ed.Close()
	s.drop(editorID)
	return nil
}

// drop removes a finished editor from the registry
func (s *EditorService) drop(editorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.editors[editorID]; !ok {
		return
	}
	delete(s.editors, editorID)
	openEditors.Dec()
}

// CloseSession discards every editor of a session
func (s *EditorService) CloseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.editors {
		if entry.sessionID == sessionID {
			entry.editor.Close()
			delete(s.editors, id)
			openEditors.Dec()
		}
	}
}

// get returns the editor if it belongs to sess, refreshing the principal the
// editor evaluates its policy against
func (s *EditorService) get(sess *session.Session, editorID string) (*workflow.Editor, error) {
	s.mu.Lock()
	entry, ok := s.editors[editorID]
	s.mu.Unlock()
	if !ok || entry.sessionID != sess.ID {
		return nil, ErrEditorNotFound
	}
	entry.setPrincipal(sess.Principal)
	return entry.editor, nil
}

func (s *EditorService) publish(eventType string, r models.Report, p models.Principal) {
	ctx := context.Background()
	if err := s.cfg.Publisher.Publish(ctx, events.New(eventType, r, p)); err != nil {
		s.cfg.Logger.Warnw("Failed to publish event", "type", eventType, "report", r.ID, "error", err)
	}
}

func (s *EditorService) record(ctx context.Context, p models.Principal, reportID, action, detail string) {
	if s.cfg.Activity == nil {
		return
	}
	err := s.cfg.Activity.Log(ctx, &models.ActivityLogEntry{
		ReportID:  reportID,
		ActorID:   p.ID,
		ActorRole: p.Role,
		Action:    action,
		Detail:    detail,
	})
	if err != nil {
		s.cfg.Logger.Warnw("Failed to record activity", "action", action, "report", reportID, "error", err)
	}
}

// trackedGateway counts, logs and audits every backend save and send
type trackedGateway struct {
	inner     workflow.Gateway
	svc       *EditorService
	principal func() models.Principal
}

func (g *trackedGateway) SaveReport(ctx context.Context, id string, req models.SaveRequest) error {
	err := g.inner.SaveReport(ctx, id, req)
	observeAction("save", err)
	if err != nil {
		g.svc.cfg.Logger.Errorw("Report save failed", "report", id, "error", err)
		return err
	}
	detail := fmt.Sprintf("status=%s department=%s severity=%s", req.Status, req.Department, req.Severity)
	if req.Comment != "" {
		detail += " +comment"
	}
	g.svc.record(ctx, g.principal(), id, "report.save", detail)
	return nil
}

func (g *trackedGateway) SendReport(ctx context.Context, id string) error {
	err := g.inner.SendReport(ctx, id)
	observeAction("send", err)
	if err != nil {
		g.svc.cfg.Logger.Errorw("Report send failed", "report", id, "error", err)
		return err
	}
	g.svc.record(ctx, g.principal(), id, "report.send", "")
	return nil
}

func fieldKind(f rbac.Field) (lookup.Kind, error) {
	switch f {
	case rbac.FieldStatus:
		return lookup.KindStatus, nil
	case rbac.FieldDepartment:
		return lookup.KindDepartment, nil
	case rbac.FieldSeverity:
		return lookup.KindSeverity, nil
	}
	return "", fmt.Errorf("field %q: %w", f, ErrUnknownValue)
}
