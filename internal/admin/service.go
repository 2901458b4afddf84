package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/normalize"
	"github.com/opsdesk/triage-console/internal/session"
)

// ErrForbidden is returned when a non System Admin touches the directories
var ErrForbidden = errors.New("directory management requires System Admin")

// Directory is the backend surface for directory CRUD
type Directory interface {
	List(ctx context.Context, resource string) (interface{}, error)
	Create(ctx context.Context, resource string, body interface{}) (interface{}, error)
	Update(ctx context.Context, resource, id string, body interface{}) (interface{}, error)
	Delete(ctx context.Context, resource, id string) error
}

// DirectoryFunc returns a Directory authenticated with a backend token
type DirectoryFunc func(backendToken string) Directory

// AuditLog records directory actions
type AuditLog interface {
	Log(ctx context.Context, entry *models.ActivityLogEntry) error
}

// Outcome is the result of an optimistic write. Record is what the admin now
// sees locally; Error carries the backend failure when the write was not
// confirmed.
type Outcome[T Record] struct {
	Record T      `json:"record"`
	Synced bool   `json:"synced"`
	Error  string `json:"error,omitempty"`
}

type workspace struct {
	users       *Collection[models.User]
	departments *Collection[models.Department]
	locations   *Collection[models.Location]
}

func newWorkspace() *workspace {
	return &workspace{
		users: NewCollection(func(u models.User, id string) models.User {
			u.ID = id
			return u
		}),
		departments: NewCollection(func(d models.Department, id string) models.Department {
			d.ID = id
			return d
		}),
		locations: NewCollection(func(l models.Location, id string) models.Location {
			l.ID = id
			return l
		}),
	}
}

// kind describes one directory
type kind[T Record] struct {
	resource   string
	envelope   []string
	decode     func(map[string]interface{}) T
	collection func(*workspace) *Collection[T]
}

var (
	userKind = kind[models.User]{
		resource:   "users",
		envelope:   []string{"user", "User"},
		decode:     decodeUser,
		collection: func(w *workspace) *Collection[models.User] { return w.users },
	}
	departmentKind = kind[models.Department]{
		resource:   "departments",
		envelope:   []string{"department", "Department"},
		decode:     decodeDepartment,
		collection: func(w *workspace) *Collection[models.Department] { return w.departments },
	}
	locationKind = kind[models.Location]{
		resource:   "locations",
		envelope:   []string{"location", "Location"},
		decode:     decodeLocation,
		collection: func(w *workspace) *Collection[models.Location] { return w.locations },
	}
)

// Service runs directory management for System Admin sessions. Each session
// gets its own workspace so optimistic state never leaks between admins.
type Service struct {
	dir      DirectoryFunc
	validate *Validator
	audit    AuditLog
	logger   *zap.SugaredLogger

	mu         sync.Mutex
	workspaces map[string]*workspace
}

// NewService creates a directory service. audit may be nil.
func NewService(dir DirectoryFunc, audit AuditLog, logger *zap.SugaredLogger) *Service {
	return &Service{
		dir:        dir,
		validate:   NewValidator(),
		audit:      audit,
		logger:     logger,
		workspaces: make(map[string]*workspace),
	}
}

// Forget drops the workspace of a closed session
func (s *Service) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.workspaces, sessionID)
	s.mu.Unlock()
}

func (s *Service) workspace(sessionID string) *workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[sessionID]
	if !ok {
		ws = newWorkspace()
		s.workspaces[sessionID] = ws
	}
	return ws
}

// ListUsers returns the user directory; reload forces a backend fetch
func (s *Service) ListUsers(ctx context.Context, sess *session.Session, reload bool) ([]models.User, error) {
	return list(ctx, s, sess, userKind, reload)
}

// RegisterUser creates a user account
func (s *Service) RegisterUser(ctx context.Context, sess *session.Session, reg models.UserRegistration) (Outcome[models.User], error) {
	reg.User.ID = ""
	return write(ctx, s, sess, userKind, OpCreate, reg.User, reg)
}

// UpdateUser replaces a user record
func (s *Service) UpdateUser(ctx context.Context, sess *session.Session, u models.User) (Outcome[models.User], error) {
	return write(ctx, s, sess, userKind, OpUpdate, u, u)
}

// DeleteUser removes a user account
func (s *Service) DeleteUser(ctx context.Context, sess *session.Session, id string) (Outcome[models.User], error) {
	return write(ctx, s, sess, userKind, OpDelete, models.User{ID: id}, nil)
}

// ListDepartments returns the department directory
func (s *Service) ListDepartments(ctx context.Context, sess *session.Session, reload bool) ([]models.Department, error) {
	return list(ctx, s, sess, departmentKind, reload)
}

// CreateDepartment adds a department
func (s *Service) CreateDepartment(ctx context.Context, sess *session.Session, d models.Department) (Outcome[models.Department], error) {
	d.ID = ""
	return write(ctx, s, sess, departmentKind, OpCreate, d, d)
}

// UpdateDepartment replaces a department
func (s *Service) UpdateDepartment(ctx context.Context, sess *session.Session, d models.Department) (Outcome[models.Department], error) {
	return write(ctx, s, sess, departmentKind, OpUpdate, d, d)
}

// DeleteDepartment removes a department
func (s *Service) DeleteDepartment(ctx context.Context, sess *session.Session, id string) (Outcome[models.Department], error) {
	return write(ctx, s, sess, departmentKind, OpDelete, models.Department{ID: id}, nil)
}

// ListLocations returns the location directory
func (s *Service) ListLocations(ctx context.Context, sess *session.Session, reload bool) ([]models.Location, error) {
	return list(ctx, s, sess, locationKind, reload)
}

// CreateLocation adds a location
func (s *Service) CreateLocation(ctx context.Context, sess *session.Session, l models.Location) (Outcome[models.Location], error) {
	l.ID = ""
	return write(ctx, s, sess, locationKind, OpCreate, l, l)
}

// UpdateLocation replaces a location
func (s *Service) UpdateLocation(ctx context.Context, sess *session.Session, l models.Location) (Outcome[models.Location], error) {
	return write(ctx, s, sess, locationKind, OpUpdate, l, l)
}

// DeleteLocation removes a location
func (s *Service) DeleteLocation(ctx context.Context, sess *session.Session, id string) (Outcome[models.Location], error) {
	return write(ctx, s, sess, locationKind, OpDelete, models.Location{ID: id}, nil)
}

func authorize(sess *session.Session) error {
	if sess == nil || sess.Principal.Role != models.RoleSystemAdmin {
		return ErrForbidden
	}
	return nil
}

func list[T Record](ctx context.Context, s *Service, sess *session.Session, k kind[T], reload bool) ([]T, error) {
	if err := authorize(sess); err != nil {
		return nil, err
	}
	col := k.collection(s.workspace(sess.ID))
	if col.Loaded() && !reload {
		return col.Items(), nil
	}

	payload, err := s.dir(sess.BackendToken).List(ctx, k.resource)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", k.resource, err)
	}

	records := normalize.Records(payload)
	items := make([]T, 0, len(records))
	for _, rec := range records {
		items = append(items, k.decode(rec))
	}
	col.Replace(items)
	return col.Items(), nil
}

func write[T Record](ctx context.Context, s *Service, sess *session.Session, k kind[T], op Op, rec T, body interface{}) (Outcome[T], error) {
	var out Outcome[T]
	if err := authorize(sess); err != nil {
		return out, err
	}
	if op != OpCreate && strings.TrimSpace(rec.Key()) == "" {
		return out, fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if op != OpDelete {
		if err := s.validate.Validate(body); err != nil {
			return out, err
		}
	}

	col := k.collection(s.workspace(sess.ID))
	if !col.Loaded() {
		if _, err := list(ctx, s, sess, k, true); err != nil {
			s.logger.Warnw("Directory preload failed", "resource", k.resource, "error", err)
		}
	}

	applied := col.ApplyOptimistic(Change[T]{Op: op, Record: rec})

	dir := s.dir(sess.BackendToken)
	var (
		payload interface{}
		err     error
	)
	switch op {
	case OpCreate:
		payload, err = dir.Create(ctx, k.resource, body)
	case OpUpdate:
		payload, err = dir.Update(ctx, k.resource, rec.Key(), body)
	case OpDelete:
		err = dir.Delete(ctx, k.resource, rec.Key())
	}

	var server *T
	if err == nil {
		if r := k.unwrap(payload); len(r) > 0 {
			decoded := k.decode(r)
			server = &decoded
		}
	}

	final, err := col.Reconcile(applied, server, err)
	out.Record = final
	out.Synced = err == nil
	if err != nil {
		out.Error = err.Error()
		s.logger.Errorw("Directory write failed, keeping local change",
			"resource", k.resource,
			"op", op.String(),
			"key", applied.Record.Key(),
			"error", err,
		)
	}

	s.record(ctx, sess, k.resource+"."+op.String(), final.Key(), out.Synced)
	return out, nil
}

func (s *Service) record(ctx context.Context, sess *session.Session, action, key string, synced bool) {
	if s.audit == nil {
		return
	}
	detail := key
	if !synced {
		detail += " (not confirmed by backend)"
	}
	err := s.audit.Log(ctx, &models.ActivityLogEntry{
		ActorID:   sess.Principal.ID,
		ActorRole: sess.Principal.Role,
		Action:    action,
		Detail:    detail,
	})
	if err != nil {
		s.logger.Warnw("Failed to record directory activity", "action", action, "error", err)
	}
}

// unwrap extracts the single record of a write response
func (k kind[T]) unwrap(payload interface{}) map[string]interface{} {
	rec := normalize.Record(payload)
	for _, key := range k.envelope {
		if inner, ok := rec[key].(map[string]interface{}); ok {
			return inner
		}
	}
	return rec
}

func decodeUser(rec map[string]interface{}) models.User {
	p := normalize.Principal(rec)
	return models.User{
		ID:         p.ID,
		Name:       p.Name,
		Email:      p.Email,
		Role:       p.Role,
		Department: p.Department,
	}
}

func decodeDepartment(rec map[string]interface{}) models.Department {
	return models.Department{
		ID:          normalize.String(rec, "", "id", "Id", "ID", "departmentId", "DepartmentId", "DepartmentID"),
		Name:        normalize.String(rec, "", "name", "Name", "departmentName", "DepartmentName"),
		Description: normalize.String(rec, "", "description", "Description"),
	}
}

func decodeLocation(rec map[string]interface{}) models.Location {
	return models.Location{
		ID:      normalize.String(rec, "", "id", "Id", "ID", "locationId", "LocationId", "LocationID"),
		Name:    normalize.String(rec, "", "name", "Name", "locationName", "LocationName"),
		Address: normalize.String(rec, "", "address", "Address"),
	}
}
