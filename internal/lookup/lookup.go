// Package lookup provides the small {id, name} enumerations used to populate
// selectors and to resolve display names from ids.
package lookup

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/normalize"
)

// Kind names an enumeration
type Kind string

const (
	KindStatus     Kind = "status"
	KindSeverity   Kind = "severity"
	KindDepartment Kind = "department"
	KindLocation   Kind = "location"
)

// Kinds lists every enumeration the console knows about
var Kinds = []Kind{KindStatus, KindSeverity, KindDepartment, KindLocation}

// ParseKind validates a kind taken from a URL
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "status", "statuses":
		return KindStatus, nil
	case "severity", "severities":
		return KindSeverity, nil
	case "department", "departments":
		return KindDepartment, nil
	case "location", "locations":
		return KindLocation, nil
	}
	return "", fmt.Errorf("unknown lookup kind %q", s)
}

// Entry is one {id, name} option
type Entry = normalize.Entry

// Defaults are served when the backend enumeration is unavailable or empty
var Defaults = map[Kind][]Entry{
	KindStatus: {
		{ID: "Open", Name: "Open"},
		{ID: "In Progress", Name: "In Progress"},
		{ID: "Resolved", Name: "Resolved"},
		{ID: "Closed", Name: "Closed"},
	},
	KindSeverity: {
		{ID: "Low", Name: "Low"},
		{ID: "Medium", Name: "Medium"},
		{ID: "High", Name: "High"},
		{ID: "Critical", Name: "Critical"},
	},
	KindDepartment: {
		{ID: "IT Support", Name: "IT Support"},
		{ID: "Facility Maintenance", Name: "Facility Maintenance"},
		{ID: "Human Resources", Name: "Human Resources"},
		{ID: "Security", Name: "Security"},
	},
	KindLocation: {},
}

// Table is a read-only enumeration indexed both ways
type Table struct {
	Kind    Kind
	Entries []Entry
	byID    map[string]string
	byName  map[string]string
}

// NewTable indexes the entries of one enumeration
func NewTable(kind Kind, entries []Entry) Table {
	t := Table{
		Kind:    kind,
		Entries: entries,
		byID:    make(map[string]string, len(entries)),
		byName:  make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		t.byID[e.ID] = e.Name
		t.byName[strings.ToLower(e.Name)] = e.ID
	}
	return t
}

// Name returns the display name for id
func (t Table) Name(id string) (string, bool) {
	name, ok := t.byID[id]
	return name, ok
}

// ID returns the id whose display name matches name, case-insensitively
func (t Table) ID(name string) (string, bool) {
	id, ok := t.byName[strings.ToLower(name)]
	return id, ok
}

// Resolve returns the display name for id, falling back to the name stored on
// the record when the id is stale or unknown.
func (t Table) Resolve(id, storedName string) string {
	if name, ok := t.Name(id); ok {
		return name
	}
	return storedName
}

// Find resolves a selector value that may be either an id or a display name
func (t Table) Find(value string) (Entry, bool) {
	if name, ok := t.Name(value); ok {
		return Entry{ID: value, Name: name}, true
	}
	if id, ok := t.ID(value); ok {
		return Entry{ID: id, Name: t.byID[id]}, true
	}
	return Entry{}, false
}

// Options returns the selector options for a record whose current value is
// (currentID, currentName). When the current id is not in the table, the
// stored name is prepended as a synthesized option so the selector never
// shows a blank value.
func (t Table) Options(currentID, currentName string) []Entry {
	opts := make([]Entry, 0, len(t.Entries)+1)
	if _, known := t.Name(currentID); !known && currentName != "" {
		if _, byName := t.ID(currentName); !byName {
			id := currentID
			if id == "" {
				id = currentName
			}
			opts = append(opts, Entry{ID: id, Name: currentName})
		}
	}
	return append(opts, t.Entries...)
}

// Set bundles the enumerations a report view needs
type Set struct {
	Status     Table
	Severity   Table
	Department Table
	Location   Table
}

// Table returns the enumeration of the given kind
func (s Set) Table(kind Kind) Table {
	switch kind {
	case KindStatus:
		return s.Status
	case KindSeverity:
		return s.Severity
	case KindDepartment:
		return s.Department
	}
	return s.Location
}

// ApplyTo re-resolves the display names of a report from its ids, filling in
// ids from names when the backend only sent names.
func (s Set) ApplyTo(r *models.Report) {
	r.DepartmentID, r.DepartmentName = resolvePair(s.Department, r.DepartmentID, r.DepartmentName)
	r.SeverityID, r.SeverityName = resolvePair(s.Severity, r.SeverityID, r.SeverityName)
	r.StatusID, r.StatusName = resolvePair(s.Status, r.StatusID, r.StatusName)
}

func resolvePair(t Table, id, name string) (string, string) {
	if id == "" {
		if found, ok := t.ID(name); ok {
			return found, t.Resolve(found, name)
		}
		return id, name
	}
	return id, t.Resolve(id, name)
}

// Source fetches a raw enumeration payload from the backend
type Source interface {
	Dropdown(ctx context.Context, kind string) (interface{}, error)
}

// Provider fetches enumerations on every call; there is no shared cache.
type Provider struct {
	src    Source
	logger *zap.SugaredLogger
}

// NewProvider creates a lookup provider
func NewProvider(src Source, logger *zap.SugaredLogger) *Provider {
	return &Provider{src: src, logger: logger}
}

// Fetch returns the enumeration of the given kind. Backend failures and
// empty lists degrade to Defaults.
func (p *Provider) Fetch(ctx context.Context, kind Kind) Table {
	payload, err := p.src.Dropdown(ctx, string(kind))
	if err != nil {
		p.logger.Warnw("Lookup unavailable, using defaults", "kind", kind, "error", err)
		return NewTable(kind, Defaults[kind])
	}

	entries := normalize.Lookup(payload)
	if len(entries) == 0 {
		p.logger.Debugw("Lookup empty, using defaults", "kind", kind)
		return NewTable(kind, Defaults[kind])
	}
	return NewTable(kind, entries)
}

// FetchSet fetches all four enumerations
func (p *Provider) FetchSet(ctx context.Context) Set {
	return Set{
		Status:     p.Fetch(ctx, KindStatus),
		Severity:   p.Fetch(ctx, KindSeverity),
		Department: p.Fetch(ctx, KindDepartment),
		Location:   p.Fetch(ctx, KindLocation),
	}
}
