// Package analytics filters and groups an in-memory report list for the
// analytics view.
package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opsdesk/triage-console/internal/lookup"
	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/rbac"
)

// All disables a filter
const All = "all"

// Unspecified is the group key for reports with a blank display name
const Unspecified = "Unspecified"

// Timeframes maps the accepted timeframe values onto a window in days.
// A zero window means no time restriction.
var Timeframes = map[string]int{
	All:             0,
	"last_24_hours": 1,
	"last_7_days":   7,
	"last_30_days":  30,
	"last_90_days":  90,
	"last_365_days": 365,
}

// Filter selects a subset of reports. Each field is "all" (or empty) or a
// specific value; classification values may be ids or display names.
type Filter struct {
	Timeframe  string `json:"timeframe"`
	Department string `json:"department"`
	Status     string `json:"status"`
	Severity   string `json:"severity"`
}

// Validate rejects unknown timeframes
func (f Filter) Validate() error {
	if _, ok := Timeframes[normalized(f.Timeframe)]; !ok {
		return fmt.Errorf("unknown timeframe %q", f.Timeframe)
	}
	return nil
}

// Effective returns the filter actually applied for p: a Department Admin is
// always pinned to their own department, whatever was asked for.
func Effective(p models.Principal, f Filter) Filter {
	f.Timeframe = normalized(f.Timeframe)
	f.Department = normalized(f.Department)
	f.Status = normalized(f.Status)
	f.Severity = normalized(f.Severity)
	if p.Role == models.RoleDepartmentAdmin {
		f.Department = rbac.ScopeDepartment(p)
	}
	return f
}

// Apply returns the reports matching every active filter. Timeframe windows
// are measured back from now; reports without a parseable timestamp only
// pass the "all" timeframe.
func Apply(reports []models.Report, f Filter, tables lookup.Set, now time.Time) []models.Report {
	var cutoff time.Time
	if days := Timeframes[normalized(f.Timeframe)]; days > 0 {
		cutoff = now.AddDate(0, 0, -days)
	}

	dept := matcher(tables.Department, f.Department)
	status := matcher(tables.Status, f.Status)
	severity := matcher(tables.Severity, f.Severity)

	out := make([]models.Report, 0, len(reports))
	for _, r := range reports {
		if !cutoff.IsZero() && (r.SubmittedAt.IsZero() || r.SubmittedAt.Before(cutoff)) {
			continue
		}
		if !dept(r.DepartmentID, r.DepartmentName) ||
			!status(r.StatusID, r.StatusName) ||
			!severity(r.SeverityID, r.SeverityName) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Counts holds grouped report counts keyed by display name
type Counts struct {
	ByDepartment map[string]int `json:"byDepartment,omitempty"`
	BySeverity   map[string]int `json:"bySeverity"`
	ByStatus     map[string]int `json:"byStatus"`
}

// Group counts reports per department, severity and status. Keys are display
// names, so records that normalize to the same name share one bucket.
func Group(reports []models.Report) Counts {
	c := Counts{
		ByDepartment: make(map[string]int),
		BySeverity:   make(map[string]int),
		ByStatus:     make(map[string]int),
	}
	for _, r := range reports {
		c.ByDepartment[key(r.DepartmentName)]++
		c.BySeverity[key(r.SeverityName)]++
		c.ByStatus[key(r.StatusName)]++
	}
	return c
}

// Bucket is one bar of a chart
type Bucket struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Sorted renders a count map as buckets, largest first, ties by name
func Sorted(m map[string]int) []Bucket {
	out := make([]Bucket, 0, len(m))
	for name, n := range m {
		out = append(out, Bucket{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Result is the analytics view model
type Result struct {
	Filter                  Filter          `json:"filter"`
	DepartmentLocked        bool            `json:"departmentLocked"`
	ShowDepartmentBreakdown bool            `json:"showDepartmentBreakdown"`
	Total                   int             `json:"total"`
	Counts                  Counts          `json:"counts"`
	Reports                 []models.Report `json:"reports,omitempty"`
}

// Compute runs the whole analytics pipeline for p. The department breakdown
// is dropped for every role but System Admin.
func Compute(p models.Principal, reports []models.Report, f Filter, tables lookup.Set, now time.Time) Result {
	eff := Effective(p, f)
	subset := Apply(reports, eff, tables, now)
	if p.Role == models.RoleDepartmentAdmin && eff.Department == "" {
		subset = nil
	}
	counts := Group(subset)

	showDept := rbac.ShowDepartmentBreakdown(p)
	if !showDept {
		counts.ByDepartment = nil
	}

	return Result{
		Filter:                  eff,
		DepartmentLocked:        p.Role == models.RoleDepartmentAdmin,
		ShowDepartmentBreakdown: showDept,
		Total:                   len(subset),
		Counts:                  counts,
		Reports:                 subset,
	}
}

// matcher builds a predicate for one classification filter. A value that is
// a known id is resolved to its display name first.
func matcher(t lookup.Table, value string) func(id, name string) bool {
	if value == "" || value == All {
		return func(string, string) bool { return true }
	}
	wantName := value
	if name, ok := t.Name(value); ok {
		wantName = name
	}
	return func(id, name string) bool {
		return id == value || strings.EqualFold(name, wantName)
	}
}

func normalized(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, All) {
		return All
	}
	return v
}

func key(name string) string {
	if strings.TrimSpace(name) == "" {
		return Unspecified
	}
	return name
}
