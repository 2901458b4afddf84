// Package rbac maps a principal onto what the console lets them see and
// change. Everything here is a pure function of its inputs and is meant to be
// evaluated fresh on every request; nothing is cached across role changes.
//
// The same Capabilities value gates both the affordance returned to the UI
// and the guard in front of the backend call.
package rbac

import (
	"strings"

	"github.com/opsdesk/triage-console/internal/models"
)

// Field is a classification field of a report
type Field string

const (
	FieldStatus     Field = "status"
	FieldDepartment Field = "department"
	FieldSeverity   Field = "severity"
)

// Section is a navigation section of the dashboard
type Section string

const (
	SectionReports        Section = "reports"
	SectionAnalytics      Section = "analytics"
	SectionUserManagement Section = "user_management"
	SectionSettings       Section = "settings"
	SectionProfile        Section = "profile"
)

// Settings tabs, visible to System Admin only
const (
	TabSystem     = "system"
	TabDepartment = "department"
	TabLocation   = "location"
)

// Capabilities is what a principal may do with one report
type Capabilities struct {
	View            bool   `json:"view"`
	EditStatus      bool   `json:"editStatus"`
	EditDepartment  bool   `json:"editDepartment"`
	EditSeverity    bool   `json:"editSeverity"`
	Comment         bool   `json:"comment"`
	Save            bool   `json:"save"`
	Send            bool   `json:"send"`
	FixedDepartment string `json:"fixedDepartment,omitempty"`
}

// CanEdit reports whether the field is editable
func (c Capabilities) CanEdit(f Field) bool {
	switch f {
	case FieldStatus:
		return c.EditStatus
	case FieldDepartment:
		return c.EditDepartment
	case FieldSeverity:
		return c.EditSeverity
	}
	return false
}

// For computes the capabilities of p on a report belonging to reportDepartment.
//
// System Admin edits every field and sends. Department Admin, inside their
// own department, edits status only; the department field is pinned to
// their department and severity is read-only. Employees are view-only on
// classification. Everyone who can view a report can comment and save.
func For(p models.Principal, reportDepartment string) Capabilities {
	switch p.Role {
	case models.RoleSystemAdmin:
		return Capabilities{
			View:           true,
			EditStatus:     true,
			EditDepartment: true,
			EditSeverity:   true,
			Comment:        true,
			Save:           true,
			Send:           true,
		}
	case models.RoleDepartmentAdmin:
		if p.Department == "" || !SameDepartment(p.Department, reportDepartment) {
			return Capabilities{}
		}
		return Capabilities{
			View:            true,
			EditStatus:      true,
			Comment:         true,
			Save:            true,
			FixedDepartment: p.Department,
		}
	case models.RoleEmployee:
		return Capabilities{View: true, Comment: true, Save: true}
	}
	return Capabilities{}
}

// ForReport is For plus the per-report visibility rule
func ForReport(p models.Principal, r models.Report) Capabilities {
	if !Visible(p, r) {
		return Capabilities{}
	}
	return For(p, r.DepartmentName)
}

// Visible reports whether p may see r at all. Department Admins see their own
// department's reports; Employees see the reports they submitted.
func Visible(p models.Principal, r models.Report) bool {
	switch p.Role {
	case models.RoleSystemAdmin:
		return true
	case models.RoleDepartmentAdmin:
		return p.Department != "" && SameDepartment(p.Department, r.DepartmentName)
	case models.RoleEmployee:
		return p.ID != "" && r.SubmittedBy == p.ID
	}
	return false
}

// ScopeDepartment returns the department a principal's report and analytics
// views are pinned to, or "" when unrestricted.
func ScopeDepartment(p models.Principal) string {
	if p.Role == models.RoleDepartmentAdmin {
		return p.Department
	}
	return ""
}

// Sections returns the navigation sections visible to p, in display order
func Sections(p models.Principal) []Section {
	switch p.Role {
	case models.RoleSystemAdmin:
		return []Section{SectionReports, SectionAnalytics, SectionUserManagement, SectionSettings, SectionProfile}
	case models.RoleDepartmentAdmin:
		return []Section{SectionReports, SectionAnalytics, SectionProfile}
	case models.RoleEmployee:
		return []Section{SectionReports, SectionProfile}
	}
	return []Section{SectionProfile}
}

// CanAccess reports whether section s is visible to p
func CanAccess(p models.Principal, s Section) bool {
	for _, allowed := range Sections(p) {
		if allowed == s {
			return true
		}
	}
	return false
}

// SettingsTabs returns the settings tabs visible to p
func SettingsTabs(p models.Principal) []string {
	if p.Role == models.RoleSystemAdmin {
		return []string{TabSystem, TabDepartment, TabLocation}
	}
	return nil
}

// ShowDepartmentBreakdown reports whether the per-department analytics
// breakdown is rendered for p
func ShowDepartmentBreakdown(p models.Principal) bool {
	return p.Role == models.RoleSystemAdmin
}

// SameDepartment compares department names ignoring case and surrounding space
func SameDepartment(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
