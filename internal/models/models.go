// Package models defines the data structures shared across the console.
// Report records arrive from the reporting backend in assorted casings and are
// normalized into the shapes below before anything else touches them.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of console roles
type Role string

const (
	RoleSystemAdmin     Role = "System Admin"
	RoleDepartmentAdmin Role = "Department Admin"
	RoleEmployee        Role = "Employee"
)

// ParseRole maps the role spellings the backend has been seen to emit
// ("System Admin", "system_admin", "SYSTEMADMIN", "dept-admin", ...) onto a Role.
func ParseRole(s string) (Role, bool) {
	key := strings.ToLower(s)
	key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)

	switch key {
	case "systemadmin", "sysadmin", "superadmin":
		return RoleSystemAdmin, true
	case "departmentadmin", "deptadmin":
		return RoleDepartmentAdmin, true
	case "employee", "user", "staff":
		return RoleEmployee, true
	}
	return "", false
}

// Principal is the signed-in actor
type Principal struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Role       Role   `json:"role"`
	Department string `json:"department,omitempty"` // only set for Department Admin
}

// Sync status values
const (
	SyncPending = "Pending"
	SyncSent    = "Sent"
)

// Default classification values used when the backend omits them
const (
	DefaultStatus   = "Open"
	DefaultSeverity = "Low"
)

// Comment is one entry of a report's append-only comment thread
type Comment struct {
	Author    string    `json:"author"`
	Timestamp string    `json:"timestamp"`
	Text      string    `json:"text"`
	At        time.Time `json:"-"`
}

// Report is the normalized client-side shape of a submitted incident
type Report struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	ImageURL        string    `json:"imageUrl"`
	GPSCoordinates  string    `json:"gpsCoordinates"`
	LocationName    string    `json:"locationName"`
	Timestamp       string    `json:"timestamp"`
	SubmittedAt     time.Time `json:"-"`
	SubmittedBy     string    `json:"submittedBy"`
	SubmittedByName string    `json:"submittedByName"`
	DepartmentID    string    `json:"departmentId"`
	DepartmentName  string    `json:"departmentName"`
	SeverityID      string    `json:"severityId"`
	SeverityName    string    `json:"severityName"`
	StatusID        string    `json:"statusId"`
	StatusName      string    `json:"statusName"`
	SyncStatus      string    `json:"syncStatus"`
	Comments        []Comment `json:"comments"`
}

// IsSent reports whether the report has been forwarded downstream
func (r Report) IsSent() bool {
	return r.SyncStatus == SyncSent
}

// Classification is the mutable triple of a report
type Classification struct {
	DepartmentID   string `json:"departmentId"`
	DepartmentName string `json:"departmentName"`
	SeverityID     string `json:"severityId"`
	SeverityName   string `json:"severityName"`
	StatusID       string `json:"statusId"`
	StatusName     string `json:"statusName"`
}

// Classification extracts the mutable fields of the report
func (r Report) Classification() Classification {
	return Classification{
		DepartmentID:   r.DepartmentID,
		DepartmentName: r.DepartmentName,
		SeverityID:     r.SeverityID,
		SeverityName:   r.SeverityName,
		StatusID:       r.StatusID,
		StatusName:     r.StatusName,
	}
}

// SaveRequest is the body of the backend "save" action
type SaveRequest struct {
	Department string `json:"department"`
	Severity   string `json:"severity"`
	Status     string `json:"status"`
	Comment    string `json:"comment,omitempty"`
}

// Department is a directory record managed from the settings surface
type Department struct {
	ID          string `json:"id"`
	Name        string `json:"name" validate:"required,notblank,min=2,max=100"`
	Description string `json:"description,omitempty" validate:"max=500"`
}

// Key implements the directory record key
func (d Department) Key() string { return d.ID }

// Location is a directory record managed from the settings surface
type Location struct {
	ID      string `json:"id"`
	Name    string `json:"name" validate:"required,notblank,min=2,max=100"`
	Address string `json:"address,omitempty" validate:"max=250"`
}

// Key implements the directory record key
func (l Location) Key() string { return l.ID }

// User is a console account as listed in User Management
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name" validate:"required,notblank,min=2,max=100"`
	Email      string `json:"email" validate:"required,email"`
	Role       Role   `json:"role" validate:"required,oneof='System Admin' 'Department Admin' 'Employee'"`
	Department string `json:"department,omitempty" validate:"required_if=Role 'Department Admin'"`
}

// Key implements the directory record key
func (u User) Key() string { return u.ID }

// UserRegistration is the request body for registering a user
type UserRegistration struct {
	User
	Password string `json:"password" validate:"required,min=8,max=100"`
}

// ActivityLog is one entry of the triage audit trail
type ActivityLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ReportID  string    `json:"report_id,omitempty" db:"report_id"`
	ActorID   string    `json:"actor_id" db:"actor_id"`
	ActorRole string    `json:"actor_role" db:"actor_role"`
	Action    string    `json:"action" db:"action"`
	Detail    string    `json:"detail,omitempty" db:"detail"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ActivityLogEntry is the input for recording an activity
type ActivityLogEntry struct {
	ReportID  string
	ActorID   string
	ActorRole Role
	Action    string
	Detail    string
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime,omitempty"`
	Database string `json:"database,omitempty"`
	Cache    string `json:"cache,omitempty"`
}
