// Package normalize turns backend report payloads into models.Report.
//
// The reporting backend has returned the same logical field under several
// names across endpoints (StatusName, statusName, status.name, Status.Name,
// ...). Every logical field is described by an ordered list of candidate
// source paths in ReportFields and resolved by the single Resolve function:
// the first candidate holding a defined value wins.
package normalize

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opsdesk/triage-console/internal/models"
)

// Field names a logical report field
type Field string

const (
	FieldID              Field = "id"
	FieldTitle           Field = "title"
	FieldDescription     Field = "description"
	FieldImage           Field = "image"
	FieldCoordinates     Field = "coordinates"
	FieldLatitude        Field = "latitude"
	FieldLongitude       Field = "longitude"
	FieldLocationName    Field = "locationName"
	FieldTimestamp       Field = "timestamp"
	FieldSubmittedBy     Field = "submittedBy"
	FieldSubmittedByName Field = "submittedByName"
	FieldDepartmentID    Field = "departmentId"
	FieldDepartmentName  Field = "departmentName"
	FieldSeverityID      Field = "severityId"
	FieldSeverityName    Field = "severityName"
	FieldStatusID        Field = "statusId"
	FieldStatusName      Field = "statusName"
	FieldSyncStatus      Field = "syncStatus"
	FieldComments        Field = "comments"
)

// ReportFields maps each logical field to its candidate source paths, in
// priority order. Dotted paths descend into nested objects.
var ReportFields = map[Field][]string{
	FieldID:              {"id", "Id", "ID", "reportId", "ReportId", "ReportID", "_id"},
	FieldTitle:           {"title", "Title", "subject", "Subject"},
	FieldDescription:     {"description", "Description", "details", "Details"},
	FieldImage:           {"imageUrl", "ImageUrl", "ImageURL", "image_url", "image", "Image", "imagePath", "ImagePath"},
	FieldCoordinates:     {"gpsCoordinates", "GpsCoordinates", "GPSCoordinates", "gps_coordinates", "coordinates", "Coordinates"},
	FieldLatitude:        {"latitude", "Latitude", "lat", "Lat", "location.latitude", "Location.Latitude"},
	FieldLongitude:       {"longitude", "Longitude", "lng", "Lng", "long", "location.longitude", "Location.Longitude"},
	FieldLocationName:    {"locationName", "LocationName", "location_name", "location.name", "Location.Name", "location", "Location"},
	FieldTimestamp:       {"timestamp", "Timestamp", "createdAt", "CreatedAt", "created_at", "submittedAt", "SubmittedAt", "dateSubmitted", "DateSubmitted"},
	FieldSubmittedBy:     {"submittedBy", "SubmittedBy", "submitted_by", "userId", "UserId", "UserID", "submittedBy.id", "SubmittedBy.Id"},
	FieldSubmittedByName: {"submittedByName", "SubmittedByName", "submitted_by_name", "userName", "UserName", "submittedBy.name", "SubmittedBy.Name", "reporterName", "ReporterName"},
	FieldDepartmentID:    {"departmentId", "DepartmentId", "DepartmentID", "department_id", "department.id", "Department.Id", "Department.ID"},
	FieldDepartmentName:  {"departmentName", "DepartmentName", "department_name", "department.name", "Department.Name", "department", "Department"},
	FieldSeverityID:      {"severityId", "SeverityId", "SeverityID", "severity_id", "severity.id", "Severity.Id", "Severity.ID"},
	FieldSeverityName:    {"severityName", "SeverityName", "severity_name", "severity.name", "Severity.Name", "severity", "Severity"},
	FieldStatusID:        {"statusId", "StatusId", "StatusID", "status_id", "status.id", "Status.Id", "Status.ID"},
	FieldStatusName:      {"statusName", "StatusName", "status_name", "status.name", "Status.Name", "status", "Status"},
	FieldSyncStatus:      {"syncStatus", "SyncStatus", "sync_status", "isSent", "IsSent", "sent", "Sent"},
	FieldComments:        {"comments", "Comments", "commentList", "CommentList"},
}

var commentFields = map[Field][]string{
	"author":    {"author", "Author", "authorName", "AuthorName", "createdBy", "CreatedBy", "userName", "UserName", "user.name"},
	"timestamp": {"timestamp", "Timestamp", "createdAt", "CreatedAt", "created_at", "date", "Date"},
	"text":      {"text", "Text", "comment", "Comment", "content", "Content", "body", "Body", "message", "Message"},
}

var lookupFields = map[Field][]string{
	"id":   {"id", "Id", "ID", "value", "Value", "key", "Key"},
	"name": {"name", "Name", "label", "Label", "title", "Title", "text", "Text"},
}

// Resolve returns the value at the first candidate path that holds a defined
// value. nil, missing keys and blank strings are undefined.
func Resolve(record map[string]interface{}, paths ...string) (interface{}, bool) {
	for _, path := range paths {
		if v, ok := lookupPath(record, path); ok && defined(v) {
			return v, true
		}
	}
	return nil, false
}

// String resolves a field and renders it as a string, or returns fallback.
// Object values (a nested "status" object, say) are not scalars and are
// skipped so the next candidate gets a chance.
func String(record map[string]interface{}, fallback string, paths ...string) string {
	for _, path := range paths {
		v, ok := lookupPath(record, path)
		if !ok || !defined(v) {
			continue
		}
		if s, ok := scalar(v); ok {
			return s
		}
	}
	return fallback
}

// Report normalizes one backend record. It never panics and leaves no field
// unset: names default to "", status to "Open", severity to "Low" and the
// sync status to "Pending".
func Report(record map[string]interface{}) models.Report {
	f := func(field Field, fallback string) string {
		return String(record, fallback, ReportFields[field]...)
	}

	r := models.Report{
		ID:              f(FieldID, ""),
		Title:           f(FieldTitle, ""),
		Description:     f(FieldDescription, ""),
		ImageURL:        f(FieldImage, ""),
		GPSCoordinates:  coordinates(record),
		LocationName:    f(FieldLocationName, ""),
		SubmittedBy:     f(FieldSubmittedBy, ""),
		SubmittedByName: f(FieldSubmittedByName, ""),
		DepartmentID:    f(FieldDepartmentID, ""),
		DepartmentName:  f(FieldDepartmentName, ""),
		SeverityID:      f(FieldSeverityID, ""),
		SeverityName:    f(FieldSeverityName, models.DefaultSeverity),
		StatusID:        f(FieldStatusID, ""),
		StatusName:      f(FieldStatusName, models.DefaultStatus),
		SyncStatus:      syncStatus(record),
		Comments:        []models.Comment{},
	}

	if v, ok := Resolve(record, ReportFields[FieldTimestamp]...); ok {
		r.SubmittedAt, _ = ParseTime(v)
		r.Timestamp, _ = scalar(v)
	}

	if v, ok := Resolve(record, ReportFields[FieldComments]...); ok {
		r.Comments = Comments(v)
	}

	return r
}

// Reports normalizes every record of a list payload
func Reports(payload interface{}) []models.Report {
	records := Records(payload)
	out := make([]models.Report, 0, len(records))
	for _, rec := range records {
		out = append(out, Report(rec))
	}
	return out
}

// Comments normalizes a comment array and orders it by timestamp ascending.
// Entries without a parseable timestamp keep their index.
func Comments(raw interface{}) []models.Comment {
	items, _ := raw.([]interface{})
	out := make([]models.Comment, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case map[string]interface{}:
			c := models.Comment{
				Author: String(v, "", commentFields["author"]...),
				Text:   String(v, "", commentFields["text"]...),
			}
			if ts, ok := Resolve(v, commentFields["timestamp"]...); ok {
				c.Timestamp, _ = scalar(ts)
				c.At, _ = ParseTime(ts)
			}
			out = append(out, c)
		case string:
			if strings.TrimSpace(v) != "" {
				out = append(out, models.Comment{Text: v})
			}
		}
	}

	// Dated entries are sorted among the slots they occupy; undated ones stay put.
	slots := make([]int, 0, len(out))
	dated := make([]models.Comment, 0, len(out))
	for i, c := range out {
		if !c.At.IsZero() {
			slots = append(slots, i)
			dated = append(dated, c)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].At.Before(dated[j].At)
	})
	for k, i := range slots {
		out[i] = dated[k]
	}
	return out
}

// Entry is a normalized {id, name} lookup pair
type Entry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lookup normalizes a dropdown payload into {id, name} pairs. Bare strings
// are accepted as entries whose id equals the name; entries without a name
// are dropped.
func Lookup(payload interface{}) []Entry {
	var items []interface{}
	switch v := payload.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		for _, rec := range Records(v) {
			items = append(items, rec)
		}
	}

	out := make([]Entry, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case map[string]interface{}:
			name := String(v, "", lookupFields["name"]...)
			if name == "" {
				continue
			}
			out = append(out, Entry{ID: String(v, name, lookupFields["id"]...), Name: name})
		case string:
			if v != "" {
				out = append(out, Entry{ID: v, Name: v})
			}
		}
	}
	return out
}

// Records unwraps a list payload: a bare array, or an array under one of the
// usual envelope keys.
func Records(payload interface{}) []map[string]interface{} {
	var items []interface{}
	switch v := payload.(type) {
	case []interface{}:
		items = v
	case []map[string]interface{}:
		return v
	case map[string]interface{}:
		for _, key := range []string{"data", "Data", "reports", "Reports", "items", "Items", "results", "Results",
			"users", "Users", "departments", "Departments", "locations", "Locations"} {
			if inner, ok := v[key]; ok {
				return Records(inner)
			}
		}
	}

	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]interface{}); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Record unwraps a single-object payload, tolerating a {data: {...}} envelope
func Record(payload interface{}) map[string]interface{} {
	rec, ok := payload.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	for _, key := range []string{"data", "Data", "report", "Report"} {
		if inner, ok := rec[key].(map[string]interface{}); ok {
			return inner
		}
	}
	return rec
}

func coordinates(record map[string]interface{}) string {
	if s := String(record, "", ReportFields[FieldCoordinates]...); s != "" {
		return s
	}
	lat := String(record, "", ReportFields[FieldLatitude]...)
	lng := String(record, "", ReportFields[FieldLongitude]...)
	if lat == "" || lng == "" {
		return ""
	}
	return lat + ", " + lng
}

func syncStatus(record map[string]interface{}) string {
	v, ok := Resolve(record, ReportFields[FieldSyncStatus]...)
	if !ok {
		return models.SyncPending
	}
	switch t := v.(type) {
	case bool:
		if t {
			return models.SyncSent
		}
		return models.SyncPending
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "sent", "synced", "true", "1", "forwarded":
			return models.SyncSent
		}
		return models.SyncPending
	case float64:
		if t != 0 {
			return models.SyncSent
		}
	}
	return models.SyncPending
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime reads a backend timestamp: RFC3339 variants, space-separated
// date-times, bare dates, or unix seconds/milliseconds.
func ParseTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return unix(n), true
		}
	case float64:
		return unix(t), true
	case int64:
		return unix(float64(t)), true
	case int:
		return unix(float64(t)), true
	case time.Time:
		return t, !t.IsZero()
	}
	return time.Time{}, false
}

func unix(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}

func lookupPath(record map[string]interface{}, path string) (interface{}, bool) {
	if record == nil {
		return nil, false
	}
	var cur interface{} = record
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func defined(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	}
	return true
}

func scalar(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

var profileFields = map[Field][]string{
	"id":         {"id", "Id", "ID", "userId", "UserId", "UserID", "_id"},
	"name":       {"name", "Name", "fullName", "FullName", "username", "UserName", "userName"},
	"email":      {"email", "Email"},
	"role":       {"role", "Role", "roleName", "RoleName", "userRole", "UserRole", "role.name", "Role.Name"},
	"department": {"departmentName", "DepartmentName", "department.name", "Department.Name", "department", "Department"},
}

// Principal maps a backend profile onto the signed-in actor. An unknown role
// is kept verbatim so every capability check denies it. Department is only
// retained for Department Admins.
func Principal(record map[string]interface{}) models.Principal {
	p := models.Principal{
		ID:    String(record, "", profileFields["id"]...),
		Name:  String(record, "", profileFields["name"]...),
		Email: String(record, "", profileFields["email"]...),
	}
	if p.Name == "" {
		p.Name = p.Email
	}

	raw := String(record, "", profileFields["role"]...)
	if role, ok := models.ParseRole(raw); ok {
		p.Role = role
	} else {
		p.Role = models.Role(raw)
	}

	if p.Role == models.RoleDepartmentAdmin {
		p.Department = String(record, "", profileFields["department"]...)
	}
	return p
}
