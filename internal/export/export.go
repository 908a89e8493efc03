// Package export serializes identities and attendance for hand-off to
// spreadsheets and other tools.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
)

// Format names an output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv or json)", s)
	}
}

var attendanceHeader = []string{"ID", "Name", "Roll Number", "Class", "Section", "Timestamp"}

// Attendance writes rows in the requested format.
func Attendance(w io.Writer, format Format, rows []store.ReportRow) error {
	switch format {
	case FormatCSV:
		return AttendanceCSV(w, rows)
	case FormatJSON:
		return AttendanceJSON(w, rows)
	default:
		return fmt.Errorf("export attendance: unknown format %q", format)
	}
}

// AttendanceCSV writes one line per row under the
// "ID,Name,Roll Number,Class,Section,Timestamp" header. ID is the identity id.
func AttendanceCSV(w io.Writer, rows []store.ReportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(attendanceHeader); err != nil {
		return fmt.Errorf("export attendance: %w", err)
	}
	for _, r := range rows {
		record := []string{
			strconv.FormatInt(r.IdentityID, 10),
			r.Name,
			r.Roll,
			r.Class,
			r.Section,
			r.Timestamp,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export attendance: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export attendance: %w", err)
	}
	return nil
}

type attendanceEntry struct {
	ID         int64        `json:"id"`
	IdentityID int64        `json:"identity_id"`
	Name       string       `json:"name"`
	Roll       string       `json:"roll"`
	Class      string       `json:"class"`
	Section    string       `json:"section"`
	Timestamp  string       `json:"timestamp"`
	Source     model.Source `json:"source"`
	Synced     bool         `json:"synced"`
}

// AttendanceJSON writes rows as an indented JSON array.
func AttendanceJSON(w io.Writer, rows []store.ReportRow) error {
	out := make([]attendanceEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, attendanceEntry{
			ID:         r.AttendanceID,
			IdentityID: r.IdentityID,
			Name:       r.Name,
			Roll:       r.Roll,
			Class:      r.Class,
			Section:    r.Section,
			Timestamp:  r.Timestamp,
			Source:     r.Source,
			Synced:     r.SyncState == model.Synced,
		})
	}
	if err := writeJSON(w, out); err != nil {
		return fmt.Errorf("export attendance: %w", err)
	}
	return nil
}

type identityEntry struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Roll     string `json:"roll"`
	Class    string `json:"class"`
	Section  string `json:"section"`
	Enrolled bool   `json:"enrolled"`
	Synced   bool   `json:"synced"`
}

// IdentitiesJSON writes identities as an indented JSON array. Embeddings are
// not exported.
func IdentitiesJSON(w io.Writer, identities []model.Identity) error {
	out := make([]identityEntry, 0, len(identities))
	for _, id := range identities {
		out = append(out, identityEntry{
			ID:       id.ID,
			Name:     id.Name,
			Roll:     id.Roll,
			Class:    id.Class,
			Section:  id.Section,
			Enrolled: id.Enrolled(),
			Synced:   id.SyncState == model.Synced,
		})
	}
	if err := writeJSON(w, out); err != nil {
		return fmt.Errorf("export identities: %w", err)
	}
	return nil
}

// Filename returns the conventional file name for an export of kind over
// [from, to], for example "attendance_2024-01-10_to_2024-01-12.csv".
func Filename(kind string, from, to string, format Format) string {
	switch {
	case from == "" && to == "":
		return fmt.Sprintf("%s.%s", kind, format)
	case from == to:
		return fmt.Sprintf("%s_%s.%s", kind, from, format)
	case from == "":
		return fmt.Sprintf("%s_to_%s.%s", kind, to, format)
	case to == "":
		return fmt.Sprintf("%s_from_%s.%s", kind, from, format)
	default:
		return fmt.Sprintf("%s_%s_to_%s.%s", kind, from, to, format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
