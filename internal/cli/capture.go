package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/ledger"
	"github.com/roach88/rollcall/internal/matcher"
	"github.com/roach88/rollcall/internal/model"
)

// MatchOutput is the result of one match.
type MatchOutput struct {
	Outcome  string  `json:"outcome"`
	Identity *int64  `json:"identity,omitempty"`
	Name     string  `json:"name,omitempty"`
	Roll     string  `json:"roll,omitempty"`
	Distance float64 `json:"distance"`
}

func matchOutput(r matcher.Result) MatchOutput {
	out := MatchOutput{Outcome: r.Outcome.String(), Distance: r.Distance}
	if r.Matched() {
		id := r.Identity.ID
		out.Identity = &id
		out.Name = r.Identity.Name
		out.Roll = r.Identity.Roll
	}
	return out
}

func (o MatchOutput) renderText(w io.Writer) {
	switch {
	case o.Identity != nil:
		fmt.Fprintf(w, "matched #%d %s (roll %s) distance %.4f\n", *o.Identity, o.Name, o.Roll, o.Distance)
	case o.Outcome == matcher.OutcomeNoMatch.String():
		fmt.Fprintf(w, "no match (nearest distance %.4f)\n", o.Distance)
	default:
		fmt.Fprintln(w, "no enrolled identities")
	}
}

// MatchOptions holds flags for the match command.
type MatchOptions struct {
	*RootOptions
	Embedding     string
	EmbeddingFile string
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Resolve an embedding to the nearest enrolled identity",
		Long: `Find the nearest enrolled identity and accept it when its distance is
within the configured tolerance. Attendance is not recorded.

Example:
  rollcall match --embedding-file face.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Embedding, "embedding", "", "comma separated embedding")
	cmd.Flags().StringVar(&opts.EmbeddingFile, "embedding-file", "", "JSON array file holding the embedding (- for stdin)")

	return cmd
}

func runMatch(opts *MatchOptions, cmd *cobra.Command) error {
	vec, err := vectorInput(cmd, opts.Embedding, opts.EmbeddingFile)
	if err != nil {
		return err
	}

	e, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.station().Match(cmd.Context(), vec)
	if err != nil {
		return WrapExitError(ExitFailure, "match failed", err)
	}
	return e.out.Success(matchOutput(res))
}

// AttendanceOutput is the result of recording attendance.
type AttendanceOutput struct {
	Status       string `json:"status"`
	AttendanceID int64  `json:"attendance_id"`
	IdentityID   int64  `json:"identity_id"`
	Day          string `json:"day"`
	Timestamp    string `json:"timestamp"`
}

func attendanceOutput(r ledger.Result, e *env) AttendanceOutput {
	return AttendanceOutput{
		Status:       r.Status.String(),
		AttendanceID: r.Record.ID,
		IdentityID:   r.Record.IdentityID,
		Day:          r.Record.Day,
		Timestamp:    model.FormatTimestamp(r.Record.Timestamp, e.store.Location()),
	}
}

func (o AttendanceOutput) renderText(w io.Writer) {
	if o.Status == ledger.StatusAlreadyMarked.String() {
		fmt.Fprintf(w, "#%d already marked on %s at %s\n", o.IdentityID, o.Day, o.Timestamp)
		return
	}
	fmt.Fprintf(w, "#%d marked present at %s\n", o.IdentityID, o.Timestamp)
}

// ScanFace is one face of a scan result.
type ScanFace struct {
	Face       int               `json:"face"`
	Match      MatchOutput       `json:"match"`
	Attendance *AttendanceOutput `json:"attendance,omitempty"`
}

// ScanOutput is the result of the scan command.
type ScanOutput struct {
	Faces []ScanFace `json:"faces"`
}

func (o ScanOutput) renderText(w io.Writer) {
	for _, f := range o.Faces {
		fmt.Fprintf(w, "face %d: ", f.Face)
		if f.Attendance != nil {
			f.Attendance.renderText(w)
			continue
		}
		f.Match.renderText(w)
	}
}

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	FacesFile string
	At        string
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Match every face of a capture and mark matches present",
		Long: `Read the embeddings of one capture as a JSON array of arrays, match each
and record attendance for every matched identity, once per day.

Examples:
  rollcall scan --faces capture.json
  extract-faces frame.jpg | rollcall scan --faces - --at 2024-01-10T09:00:00`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.FacesFile, "faces", "", "JSON file with an array of embeddings (- for stdin, required)")
	cmd.Flags().StringVar(&opts.At, "at", "", "capture time, YYYY-MM-DDTHH:MM:SS (default now)")
	_ = cmd.MarkFlagRequired("faces")

	return cmd
}

func runScan(opts *ScanOptions, cmd *cobra.Command) error {
	var faces []model.Embedding
	if err := readJSON(cmd, opts.FacesFile, &faces); err != nil {
		return err
	}

	e, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	at, err := parseAt(opts.At, e.store.Location())
	if err != nil {
		return err
	}

	results, err := e.station().Scan(cmd.Context(), faces, at)
	if err != nil {
		return WrapExitError(ExitFailure, "scan failed", err)
	}

	out := ScanOutput{Faces: make([]ScanFace, len(results))}
	for i, r := range results {
		out.Faces[i] = ScanFace{Face: r.Face, Match: matchOutput(r.Match)}
		if r.Attendance != nil {
			a := attendanceOutput(*r.Attendance, e)
			out.Faces[i].Attendance = &a
		}
	}
	return e.out.Success(out)
}

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	At string
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record <id>",
		Short: "Mark an identity present without matching",
		Long: `Record attendance for an identity directly. A second record on the same
day returns the existing entry.

Example:
  rollcall record 4 --at 2024-01-10T09:00:00`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "attendance time, YYYY-MM-DDTHH:MM:SS (default now)")

	return cmd
}

func runRecord(opts *RecordOptions, rawID string, cmd *cobra.Command) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}

	e, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	at, err := parseAt(opts.At, e.store.Location())
	if err != nil {
		return err
	}

	res, err := e.station().Record(cmd.Context(), id, at)
	if err != nil {
		return WrapExitError(ExitFailure, "record failed", err)
	}
	return e.out.Success(attendanceOutput(res, e))
}
