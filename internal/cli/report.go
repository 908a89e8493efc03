package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/export"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
	"github.com/roach88/rollcall/internal/transport"
)

// StatusOutput is the result of the status command.
type StatusOutput struct {
	store.Stats
}

func (o StatusOutput) renderText(w io.Writer) {
	fmt.Fprintf(w, "Day:         %s\n", o.Day)
	fmt.Fprintf(w, "Identities:  %d (%d enrolled)\n", o.Identities, o.Enrolled)
	fmt.Fprintf(w, "Present:     %d\n", o.PresentToday)
	fmt.Fprintf(w, "Attendance:  %d total\n", o.TotalAttendance)
	fmt.Fprintf(w, "Pending:     %d identities, %d attendance\n", o.PendingIdentities, o.PendingAttendance)
	fmt.Fprintf(w, "Synced:      %d identities, %d attendance\n", o.SyncedIdentities, o.SyncedAttendance)
	if o.LastSync != nil {
		fmt.Fprintf(w, "Last sync:   %s\n", o.LastSync.Format(model.TimestampLayout))
	} else {
		fmt.Fprintln(w, "Last sync:   never")
	}
	for _, c := range o.ByClassToday {
		fmt.Fprintf(w, "  class %-8s %d\n", c.Key, c.Count)
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		day    string
		remote bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show identity, attendance and sync counts",
		Long: `Show counts for the local store, or with --authority for the configured
authority.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote {
				return runRemoteStatus(rootOpts, day, cmd)
			}
			e, err := openEnv(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := e.store.Stats(cmd.Context(), day)
			if err != nil {
				return WrapExitError(ExitFailure, "status failed", err)
			}
			return e.out.Success(StatusOutput{Stats: stats})
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "day to report, YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&remote, "authority", false, "query the configured authority instead of the local store")

	return cmd
}

func runRemoteStatus(opts *RootOptions, day string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	newLogger(opts, cmd.ErrOrStderr())

	client, err := transport.NewClient(cfg.Authority.Endpoint, cfg.Authority.Timeout)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid authority endpoint", err)
	}
	stats, err := client.Status(cmd.Context(), day)
	if err != nil {
		return WrapExitError(ExitFailure, "authority status failed", err)
	}
	return newFormatter(opts, cmd).Success(StatusOutput{Stats: stats})
}

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Day     string
	Class   string
	Section string
	From    string
	To      string
}

// DailyReportOutput is the result of a daily report.
type DailyReportOutput struct {
	Day  string            `json:"day"`
	Rows []store.ReportRow `json:"rows"`
}

func (o DailyReportOutput) renderText(w io.Writer) {
	fmt.Fprintf(w, "Attendance on %s: %d\n", o.Day, len(o.Rows))
	for _, r := range o.Rows {
		fmt.Fprintf(w, "  %s  #%d %s (roll %s, %s/%s)\n", r.Timestamp, r.IdentityID, r.Name, r.Roll, r.Class, r.Section)
	}
}

// AnalyticsOutput is the result of a range report.
type AnalyticsOutput struct {
	store.Analytics
}

func (o AnalyticsOutput) renderText(w io.Writer) {
	fmt.Fprintf(w, "Attendance %s to %s\n", o.From, o.To)
	section := func(title string, counts []store.Count) {
		fmt.Fprintf(w, "%s:\n", title)
		for _, c := range counts {
			fmt.Fprintf(w, "  %-12s %d\n", c.Key, c.Count)
		}
	}
	section("By day", o.Daily)
	section("By class", o.ByClass)
	section("By section", o.BySection)
	section("By hour", o.Hourly)
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "List a day's attendance or summarize a date range",
		Long: `With --day, list the attendance of that day, optionally narrowed by
class and section. With --from and --to, summarize the range by day, class,
section and hour.

Examples:
  rollcall report --day 2024-01-10 --class 10
  rollcall report --from 2024-01-01 --to 2024-01-31 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Day, "day", "", "day to list, YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.Class, "class", "", "only this class (with --day)")
	cmd.Flags().StringVar(&opts.Section, "section", "", "only this section (with --day)")
	cmd.Flags().StringVar(&opts.From, "from", "", "range start, YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.To, "to", "", "range end, YYYY-MM-DD")
	cmd.MarkFlagsMutuallyExclusive("day", "from")
	cmd.MarkFlagsRequiredTogether("from", "to")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	if opts.Day == "" && opts.From == "" {
		return NewExitError(ExitCommandError, "one of --day or --from/--to is required")
	}

	e, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if opts.Day != "" {
		rows, err := e.store.DailyReport(cmd.Context(), store.ReportFilter{
			Day:     opts.Day,
			Class:   opts.Class,
			Section: opts.Section,
		})
		if err != nil {
			return WrapExitError(ExitFailure, "report failed", err)
		}
		if rows == nil {
			rows = []store.ReportRow{}
		}
		return e.out.Success(DailyReportOutput{Day: opts.Day, Rows: rows})
	}

	a, err := e.store.Analytics(cmd.Context(), opts.From, opts.To)
	if err != nil {
		return WrapExitError(ExitFailure, "report failed", err)
	}
	return e.out.Success(AnalyticsOutput{Analytics: a})
}

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	As   string
	From string
	To   string
	Out  string
}

// ExportOutput describes a written export file.
type ExportOutput struct {
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	Records int    `json:"records"`
}

func (o ExportOutput) renderText(w io.Writer) {
	fmt.Fprintf(w, "Exported %d %s records to %s\n", o.Records, o.Kind, o.Path)
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <attendance|identities>",
		Short: "Export attendance or identities to CSV or JSON",
		Long: `Write attendance (CSV or JSON, optionally limited to a date range) or
identities (JSON) to a file. --out - writes to stdout.

Examples:
  rollcall export attendance --from 2024-01-01 --to 2024-01-31
  rollcall export attendance --as json --out -
  rollcall export identities --out students.json`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"attendance", "identities"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "csv", "file format for attendance (csv|json)")
	cmd.Flags().StringVar(&opts.From, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.To, "to", "", "last day, YYYY-MM-DD")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output path (default: generated name in the current directory)")

	return cmd
}

func runExport(opts *ExportOptions, kind string, cmd *cobra.Command) error {
	format, err := export.ParseFormat(opts.As)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --as", err)
	}
	switch kind {
	case "attendance":
	case "identities":
		format = export.FormatJSON
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown export %q: want attendance or identities", kind))
	}

	e, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	path := opts.Out
	if path == "" {
		path = export.Filename(kind, opts.From, opts.To, format)
	}

	var w io.Writer = cmd.OutOrStdout()
	if path != "-" {
		f, err := os.Create(filepath.Clean(path))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create output file", err)
		}
		defer f.Close()
		w = f
	}

	var records int
	switch kind {
	case "attendance":
		rows, err := e.store.AttendanceRows(cmd.Context(), opts.From, opts.To)
		if err != nil {
			return WrapExitError(ExitFailure, "export failed", err)
		}
		if err := export.Attendance(w, format, rows); err != nil {
			return WrapExitError(ExitFailure, "export failed", err)
		}
		records = len(rows)
	case "identities":
		identities, err := e.store.Identities(cmd.Context())
		if err != nil {
			return WrapExitError(ExitFailure, "export failed", err)
		}
		if err := export.IdentitiesJSON(w, identities); err != nil {
			return WrapExitError(ExitFailure, "export failed", err)
		}
		records = len(identities)
	}

	e.logger.Info("export written", "kind", kind, "path", path, "records", records)
	if path == "-" {
		return nil
	}
	return e.out.Success(ExportOutput{Kind: kind, Path: path, Records: records})
}
