package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/config"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/reconcile"
	"github.com/roach88/rollcall/internal/reindex"
	"github.com/roach88/rollcall/internal/transport"
)

// ReindexOutput is the result of the reindex command.
type ReindexOutput struct {
	reindex.Report
}

func (o ReindexOutput) renderText(w io.Writer) {
	if !o.Changed {
		fmt.Fprintf(w, "%d identities already numbered 1..%d\n", o.Identities, o.Identities)
		return
	}
	fmt.Fprintf(w, "Renumbered %d of %d identities\n", o.Moves, o.Identities)
}

// NewReindexCommand creates the reindex command.
func NewReindexCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Renumber identities to 1..N",
		Long: `Renumber identity ids densely in their current order and rewrite every
attendance link to match, in one transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := reindex.New(e.store, e.logger).ReassignIDs(cmd.Context())
			e.metrics.ObserveReindex(err == nil)
			if err != nil {
				return WrapExitError(ExitFailure, "reindex failed", err)
			}
			return e.out.Success(ReindexOutput{Report: report})
		},
	}
}

// PushOutput is the result of the push command.
type PushOutput struct {
	reconcile.PushReport
}

func (o PushOutput) renderText(w io.Writer) {
	if o.BatchID == "" {
		fmt.Fprintln(w, "Nothing to push")
		return
	}
	fmt.Fprintf(w, "Pushed batch %s: %d enrollments, %d attendance records\n", o.BatchID, o.Enrollments, o.Entries)
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Send pending records to the authority",
		Long: `Send every pending identity and attendance record to the configured
authority as one batch. Acknowledged records become synced and the batch is
written to the sync log.

The authority endpoint comes from authority.endpoint in the config file or
ROLLCALL_AUTHORITY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			coord, err := newCoordinator(e)
			if err != nil {
				return err
			}
			report, err := coord.PushPending(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "push failed", err)
			}
			return e.out.Success(PushOutput{PushReport: report})
		},
	}
}

// newCoordinator builds a coordinator that pushes over HTTP.
func newCoordinator(e *env) (*reconcile.Coordinator, error) {
	if e.cfg.Authority.Endpoint == "" {
		return nil, NewExitError(ExitCommandError, "authority endpoint not configured (authority.endpoint or "+config.EnvAuthority+")")
	}
	client, err := transport.NewClient(e.cfg.Authority.Endpoint, e.cfg.Authority.Timeout)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid authority endpoint", err)
	}
	coord, err := reconcile.NewCoordinator(e.store, client,
		reconcile.WithLogger(e.logger),
		reconcile.WithStation(e.cfg.Station),
		reconcile.WithMetrics(e.metrics),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create coordinator", err)
	}
	return coord, nil
}

// ImportOutput is the result of the import command.
type ImportOutput struct {
	model.Ack
}

func (o ImportOutput) renderText(w io.Writer) {
	fmt.Fprintf(w, "Imported batch %s: %d records\n", o.BatchID, o.Applied)
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <batch.json>",
		Short: "Apply a batch file to the local store",
		Long: `Apply a batch (the JSON body a station pushes) to the local store in one
transaction. Imported attendance is stored as synced and is not
deduplicated: importing a file twice stores its records twice.

Example:
  rollcall import --db authority.db batch.json
  cat batch.json | rollcall import -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var batch model.Batch
			if err := readJSON(cmd, args[0], &batch); err != nil {
				return err
			}

			e, err := openEnv(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			importer, err := reconcile.NewImporter(e.store,
				reconcile.WithLogger(e.logger),
				reconcile.WithMetrics(e.metrics),
			)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to create importer", err)
			}
			ack, err := importer.ImportBatch(cmd.Context(), batch)
			if err != nil {
				return WrapExitError(ExitFailure, "import failed", err)
			}
			return e.out.Success(ImportOutput{Ack: ack})
		},
	}
}
