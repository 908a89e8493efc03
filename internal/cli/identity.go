package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/model"
)

// IdentityOutput is the result of enroll, attach and edit.
type IdentityOutput struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Roll     string `json:"roll"`
	Class    string `json:"class"`
	Section  string `json:"section"`
	Enrolled bool   `json:"enrolled"`
}

func identityOutput(id model.Identity) IdentityOutput {
	return IdentityOutput{
		ID:       id.ID,
		Name:     id.Name,
		Roll:     id.Roll,
		Class:    id.Class,
		Section:  id.Section,
		Enrolled: id.Enrolled(),
	}
}

func (o IdentityOutput) renderText(w io.Writer) {
	state := "enrolled"
	if !o.Enrolled {
		state = "no embedding"
	}
	fmt.Fprintf(w, "#%d %s (roll %s, class %s, section %s) %s\n", o.ID, o.Name, o.Roll, o.Class, o.Section, state)
}

// EnrollOptions holds flags for the enroll command.
type EnrollOptions struct {
	*RootOptions
	ID            int64
	Name          string
	Roll          string
	Class         string
	Section       string
	Embedding     string
	EmbeddingFile string
}

// NewEnrollCommand creates the enroll command.
func NewEnrollCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnrollOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll an identity with its face embedding",
		Long: `Create an identity and store its embedding. The embedding length must
equal the configured dimension.

Examples:
  rollcall enroll --roll R1 --name "Asha Rao" --class 10 --section A --embedding-file asha.json
  rollcall enroll --id 7 --roll R7 --name Ben --embedding "0.1,0.2,0.3"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnroll(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.ID, "id", 0, "identity id (default: next free id)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (required)")
	cmd.Flags().StringVar(&opts.Roll, "roll", "", "roll number, unique (required)")
	cmd.Flags().StringVar(&opts.Class, "class", "", "class")
	cmd.Flags().StringVar(&opts.Section, "section", "", "section")
	cmd.Flags().StringVar(&opts.Embedding, "embedding", "", "comma separated embedding")
	cmd.Flags().StringVar(&opts.EmbeddingFile, "embedding-file", "", "JSON array file holding the embedding (- for stdin)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("roll")

	return cmd
}

func runEnroll(opts *EnrollOptions, cmd *cobra.Command) error {
	vec, err := vectorInput(cmd, opts.Embedding, opts.EmbeddingFile)
	if err != nil {
		return err
	}

	e, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	identity, err := e.station().Enroll(cmd.Context(), model.Identity{
		ID:        opts.ID,
		Name:      opts.Name,
		Roll:      opts.Roll,
		Class:     opts.Class,
		Section:   opts.Section,
		Embedding: vec,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "enroll failed", err)
	}
	return e.out.Success(identityOutput(identity))
}

// AttachOptions holds flags for the attach command.
type AttachOptions struct {
	*RootOptions
	Embedding     string
	EmbeddingFile string
}

// NewAttachCommand creates the attach command.
func NewAttachCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AttachOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "attach <id>",
		Short: "Attach an embedding to an identity that has none",
		Long: `Enroll an identity created without an embedding, typically by an
import. Identities that already carry an embedding are rejected.

Example:
  rollcall attach 12 --embedding-file face.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Embedding, "embedding", "", "comma separated embedding")
	cmd.Flags().StringVar(&opts.EmbeddingFile, "embedding-file", "", "JSON array file holding the embedding (- for stdin)")

	return cmd
}

func runAttach(opts *AttachOptions, rawID string, cmd *cobra.Command) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	vec, err := vectorInput(cmd, opts.Embedding, opts.EmbeddingFile)
	if err != nil {
		return err
	}

	e, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	identity, err := e.store.AttachEmbedding(cmd.Context(), id, vec)
	if err != nil {
		return WrapExitError(ExitFailure, "attach failed", err)
	}
	e.logger.Info("embedding attached", "identity_id", identity.ID)
	return e.out.Success(identityOutput(identity))
}

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Name    string
	Roll    string
	Class   string
	Section string
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit the name, roll, class or section of an identity",
		Long: `Change identity fields. Only the flags given are changed. The
embedding cannot be edited.

Example:
  rollcall edit 3 --section B`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Roll, "roll", "", "roll number")
	cmd.Flags().StringVar(&opts.Class, "class", "", "class")
	cmd.Flags().StringVar(&opts.Section, "section", "", "section")

	return cmd
}

func runEdit(opts *EditOptions, rawID string, cmd *cobra.Command) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}

	var patch model.IdentityPatch
	flags := cmd.Flags()
	if flags.Changed("name") {
		patch.Name = &opts.Name
	}
	if flags.Changed("roll") {
		patch.Roll = &opts.Roll
	}
	if flags.Changed("class") {
		patch.Class = &opts.Class
	}
	if flags.Changed("section") {
		patch.Section = &opts.Section
	}
	if patch == (model.IdentityPatch{}) {
		return NewExitError(ExitCommandError, "nothing to change: pass at least one of --name, --roll, --class, --section")
	}

	e, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	identity, err := e.store.UpdateIdentity(cmd.Context(), id, patch)
	if err != nil {
		return WrapExitError(ExitFailure, "edit failed", err)
	}
	return e.out.Success(identityOutput(identity))
}

// RemoveOutput is the result of the remove command.
type RemoveOutput struct {
	ID                int64 `json:"id"`
	AttendanceRemoved int   `json:"attendance_removed"`
}

func (o RemoveOutput) renderText(w io.Writer) {
	fmt.Fprintf(w, "Removed identity #%d and %d attendance records\n", o.ID, o.AttendanceRemoved)
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an identity and its attendance records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			removed, err := e.store.RemoveIdentity(cmd.Context(), id)
			if err != nil {
				return WrapExitError(ExitFailure, "remove failed", err)
			}
			e.logger.Info("identity removed", "identity_id", id, "attendance_removed", removed)
			return e.out.Success(RemoveOutput{ID: id, AttendanceRemoved: removed})
		},
	}
}
