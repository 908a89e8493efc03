package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type runResult struct {
	code   int
	stdout string
	stderr string
}

// writeConfig writes a config for a dimension-3 UTC station whose database
// lives in a fresh temp dir, and returns the config path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`station: test-station
storage:
  path: %s
embedding:
  dimension: 3
match:
  tolerance: 0.6
  workers: 2
timezone: UTC
%s`, filepath.Join(dir, "rollcall.db"), extra)
	path := filepath.Join(dir, "rollcall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, stdin string, args ...string) runResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return runResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// runJSON runs a command with --format json and decodes the envelope.
func runJSON(t *testing.T, cfg string, args ...string) (int, CLIResponse, map[string]any) {
	t.Helper()
	args = append([]string{"--config", cfg, "--format", "json"}, args...)
	res := run(t, "", args...)

	var envelope struct {
		CLIResponse
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &envelope), "stdout: %s\nstderr: %s", res.stdout, res.stderr)
	return res.code, envelope.CLIResponse, envelope.Data
}
