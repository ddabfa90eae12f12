package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datawrangler/internal/domain"
)

const peopleCSV = "age,city\n10,a\n,b\n20,a\n30,b\n,a\n40,b\n50,a\n60,b\n"

// executeCmd runs a fresh root command with an isolated state database.
func executeCmd(t *testing.T, stateDB string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd := newRootCmd()
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--state-db", stateDB, "--env-file", ""}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()
	stateDB := filepath.Join(t.TempDir(), "state.sqlite")

	out, err := executeCmd(t, stateDB, "version")
	require.NoError(t, err)
	assert.Equal(t, "wrangler version dev (commit: none)\n", out)

	out, err = executeCmd(t, stateDB, "-o", "json", "version")
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]string{"version": "dev", "commit": "none"}, got)
}

func TestOutputFormat_Set(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    outputFormat
		wantErr bool
	}{
		{"table", outputTable, false},
		{"json", outputJSON, false},
		{"yaml", outputTable, true},
		{"", outputTable, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			f := outputTable
			err := f.Set(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unsupported output format")
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, f)
		})
	}
}

func TestCLI_InvalidOutputFlag(t *testing.T) {
	t.Parallel()
	_, err := executeCmd(t, filepath.Join(t.TempDir(), "state.sqlite"), "-o", "yaml", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestCLI_MissingArgs(t *testing.T) {
	t.Parallel()

	stateDB := filepath.Join(t.TempDir(), "state.sqlite")
	for _, args := range [][]string{
		{"run"},
		{"recover"},
		{"profile"},
		{"candidates"},
		{"runs", "show"},
		{"runs", "history"},
		{"runs", "archive"},
		{"runs", "delete"},
	} {
		_, err := executeCmd(t, stateDB, args...)
		require.Error(t, err, "args %v", args)
		assert.Contains(t, err.Error(), "arg(s)", "args %v", args)
	}
}

func TestPrintError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		output     string
		err        error
		wantStdout map[string]interface{}
		wantStderr string
	}{
		{
			name:       "table output goes to stderr",
			output:     "table",
			err:        errors.New("boom"),
			wantStderr: "Error: boom\n",
		},
		{
			name:   "json with stage and code",
			output: "json",
			err:    domain.ErrValidation("row count changed").WithCode("row_count"),
			wantStdout: map[string]interface{}{
				"error": "validation [row_count]: row count changed",
				"stage": "validation",
				"code":  "row_count",
			},
		},
		{
			name:   "json not found",
			output: "json",
			err:    domain.ErrNotFound("pipeline run %s not found", "r1"),
			wantStdout: map[string]interface{}{
				"error": "pipeline run r1 not found",
				"code":  "not_found",
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr bytes.Buffer
			printError(&stdout, &stderr, tc.output, tc.err)

			assert.Equal(t, tc.wantStderr, stderr.String())
			if tc.wantStdout == nil {
				assert.Empty(t, stdout.String())
				return
			}
			var got map[string]interface{}
			require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
			assert.Equal(t, tc.wantStdout, got)
		})
	}
}

func TestPrintTable(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, printTable(&buf, []string{"id", "type"}, [][]string{
		{"a", "fill_missing"},
		{"long-id", "normalize"},
	}))
	assert.Equal(t, "ID       TYPE\na        fill_missing\nlong-id  normalize\n", buf.String())
}

func TestRunsCmd_EmptyStore(t *testing.T) {
	t.Parallel()
	stateDB := filepath.Join(t.TempDir(), "state.sqlite")

	out, err := executeCmd(t, stateDB, "-o", "json", "runs", "list")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, err = executeCmd(t, stateDB, "runs", "show", "missing")
	require.Error(t, err)
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = executeCmd(t, stateDB, "runs", "list", "--step", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestRunCmd_EndToEnd(t *testing.T) {
	t.Parallel()
	stateDB := filepath.Join(t.TempDir(), "state.sqlite")
	source := writeCSV(t, peopleCSV)
	outPath := filepath.Join(t.TempDir(), "clean.csv")

	out, err := executeCmd(t, stateDB, "-o", "json", "run", source, "--top-k", "3", "--write-output", outPath)
	require.NoError(t, err)

	var res runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotEmpty(t, res.RunID)
	assert.Equal(t, source, res.Source)
	assert.NotEmpty(t, res.Report.Ranked)
	assert.LessOrEqual(t, len(res.Report.Ranked), 3)
	for i, r := range res.Report.Ranked {
		assert.Equal(t, i+1, r.Rank)
	}
	assert.Equal(t, "best", res.Report.ApplyMode)
	assert.FileExists(t, outPath)

	// The finished run is listed and has a full history.
	out, err = executeCmd(t, stateDB, "-o", "json", "runs", "list")
	require.NoError(t, err)
	var runs []domain.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)
	assert.Equal(t, domain.StepDone, runs[0].CurrentStep)

	out, err = executeCmd(t, stateDB, "-o", "json", "runs", "history", res.RunID)
	require.NoError(t, err)
	var hist []domain.StateTransition
	require.NoError(t, json.Unmarshal([]byte(out), &hist))
	require.NotEmpty(t, hist)
	assert.Equal(t, domain.StepDone, hist[len(hist)-1].To)

	// Recovering a finished run rebuilds the same ranking.
	out, err = executeCmd(t, stateDB, "-o", "json", "recover", res.RunID, "--top-k", "3")
	require.NoError(t, err)
	var rec runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, res.RunID, rec.RunID)
	assert.Len(t, rec.Report.Ranked, len(res.Report.Ranked))

	out, err = executeCmd(t, stateDB, "runs", "archive", res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "Run "+res.RunID+" archived.\n", out)

	out, err = executeCmd(t, stateDB, "-o", "json", "runs", "list")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, err = executeCmd(t, stateDB, "runs", "delete", res.RunID)
	require.NoError(t, err)
	_, err = executeCmd(t, stateDB, "runs", "show", res.RunID)
	require.Error(t, err)
}

func TestRunCmd_TableOutput(t *testing.T) {
	t.Parallel()
	stateDB := filepath.Join(t.TempDir(), "state.sqlite")

	out, err := executeCmd(t, stateDB, "run", writeCSV(t, peopleCSV))
	require.NoError(t, err)
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, "REASONING")
	assert.Contains(t, out, "apply:")
}

func TestRunCmd_InvalidOverrides(t *testing.T) {
	t.Parallel()
	stateDB := filepath.Join(t.TempDir(), "state.sqlite")

	_, err := executeCmd(t, stateDB, "run", "data.csv", "--policy", "random")
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.StageConfig, derr.Stage)
}

func TestProfileAndCandidatesCmd(t *testing.T) {
	t.Parallel()
	stateDB := filepath.Join(t.TempDir(), "state.sqlite")
	source := writeCSV(t, peopleCSV)

	out, err := executeCmd(t, stateDB, "-o", "json", "profile", source)
	require.NoError(t, err)
	var prof domain.DataProfile
	require.NoError(t, json.Unmarshal([]byte(out), &prof))
	assert.Equal(t, 8, prof.RowCount)
	assert.Equal(t, 2, prof.ColumnCount)
	age, ok := prof.Column("age")
	require.True(t, ok)
	assert.Equal(t, 2, age.NullCount)

	out, err = executeCmd(t, stateDB, "profile", source)
	require.NoError(t, err)
	assert.Contains(t, out, "COLUMN")
	assert.Contains(t, out, "duplicate rows:")

	out, err = executeCmd(t, stateDB, "-o", "json", "candidates", source)
	require.NoError(t, err)
	var ts []domain.Transformation
	require.NoError(t, json.Unmarshal([]byte(out), &ts))
	require.NotEmpty(t, ts)
	for _, tr := range ts {
		assert.NotEmpty(t, tr.ID)
	}
}

func TestMetricsRouter(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	srv := httptest.NewServer(newMetricsRouter(reg))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRunScheduler_StopsOnCancel(t *testing.T) {
	t.Parallel()
	opts := &rootOptions{output: outputTable}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	cfg.State.DBPath = filepath.Join(t.TempDir(), "state.sqlite")
	cfg.Metrics.Addr = "127.0.0.1:0"

	cmd := newRootCmd()
	cmd.SetErr(io.Discard)
	s, err := opts.open(context.Background(), cmd, cfg)
	require.NoError(t, err)
	t.Cleanup(s.close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, runScheduler(ctx, s))
}
