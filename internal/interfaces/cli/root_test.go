package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/testutil"
	"github.com/turtacn/RegScan/pkg/errors"
)

// testEnv writes reference tables and a config file and returns the config path.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "ref/products.csv",
		"local_code,name,atc_code\nA100,Imatinib Mesylate,L01EA01\n")
	testutil.WriteFile(t, dir, "ref/atc.csv",
		"code,name\nL01,Antineoplastic agents\nL01E,Protein kinase inhibitors\nL01EA,BCR-ABL tyrosine kinase inhibitors\n")
	testutil.WriteFile(t, dir, "ref/exclusivity.csv", "name,expires\nNivolumab,2028-05-02\n")
	return testutil.WriteFile(t, dir, "regscan.yaml", `
log:
  level: error
reference:
  source: file
  dir: `+filepath.Join(dir, "ref")+`
  bridge:
    - {name: products, path: products.csv, precedence: 1}
  classification: atc.csv
  exclusivity: exclusivity.csv
sinks:
  postgres: false
  redis: false
`)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "regscan", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"run", "normalize", "bridge", "classify", "migrate", "version"} {
		assert.True(t, names[want], want)
	}
	for _, flag := range []string{"config", "output", "log-level", "reference-dir", "verbose", "timeout"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRoot_InvalidOutput(t *testing.T) {
	_, err := execute(t, "--config", testEnv(t), "-o", "yaml", "version")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestFormatTable(t *testing.T) {
	out := FormatTable([]string{"KEY", "TIER"}, [][]string{{"imatinib", "HIGH"}, {"ab", "LOW"}})
	assert.Equal(t, "KEY       TIER\n--------  ----\nimatinib  HIGH\nab        LOW\n", out)
	assert.Empty(t, FormatTable(nil, nil))
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "--config", testEnv(t), "-o", "json", "version")
	require.NoError(t, err)

	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestNormalizeCmd(t *testing.T) {
	out, err := execute(t, "--config", testEnv(t), "-o", "json", "normalize", "Imatinib Mesylate", "  ")
	require.NoError(t, err)

	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "imatinib", rows[0]["key"])
	assert.Equal(t, "", rows[1]["key"])
}

func TestBridgeCmds(t *testing.T) {
	cfg := testEnv(t)

	out, err := execute(t, "--config", cfg, "-o", "table", "bridge", "resolve", "A100")
	require.NoError(t, err)
	assert.Contains(t, out, "imatinib")
	assert.Contains(t, out, "L01EA01")

	_, err = execute(t, "--config", cfg, "bridge", "resolve", "A100", "Z999")
	assert.True(t, errors.IsCode(err, errors.ErrCodeBridgeNotFound))

	out, err = execute(t, "--config", cfg, "-o", "json", "bridge", "codes", "imatinib mesylate")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"key":"imatinib","code":"A100"}]`, out)

	_, err = execute(t, "--config", cfg, "bridge", "codes", "   ")
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestClassifyCmd(t *testing.T) {
	cfg := testEnv(t)

	out, err := execute(t, "--config", cfg, "-o", "json", "classify", "L01EA01")
	require.NoError(t, err)
	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "L01EA", rows[0]["code"])
	assert.Equal(t, "4", rows[0]["level"])
	assert.Equal(t, "L > L01 > L01E > L01EA", rows[0]["path"])

	_, err = execute(t, "--config", cfg, "classify", "Q99")
	assert.True(t, errors.IsCode(err, errors.ErrCodeClassificationNotFound))
}

func TestRunCmd(t *testing.T) {
	cfg := testEnv(t)
	facts := testutil.WriteFile(t, t.TempDir(), "facts.jsonl", strings.Join([]string{
		`{"source": "fda", "name": "Imatinib Mesylate", "approval_date": "2001-05-10", "status": "approved"}`,
		`{"source": "hira", "local_code": "A100", "reimbursement": {"state": "listed"}}`,
		`{"source": "nmpa", "name": "x"}`,
	}, "\n"))

	out, err := execute(t, "--config", cfg, "-o", "json", "run", "--facts", facts)
	require.NoError(t, err)

	var run substance.Run
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 2, run.Summary.Facts)
	assert.Equal(t, 1, run.Summary.Substances)
	require.Len(t, run.Assessments, 1)
	assert.Equal(t, substance.LabelReimbursed, run.Assessments[0].Impact.Label)

	out, err = execute(t, "--config", cfg, "-o", "table", "run", "--facts", facts)
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "already_reimbursed")

	out, err = execute(t, "--config", cfg, "run", "--facts", facts)
	require.NoError(t, err)
	assert.Contains(t, out, "substances=1")
}

func TestRunCmd_Failures(t *testing.T) {
	cfg := testEnv(t)

	_, err := execute(t, "--config", cfg, "run")
	assert.ErrorContains(t, err, "facts")

	_, err = execute(t, "--config", cfg, "run", "--facts", filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))

	bad := testutil.WriteFile(t, t.TempDir(), "bad.json", `[{"source": "nmpa", "name": "x"}]`)
	_, err = execute(t, "--config", cfg, "run", "--facts", bad)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFactInvalid))
}

type fakeMigrator struct {
	calls   []string
	version uint
}

func (f *fakeMigrator) Up(_, _ string) error {
	f.calls = append(f.calls, "up")
	f.version = 2
	return nil
}

func (f *fakeMigrator) Down(_, _ string, steps int) error {
	f.calls = append(f.calls, "down")
	f.version -= uint(steps)
	return nil
}

func (f *fakeMigrator) Status(_, path string) (uint, bool, error) {
	f.calls = append(f.calls, "status:"+path)
	return f.version, false, nil
}

func (f *fakeMigrator) Force(_, _ string, v int) error {
	f.calls = append(f.calls, "force")
	f.version = uint(v)
	return nil
}

func TestMigrateCmd(t *testing.T) {
	fake := &fakeMigrator{}
	orig := migrator
	migrator = fake
	t.Cleanup(func() { migrator = orig })
	cfg := testEnv(t)

	out, err := execute(t, "--config", cfg, "migrate", "up", "--path", "/srv/migrations")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 2 (clean) from file:///srv/migrations")

	out, err = execute(t, "--config", cfg, "-o", "json", "migrate", "down", "--steps", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"dirty":false,"path":"migrations"}`, out)

	_, err = execute(t, "--config", cfg, "migrate", "force", "x")
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))

	_, err = execute(t, "--config", cfg, "migrate", "force", "5")
	require.NoError(t, err)
	assert.Equal(t, []string{"up", "status:/srv/migrations", "down", "status:migrations", "force", "status:migrations"}, fake.calls)
}
