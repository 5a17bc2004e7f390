package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("METADATA_DB_PATH", filepath.Join(t.TempDir(), "meta.db"))

	cmd, cc := newRootCommand()
	defer cc.close()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRefreshCommand_EmptyStore(t *testing.T) {
	out, err := runCLI(t, "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "Attempted: 0 in 0 batches")
}

func TestRunsCommand_ListsCLIRun(t *testing.T) {
	t.Setenv("METADATA_DB_PATH", filepath.Join(t.TempDir(), "meta.db"))

	cmd, cc := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"refresh"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	cc.close()

	cmd, cc = newRootCommand()
	defer cc.close()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"runs", "-n", "5"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "cli")
	assert.Contains(t, out.String(), "1 of 1 runs")
}

func TestLookupCommand_RejectsUnknownKind(t *testing.T) {
	_, err := runCLI(t, "lookup", "set", "6020-1")
	require.Error(t, err)
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Condition", "Avg"}, [][]string{{"new", "0.25"}, {"used"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "Condition")
	assert.Contains(t, out, "0.25")
	assert.Empty(t, renderTable(nil, nil, nil))

	v := 1.5
	assert.Equal(t, "1.50", formatAmount(&v))
	assert.Equal(t, "-", formatAmount(nil))
}

func TestResolveCommand_RequiresSet(t *testing.T) {
	_, err := runCLI(t, "resolve", "Brick 2 x 4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set")
}
