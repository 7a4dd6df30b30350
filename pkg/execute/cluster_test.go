package execute

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterRunSubmitsScript(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "result.txt")
	j := makeJob(t, "printf data > {output}", out)

	// "sh -x" stands in for a blocking submitter: it executes the script
	// and propagates its exit status, just like sbatch --wait would.
	c := &Cluster{
		SubmitCmd: "/bin/sh -x",
		ScriptDir: filepath.Join(dir, "scripts"),
		Local:     Local{LogDir: filepath.Join(dir, "logs")},
	}

	require.NoError(t, c.Run(context.Background(), j, 2))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	// Scripts are removed after submission.
	entries, err := os.ReadDir(c.ScriptDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClusterRunPropagatesFailure(t *testing.T) {
	dir := t.TempDir()
	j := makeJob(t, "exit 7", filepath.Join(dir, "result.txt"))

	c := &Cluster{
		SubmitCmd: "/bin/sh",
		ScriptDir: filepath.Join(dir, "scripts"),
		Local:     Local{LogDir: filepath.Join(dir, "logs")},
	}

	err := c.Run(context.Background(), j, 1)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 7, execErr.ExitCode)
}

func TestClusterRunRequiresSubmitCmd(t *testing.T) {
	j := makeJob(t, "true", filepath.Join(t.TempDir(), "out.txt"))
	c := &Cluster{}
	require.Error(t, c.Run(context.Background(), j, 1))
}
