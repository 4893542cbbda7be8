package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/robert-malhotra/h5coro/internal/h5test"
)

func testFile(t *testing.T) string {
	t.Helper()
	b := h5test.New(2)
	vals := b.Dataset(h5test.Int(4, true), []uint64{3, 2}, b.Data(h5test.LE[int32](1, 2, 3, 4, 5, 6)))
	sub := b.Group(h5test.HardLink("vals", vals))
	return b.WriteFile(t, b.Group(h5test.HardLink("g", sub), h5test.SoftLink("link", "/g/vals")))
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRunReadYAML(t *testing.T) {
	path := testFile(t)
	code, out, stderr := runCLI(t, "--col", "1", path, "/g/vals")
	require.Equal(t, 0, code, stderr)

	var rec struct {
		Path   string `yaml:"path"`
		Values []int  `yaml:"values"`
		Meta   struct {
			NumRows uint64 `yaml:"numrows"`
		} `yaml:"meta"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "/g/vals", rec.Path)
	assert.Equal(t, []int{2, 4, 6}, rec.Values)
}

func TestRunParallelText(t *testing.T) {
	path := testFile(t)
	code, out, _ := runCLI(t, "--parallel", "-o", "text", "--num", "1", path, "/g/vals", "/link")
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "/g/vals "), lines[0])
	assert.Contains(t, lines[1], "[1 2]")
}

func TestRunWalk(t *testing.T) {
	path := testFile(t)
	code, out, _ := runCLI(t, "--walk", "-o", "text", path)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "/g/vals [dataset]")
	assert.Contains(t, out, "/link [softlink] -> /g/vals")
}

func TestRunErrors(t *testing.T) {
	path := testFile(t)

	code, out, stderr := runCLI(t, path, "/nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "PathNotFound")
	assert.Contains(t, stderr, "read failed")

	code, _, _ = runCLI(t, path)
	assert.Equal(t, 2, code)

	code, _, _ = runCLI(t, "-o", "xml", path, "/g/vals")
	assert.Equal(t, 2, code)

	code, _, stderr = runCLI(t, path+".missing", "/g/vals")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "ResourceNotFound")
}

func TestRunStats(t *testing.T) {
	path := testFile(t)
	code, out, _ := runCLI(t, "--meta", "--stats", path, "/g/vals")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "cache:")
	assert.NotContains(t, out, "values:")
}

func TestRunLogLevelFlag(t *testing.T) {
	path := testFile(t)
	code, _, stderr := runCLI(t, "--log-level", "debug", "--parallel", path, "/g/vals")
	require.Equal(t, 0, code)
	assert.Contains(t, stderr, "batch finished")

	code, _, _ = runCLI(t, "--log-level", "loud", path, "/g/vals")
	assert.Equal(t, 2, code)
}
