package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (stdout, stderr *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := Stdout, Stderr
	Stdout, Stderr = stdout, stderr
	t.Cleanup(func() { Stdout, Stderr = prevOut, prevErr })
	return stdout, stderr
}

func TestStatusLines(t *testing.T) {
	stdout, stderr := capture(t)

	Success("Created %d items", 5)
	Info("Processing %d of %d", 1, 2)
	Warn("Disk usage is %d%%", 95)
	Error("Failed to reach %s", "server")

	out := stdout.String()
	assert.Contains(t, out, "✓ Created 5 items")
	assert.Contains(t, out, "Processing 1 of 2")
	assert.Contains(t, out, "⚠ Disk usage is 95%")
	assert.NotContains(t, out, "Failed")
	assert.Equal(t, "✗ Failed to reach server\n", stderr.String())
}

func TestJSON_Indented(t *testing.T) {
	stdout, _ := capture(t)

	require.NoError(t, JSON(map[string]any{"site": map[string]any{"views": 3}}))

	assert.Contains(t, stdout.String(), "  \"site\":")
	var parsed map[string]map[string]float64
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &parsed))
	assert.Equal(t, float64(3), parsed["site"]["views"])
}

func TestTable_Render(t *testing.T) {
	stdout, _ := capture(t)

	table := NewTable("Path", "Views")
	table.AddRow("/", 120)
	table.AddRow("/pricing/enterprise", 7)
	table.Render()

	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "Path                 Views"))
	assert.Contains(t, lines[1], strings.Repeat("-", len("/pricing/enterprise")))
	assert.True(t, strings.HasPrefix(lines[2], "/                    120"))
	assert.True(t, strings.HasPrefix(lines[3], "/pricing/enterprise  7"))
}

func TestTable_Render_Empty(t *testing.T) {
	stdout, _ := capture(t)

	NewTable("Name", "Status").Render()

	assert.Contains(t, stdout.String(), "Name")
	assert.Contains(t, stdout.String(), "------")
}
