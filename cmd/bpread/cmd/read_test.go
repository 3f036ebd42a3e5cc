package cmd

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/bpread/internal/explore"
	"github.com/MeKo-Tech/bpread/internal/recognizer"
	"github.com/MeKo-Tech/bpread/internal/testutil"
)

func writeDisplay(t *testing.T, name string) (string, []byte) {
	t.Helper()
	data := testutil.EncodePNG(t, testutil.RenderDisplay(testutil.DefaultDisplayConfig()))
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, data
}

func TestReadCommandText(t *testing.T) {
	eng := useScriptedEngine(t, recognizer.Result{Text: "120/80 75", Confidence: 95})
	path, _ := writeDisplay(t, "display.png")

	stdout, _, err := executeCommand(t, nil, "read", path)
	require.NoError(t, err)

	assert.Contains(t, stdout, path+": 120/80 75")
	assert.Contains(t, stdout, "1 attempts")
	assert.Equal(t, 1, eng.Calls())
	assert.True(t, eng.Closed(), "read closes the recognizer when done")
}

func TestReadCommandJSON(t *testing.T) {
	useScriptedEngine(t, recognizer.Result{Text: "120/80 75", Confidence: 95})
	path, _ := writeDisplay(t, "display.png")

	stdout, _, err := executeCommand(t, nil, "read", path, "--format", "json", "--roi", "0,0,168,270")
	require.NoError(t, err)

	var outcomes []readOutcome
	require.NoError(t, json.Unmarshal([]byte(stdout), &outcomes))
	require.Len(t, outcomes, 1)
	assert.Equal(t, path, outcomes[0].Source)
	assert.Empty(t, outcomes[0].Error)
	require.NotNil(t, outcomes[0].Result)
	assert.Equal(t, explore.StopEarlyAccept, outcomes[0].Result.StopReason)
	require.NotNil(t, outcomes[0].Result.Vitals)
	assert.Equal(t, "120/80 75", outcomes[0].Result.Vitals.Summary())
}

func TestReadCommandCSVToFile(t *testing.T) {
	useScriptedEngine(t, recognizer.Result{Text: "120/80 75", Confidence: 95})
	path, _ := writeDisplay(t, "display.png")
	out := filepath.Join(t.TempDir(), "readings.csv")

	stdout, _, err := executeCommand(t, nil, "read", path, "--format", "csv", "--output", out)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, readCSVHeader, rows[0])
	assert.Equal(t, []string{"120", "80", "75"}, rows[1][1:4])
	assert.Equal(t, "1", rows[1][9])
}

func TestReadCommandStdin(t *testing.T) {
	useScriptedEngine(t, recognizer.Result{Text: "120/80 75", Confidence: 95})
	_, data := writeDisplay(t, "display.png")

	stdout, _, err := executeCommand(t, bytes.NewReader(data), "read", "-")
	require.NoError(t, err)
	assert.Contains(t, stdout, "-: 120/80 75")
}

func TestReadCommandDebugOut(t *testing.T) {
	useScriptedEngine(t, recognizer.Result{Text: "120/80 75", Confidence: 95})
	path, _ := writeDisplay(t, "morning.png")
	dir := filepath.Join(t.TempDir(), "debug")

	_, _, err := executeCommand(t, nil, "read", path, "--debug-out", dir)
	require.NoError(t, err)

	logs, err := filepath.Glob(filepath.Join(dir, "morning_*_attempts.csv"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	data, err := os.ReadFile(logs[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "120/80 75")

	rasters, err := filepath.Glob(filepath.Join(dir, "morning_*.png"))
	require.NoError(t, err)
	assert.NotEmpty(t, rasters)
}

func TestReadCommandErrors(t *testing.T) {
	useScriptedEngine(t, recognizer.Result{Text: "120/80 75", Confidence: 95})
	path, _ := writeDisplay(t, "display.png")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no images", []string{"read"}, "no input images"},
		{"bad format", []string{"read", path, "--format", "xml"}, "invalid output format"},
		{"bad roi", []string{"read", path, "--roi", "1,2,3"}, "invalid --roi"},
		{"missing file", []string{"read", filepath.Join(t.TempDir(), "nope.png")}, "1 of 1 image(s)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCommand(t, nil, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFormatReadText(t *testing.T) {
	tests := []struct {
		name string
		in   readOutcome
		want string
	}{
		{
			name: "error",
			in:   readOutcome{Source: "a.jpg", Error: "boom"},
			want: "a.jpg: error: boom",
		},
		{
			name: "no reading",
			in: readOutcome{Source: "b.jpg", Result: &explore.Result{
				ErrorCode: explore.ErrorPairNotFound, AttemptsRun: 24, TotalElapsedMs: 812,
			}},
			want: "b.jpg: no reading (BP_PAIR_NOT_FOUND, 24 attempts, 812 ms)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatReadText(tt.in))
		})
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "640_K_psm7", sanitizeName("640/K/psm7"))
	assert.Equal(t, "pre-process_1", sanitizeName("pre-process 1"))
	assert.False(t, strings.ContainsAny(sanitizeName("a/b\\c:d"), "/\\:"))
}
