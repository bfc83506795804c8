package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError(t *testing.T) {
	err := NewExitError(ExitCommandError, "database not found")
	assert.Equal(t, "database not found", err.Error())
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	cause := errors.New("disk full")
	wrapped := WrapExitError(ExitFailure, "append failed", cause)
	assert.Equal(t, "append failed: disk full", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)

	outer := fmt.Errorf("serve: %w", NewExitError(ExitCommandError, "bad addr"))
	assert.Equal(t, ExitCommandError, GetExitCode(outer))

	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestOutputFormatter_SuccessJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Success(map[string]int{"ops": 3}, nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"ops": float64(3)}, resp.Data)
}

func TestOutputFormatter_SuccessText(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success("plain", nil))
	require.NoError(t, f.Success(nil, func(w io.Writer) { fmt.Fprintln(w, "custom") }))
	assert.Equal(t, "plain\ncustom\n", buf.String())
}

func TestOutputFormatter_Failure(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Failure("DIVERGED", "replicas diverged", []string{"b1"}, nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "DIVERGED", resp.Error.Code)
	assert.Equal(t, []any{"b1"}, resp.Data)
}

func TestOutputFormatter_Error(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}
	require.NoError(t, f.Error("C001", "read config", "no such file"))
	assert.Equal(t, "Error [C001]: read config\nDetails: no such file\n", buf.String())

	buf.Reset()
	f.Verbose = false
	require.NoError(t, f.Error("C001", "read config", "no such file"))
	assert.Equal(t, "Error [C001]: read config\n", buf.String())
}
