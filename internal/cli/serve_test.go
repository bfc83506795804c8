package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdvertise replaces the mDNS announcer for one test.
func stubAdvertise(t *testing.T, fn func(instance string, port int, logger *slog.Logger) (func(), error)) {
	t.Helper()
	orig := advertise
	advertise = fn
	t.Cleanup(func() { advertise = orig })
}

func TestServe_AdvertisesAndWithdraws(t *testing.T) {
	type announcement struct {
		instance string
		port     int
	}
	announced := make(chan announcement, 1)
	withdrawn := make(chan struct{})
	stubAdvertise(t, func(instance string, port int, _ *slog.Logger) (func(), error) {
		announced <- announcement{instance, port}
		return func() { close(withdrawn) }, nil
	})

	cmd := NewServeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"--addr", "127.0.0.1:0",
		"--db", filepath.Join(t.TempDir(), "relay.db"),
		"--instance", "east",
		"--mdns",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	select {
	case a := <-announced:
		assert.Equal(t, "east", a.instance)
		assert.NotZero(t, a.port)
	case err := <-done:
		t.Fatalf("serve exited before advertising: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay was never advertised")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	select {
	case <-withdrawn:
	default:
		t.Fatal("advertisement was not withdrawn")
	}
}

func TestServe_WithoutMDNSDoesNotAdvertise(t *testing.T) {
	stubAdvertise(t, func(string, int, *slog.Logger) (func(), error) {
		t.Error("advertised without --mdns")
		return func() {}, nil
	})

	cmd := NewServeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--addr", "127.0.0.1:0", "--db", filepath.Join(t.TempDir(), "relay.db")})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, cmd.ExecuteContext(ctx))
}

func TestServe_AdvertiseFailure(t *testing.T) {
	stubAdvertise(t, func(string, int, *slog.Logger) (func(), error) {
		return nil, errors.New("no multicast interface")
	})

	cmd := NewServeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--addr", "127.0.0.1:0", "--db", filepath.Join(t.TempDir(), "relay.db"), "--mdns"})

	assert.Equal(t, ExitCommandError, GetExitCode(cmd.ExecuteContext(context.Background())))
}
