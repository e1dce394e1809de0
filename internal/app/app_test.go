package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bosgateway/internal/account"
	"bosgateway/internal/config"
	"bosgateway/internal/live"
	"bosgateway/internal/rebalance"
	"bosgateway/internal/report"
	"bosgateway/internal/service"
)

func fakeBos(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a posix shell")
	}
	path := filepath.Join(t.TempDir(), "bos")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func newTestApp(t *testing.T, binary string) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		Accounts: []account.Config{{UserID: "alice", Name: "alice-node", Socket: "10.0.0.1:10009"}},
		Bos:      config.BosConfig{Binary: binary, GracePeriod: 10 * time.Second, ReportTimeout: 10 * time.Second},
		Report:   config.ReportConfig{RateProvider: "coingecko"},
		Live:     config.LiveConfig{Backend: config.BackendLocal, QueueSize: 8},
	}
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func readEvents(t *testing.T, out *bytes.Buffer) []live.Event {
	t.Helper()
	var events []live.Event
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var ev live.Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
		events = append(events, ev)
	}
	return events
}

func TestParamsPrintsNormalized(t *testing.T) {
	a, out := newTestApp(t, "bos")
	zero := decimal.Zero
	fee := int64(-1)

	require.NoError(t, a.Params(rebalance.Request{OutInbound: &zero, MaxFee: &fee}))

	var params map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &params))
	assert.Equal(t, map[string]any{"out_channels": []any{}, "timeout_minutes": float64(5)}, params)
}

func TestRunRebalancePrintsProgressAndResult(t *testing.T) {
	bin := fakeBos(t, `
printf '%s\n' '{"evaluating":["\u001b[1mpeer\u001b[0m"]}'
echo '{"rebalance":[{"in":1},{"out":2},"done"]}'
`)
	a, out := newTestApp(t, bin)

	require.NoError(t, a.RunRebalance(context.Background(), RebalanceOptions{UserID: "alice"}))

	events := readEvents(t, out)
	require.Len(t, events, 2)
	assert.Equal(t, "rebalance", events[0].Event)
	assert.Equal(t, map[string]any{"evaluating": []any{"peer"}}, events[0].Payload)
	assert.Equal(t, resultEvent, events[1].Event)
	assert.Equal(t, map[string]any{"increase": map[string]any{"in": float64(1)}, "decrease": map[string]any{"out": float64(2)}, "result": "done"}, events[1].Payload)
}

func TestRunRebalanceFailures(t *testing.T) {
	bin := fakeBos(t, "echo 'no route' 1>&2\nexit 2\n")
	a, _ := newTestApp(t, bin)

	err := a.RunRebalance(context.Background(), RebalanceOptions{UserID: "mallory"})
	require.ErrorIs(t, err, service.ErrAccountNotFound)

	err = a.RunRebalance(context.Background(), RebalanceOptions{UserID: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rebalance failed")
	assert.Contains(t, err.Error(), "no route")
}

func TestReportToOutAndFile(t *testing.T) {
	bin := fakeBos(t, "printf 'date,amount\\n'\n")
	a, out := newTestApp(t, bin)
	category := "forwards"

	require.NoError(t, a.Report(context.Background(), ReportOptions{UserID: "alice", Request: report.Request{Category: &category}}))
	assert.Equal(t, "date,amount\n", out.String())

	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, a.Report(context.Background(), ReportOptions{UserID: "alice", Output: path}))
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "date,amount\n", string(body))
}

func TestShowJobsNeedsDatabase(t *testing.T) {
	a, _ := newTestApp(t, "bos")
	err := a.ShowJobs(context.Background(), JobsOptions{Limit: 5})
	assert.True(t, errors.Is(err, errNoDatabase))
}

func TestFilesAreReadOnlyAndRooted(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "tls.cert"), []byte("CERT"), 0o600))

	a, _ := newTestApp(t, "bos")
	a.Config.Bos.FilesRoot = root
	fs := a.files()

	body, err := afero.ReadFile(fs, "/tls.cert")
	require.NoError(t, err)
	assert.Equal(t, "CERT", string(body))
	assert.Error(t, afero.WriteFile(fs, "/other", []byte("x"), 0o600))
}
