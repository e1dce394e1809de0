package bos

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bosgateway/internal/account"
	"bosgateway/internal/rebalance"
	"bosgateway/internal/report"
)

type recordedLog struct {
	mu    sync.Mutex
	infos []any
	warns []any
	errs  []any
}

func (l *recordedLog) Info(p any)  { l.mu.Lock(); l.infos = append(l.infos, p); l.mu.Unlock() }
func (l *recordedLog) Warn(p any)  { l.mu.Lock(); l.warns = append(l.warns, p); l.mu.Unlock() }
func (l *recordedLog) Error(p any) { l.mu.Lock(); l.errs = append(l.errs, p); l.mu.Unlock() }

func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a posix shell")
	}
	path := filepath.Join(t.TempDir(), "bos")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestRebalanceArgs(t *testing.T) {
	fee := int64(100)
	in := rebalance.Normalize(rebalance.Request{
		Avoid:        []string{"a", "b"},
		OutThrough:   strPtr("peerX"),
		MaxFee:       &fee,
		MaxRebalance: decPtr("250000"),
	})

	args := RebalanceArgs(in)
	assert.Equal(t, []string{
		"rebalance",
		"--avoid", "a", "--avoid", "b",
		"--out", "peerX",
		"--max-fee", "100",
		"--amount", "250000",
		"--minutes", "5",
	}, args)
}

func TestAccountingArgs(t *testing.T) {
	p := report.Build(report.Request{Category: strPtr("forwards"), Month: strPtr("3")}, report.Settings{})
	assert.Equal(t, []string{"accounting", "forwards", "--csv", "--rate-provider", "coingecko", "--month", "3"}, AccountingArgs(p))
}

func TestDispatchLine(t *testing.T) {
	log := &recordedLog{}

	_, ok := dispatchLine(`{"level":"warn","payload":{"note":"slow"}}`, log)
	assert.False(t, ok)
	_, ok = dispatchLine(`{"level":"error","payload":"boom"}`, log)
	assert.False(t, ok)
	_, ok = dispatchLine(`{"evaluating":["x"]}`, log)
	assert.False(t, ok)
	_, ok = dispatchLine("plain text", log)
	assert.False(t, ok)
	_, ok = dispatchLine("   ", log)
	assert.False(t, ok)

	raw, ok := dispatchLine(`{"rebalance":[{"a":1},{"b":2},{"c":3}]}`, log)
	require.True(t, ok)
	assert.Len(t, raw, 3)

	assert.Equal(t, []any{map[string]any{"note": "slow"}}, log.warns)
	assert.Equal(t, []any{"boom"}, log.errs)
	require.Len(t, log.infos, 2)
	assert.Equal(t, map[string]any{"evaluating": []any{"x"}}, log.infos[0])
	assert.Equal(t, "plain text", log.infos[1])
}

func TestRunnerRebalanceStreamsAndReturnsResult(t *testing.T) {
	bin := fakeBinary(t, `
echo '{"evaluating":["route 1"]}'
echo "probe failed" 1>&2
echo '{"rebalance":[5000,3000,"ok"]}'
`)
	fs := afero.NewMemMapFs()
	r := New(Options{Binary: bin, GracePeriod: 10 * time.Second}, zerolog.Nop())
	log := &recordedLog{}

	raw, err := r.Rebalance(context.Background(), account.Credentials{Socket: "node:10009"}, log, fs, rebalance.Normalize(rebalance.Request{}))
	require.NoError(t, err)
	assert.Equal(t, rebalance.RawResult{float64(5000), float64(3000), "ok"}, raw)
	assert.Equal(t, []any{"probe failed"}, log.warns)
	require.Len(t, log.infos, 1)
}

func TestRunnerRebalancePassesCredentials(t *testing.T) {
	bin := fakeBinary(t, `
echo "$BOS_LND_SOCKET"
echo "$BOS_LND_CERT"
echo "$BOS_LND_MACAROON"
`)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/creds/tls.cert", []byte("CERT"), 0o600))
	require.NoError(t, afero.WriteFile(fs, "/creds/admin.macaroon", []byte{0xde, 0xad}, 0o600))

	r := New(Options{Binary: bin}, zerolog.Nop())
	log := &recordedLog{}
	creds := account.Credentials{Socket: "node:10009", CertPath: "/creds/tls.cert", MacaroonPath: "/creds/admin.macaroon"}

	raw, err := r.Rebalance(context.Background(), creds, log, fs, rebalance.Normalize(rebalance.Request{}))
	require.NoError(t, err)
	assert.Nil(t, raw)
	assert.Equal(t, []any{"node:10009", base64.StdEncoding.EncodeToString([]byte("CERT")), hex.EncodeToString([]byte{0xde, 0xad})}, log.infos)
}

func TestRunnerRebalanceMissingCredentialFile(t *testing.T) {
	r := New(Options{Binary: "/nonexistent"}, zerolog.Nop())
	_, err := r.Rebalance(context.Background(), account.Credentials{CertPath: "/missing"}, &recordedLog{}, afero.NewMemMapFs(), rebalance.Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read tls cert")
}

func TestRunnerRebalanceExitError(t *testing.T) {
	bin := fakeBinary(t, `
echo "no route" 1>&2
exit 3
`)
	r := New(Options{Binary: bin}, zerolog.Nop())

	_, err := r.Rebalance(context.Background(), account.Credentials{}, &recordedLog{}, afero.NewMemMapFs(), rebalance.Params{TimeoutMinutes: 1})
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "no route", exitErr.Stderr)
}

func TestRunnerRebalanceOverlongLineFailsFast(t *testing.T) {
	bin := fakeBinary(t, `
head -c 2097152 /dev/zero | tr '\0' x
echo
echo '{"rebalance":[1,2,"ok"]}'
`)
	r := New(Options{Binary: bin, GracePeriod: time.Minute}, zerolog.Nop())

	start := time.Now()
	_, err := r.Rebalance(context.Background(), account.Credentials{}, &recordedLog{}, afero.NewMemMapFs(), rebalance.Params{TimeoutMinutes: 1})
	require.ErrorIs(t, err, bufio.ErrTooLong)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 30*time.Second)
}

func TestScanLinesDrainsAfterOverlongLine(t *testing.T) {
	input := strings.Repeat("x", maxLineBytes+10) + "\nnext\n"
	reader := strings.NewReader(input)

	var got []string
	err := scanLines(reader, func(line string) { got = append(got, line) })
	require.ErrorIs(t, err, bufio.ErrTooLong)
	assert.Empty(t, got)
	assert.Zero(t, reader.Len())
}

func TestRunnerRebalanceHonoursCancellation(t *testing.T) {
	bin := fakeBinary(t, "exec sleep 30\n")
	r := New(Options{Binary: bin}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := r.Rebalance(ctx, account.Credentials{}, &recordedLog{}, afero.NewMemMapFs(), rebalance.Params{TimeoutMinutes: 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunnerAccountingReport(t *testing.T) {
	bin := fakeBinary(t, `
echo "$@" 1>&2
printf 'date,amount\n2024-01-01,10\n'
`)
	r := New(Options{Binary: bin, Files: afero.NewMemMapFs()}, zerolog.Nop())

	out, err := r.AccountingReport(context.Background(), account.Credentials{}, zerolog.Nop(), report.Build(report.Request{}, report.Settings{}))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "date,amount\n"))
}

func strPtr(s string) *string { return &s }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
