// Package bos runs the balanceofsatoshis command line as the external
// rebalance and accounting operation.
package bos

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"bosgateway/internal/account"
	"bosgateway/internal/progress"
	"bosgateway/internal/rebalance"
	"bosgateway/internal/report"
)

const (
	envSocket   = "BOS_LND_SOCKET"
	envCert     = "BOS_LND_CERT"
	envMacaroon = "BOS_LND_MACAROON"

	stderrTailLines = 20
	maxLineBytes    = 1 << 20
)

// Options parameterise the runner.
type Options struct {
	Binary        string
	GracePeriod   time.Duration
	ReportTimeout time.Duration
	Env           []string
	// Files is used for credential reads on the report path.
	Files afero.Fs
}

// Runner executes bos subcommands.
type Runner struct {
	opts   Options
	logger zerolog.Logger
}

// ExitError reports a non-zero exit of the bos process.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("bos %s exited with code %d", e.Command, e.Code)
	}
	return fmt.Sprintf("bos %s exited with code %d: %s", e.Command, e.Code, e.Stderr)
}

// New constructs a runner.
func New(opts Options, logger zerolog.Logger) *Runner {
	if opts.Binary == "" {
		opts.Binary = "bos"
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = time.Minute
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = 10 * time.Minute
	}
	if opts.Files == nil {
		opts.Files = afero.NewReadOnlyFs(afero.NewOsFs())
	}
	return &Runner{opts: opts, logger: logger.With().Str("component", "bos_runner").Logger()}
}

// Rebalance runs `bos rebalance` and streams its output into log.
func (r *Runner) Rebalance(ctx context.Context, creds account.Credentials, log progress.Logger, files afero.Fs, params rebalance.Params) (rebalance.RawResult, error) {
	env, err := credentialEnv(files, creds)
	if err != nil {
		return nil, err
	}

	timeout := r.opts.GracePeriod
	if params.TimeoutMinutes > 0 {
		timeout += time.Duration(params.TimeoutMinutes) * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := r.command(ctx, env, RebalanceArgs(params))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bos rebalance stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("bos rebalance stderr: %w", err)
	}

	r.logger.Info().Str("node", creds.Name).Dur("timeout", timeout).Msg("starting bos rebalance")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start bos rebalance: %w", err)
	}

	tail := newTail(stderrTailLines)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := scanLines(stderr, func(line string) {
			tail.add(line)
			log.Warn(line)
		})
		if err != nil {
			r.logger.Warn().Err(err).Msg("stopped reading bos stderr")
		}
	}()

	var result rebalance.RawResult
	readErr := scanLines(stdout, func(line string) {
		if raw, ok := dispatchLine(line, log); ok {
			result = raw
		}
	})
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return nil, r.waitError(ctx, "rebalance", err, tail.String())
	}
	if readErr != nil {
		return nil, fmt.Errorf("read bos output: %w", readErr)
	}
	return result, nil
}

// AccountingReport runs `bos accounting` and returns its stdout.
func (r *Runner) AccountingReport(ctx context.Context, creds account.Credentials, logger zerolog.Logger, params report.Params) (string, error) {
	env, err := credentialEnv(r.opts.Files, creds)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.ReportTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := r.command(ctx, env, AccountingArgs(params))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", r.waitError(ctx, "accounting", err, lastLines(stderr.String(), stderrTailLines))
	}

	_ = scanLines(&stderr, func(line string) {
		logger.Warn().Str("source", "bos").Msg(line)
	})
	return stdout.String(), nil
}

func (r *Runner) command(ctx context.Context, env []string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.opts.Binary, args...)
	cmd.Env = append(append(os.Environ(), r.opts.Env...), env...)
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

func (r *Runner) waitError(ctx context.Context, command string, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("bos %s: %w", command, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: command, Code: exitErr.ExitCode(), Stderr: stderr}
	}
	return fmt.Errorf("bos %s: %w", command, err)
}

// RebalanceArgs renders normalized params as bos flags.
func RebalanceArgs(p rebalance.Params) []string {
	args := []string{"rebalance"}
	for _, avoid := range p.Avoid {
		args = append(args, "--avoid", avoid)
	}
	if p.InThrough != "" {
		args = append(args, "--in", p.InThrough)
	}
	if p.OutThrough != "" {
		args = append(args, "--out", p.OutThrough)
	}
	if p.Node != "" {
		args = append(args, "--node", p.Node)
	}
	if p.MaxFee != nil {
		args = append(args, "--max-fee", fmt.Sprint(*p.MaxFee))
	}
	if p.MaxFeeRate != nil {
		args = append(args, "--max-fee-rate", fmt.Sprint(*p.MaxFeeRate))
	}
	if p.MaxRebalance != "" {
		args = append(args, "--amount", p.MaxRebalance)
	}
	if p.OutInbound != "" {
		args = append(args, "--out-inbound", p.OutInbound)
	}
	args = append(args, "--minutes", fmt.Sprint(p.TimeoutMinutes))
	return args
}

// AccountingArgs renders report params as bos flags.
func AccountingArgs(p report.Params) []string {
	args := []string{"accounting"}
	if p.Category != nil && *p.Category != "" {
		args = append(args, *p.Category)
	}
	if p.IsCSV {
		args = append(args, "--csv")
	}
	args = append(args, "--rate-provider", p.RateProvider)
	for _, f := range []struct {
		flag  string
		value *string
	}{
		{"--currency", p.Currency},
		{"--fiat", p.Fiat},
		{"--month", p.Month},
		{"--year", p.Year},
	} {
		if f.value != nil && *f.value != "" {
			args = append(args, f.flag, *f.value)
		}
	}
	return args
}

// dispatchLine routes one stdout line. It returns the raw result when the
// line carries one.
func dispatchLine(line string, log progress.Logger) (rebalance.RawResult, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, false
	}

	if strings.HasPrefix(trimmed, "{") {
		var record map[string]any
		if err := json.Unmarshal([]byte(trimmed), &record); err == nil {
			if raw, ok := record["rebalance"].([]any); ok {
				return rebalance.RawResult(raw), true
			}
			if level, ok := record["level"].(string); ok {
				if payload, ok := record["payload"]; ok {
					switch progress.Level(level) {
					case progress.LevelWarn:
						log.Warn(payload)
						return nil, false
					case progress.LevelError:
						log.Error(payload)
						return nil, false
					case progress.LevelInfo:
						log.Info(payload)
						return nil, false
					}
				}
			}
			log.Info(record)
			return nil, false
		}
	}

	log.Info(line)
	return nil, false
}

func credentialEnv(files afero.Fs, creds account.Credentials) ([]string, error) {
	env := []string{envSocket + "=" + creds.Socket}
	if creds.CertPath != "" {
		cert, err := afero.ReadFile(files, creds.CertPath)
		if err != nil {
			return nil, fmt.Errorf("read tls cert: %w", err)
		}
		env = append(env, envCert+"="+base64.StdEncoding.EncodeToString(cert))
	}
	if creds.MacaroonPath != "" {
		mac, err := afero.ReadFile(files, creds.MacaroonPath)
		if err != nil {
			return nil, fmt.Errorf("read macaroon: %w", err)
		}
		env = append(env, envMacaroon+"="+hex.EncodeToString(mac))
	}
	return env, nil
}

// scanLines calls fn per line. On a read error (a line over maxLineBytes)
// the rest of r is discarded so the writer never blocks on a full pipe.
func scanLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

type tail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newTail(max int) *tail {
	return &tail{max: max}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
