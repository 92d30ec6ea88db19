// Package sandbox executes approved worker code inside a wazero WASI
// runtime with no ambient authority: no filesystem, no network, no
// environment, memory and wall-clock bounded, output size capped.
// Admission beyond the pool size queues FIFO with a timeout.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// ErrorKind classifies sandbox failures.
type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindOOM            ErrorKind = "oom"
	KindSignal         ErrorKind = "signal"
	KindExitNonzero    ErrorKind = "exit_nonzero"
	KindOutputTooLarge ErrorKind = "output_too_large"
	KindParseError     ErrorKind = "parse_error"
)

// ExecError is a structured sandbox failure.
type ExecError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("sandbox: %s: %s", e.Kind, e.Message)
}

// Quotas bound one execution.
type Quotas struct {
	TimeMS      int64 `json:"time_ms"`
	OutputBytes int64 `json:"output_bytes"`
}

// DefaultQuotas is the baseline execution budget.
func DefaultQuotas() Quotas {
	return Quotas{TimeMS: 5000, OutputBytes: 1 << 20}
}

// Result is a successful execution.
type Result struct {
	Output     []byte `json:"output"`
	Stderr     []byte `json:"stderr,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Config sizes the executor.
type Config struct {
	// PoolSize caps concurrent executions. Zero means 4.
	PoolSize int
	// AdmissionTimeout bounds the FIFO queue wait. Zero means 10s.
	AdmissionTimeout time.Duration
	// MemoryLimitBytes caps linear memory per module. Zero means 64MB.
	MemoryLimitBytes int64
}

// ErrAdmissionTimeout is returned when the pool stays full past the
// admission timeout.
var ErrAdmissionTimeout = errors.New("sandbox: admission queue timeout")

// Executor runs WASM modules under quota.
type Executor struct {
	runtime          wazero.Runtime
	slots            chan struct{}
	admissionTimeout time.Duration

	// run is the execution body behind admission. Test seam.
	run func(ctx context.Context, code []byte, entrypoint string, input []byte, quotas Quotas) (*Result, error)
}

// NewExecutor builds the runtime with deny-by-default WASI: stdio only,
// no filesystem mounts, no env, no random or clock host functions beyond
// the WASI defaults.
func NewExecutor(ctx context.Context, cfg Config) (*Executor, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.AdmissionTimeout <= 0 {
		cfg.AdmissionTimeout = 10 * time.Second
	}
	if cfg.MemoryLimitBytes <= 0 {
		cfg.MemoryLimitBytes = 64 << 20
	}

	pages := uint32(cfg.MemoryLimitBytes / 65536)
	if pages == 0 {
		pages = 1
	}
	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true)

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("sandbox: wasi instantiate: %w", err)
	}

	e := &Executor{
		runtime:          r,
		slots:            make(chan struct{}, cfg.PoolSize),
		admissionTimeout: cfg.AdmissionTimeout,
	}
	e.run = e.runModule
	return e, nil
}

// Execute admits the call into the pool and runs the module. code is the
// compiled WASM binary; entrypoint is the exported start function
// (empty means "_start").
func (e *Executor) Execute(ctx context.Context, code []byte, entrypoint string, input []byte, quotas Quotas) (*Result, error) {
	admission := time.NewTimer(e.admissionTimeout)
	defer admission.Stop()
	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	case <-admission.C:
		return nil, ErrAdmissionTimeout
	case <-ctx.Done():
		return nil, &ExecError{Kind: KindTimeout, Message: "cancelled while queued"}
	}
	return e.run(ctx, code, entrypoint, input, quotas)
}

func (e *Executor) runModule(ctx context.Context, code []byte, entrypoint string, input []byte, quotas Quotas) (*Result, error) {
	if entrypoint == "" {
		entrypoint = "_start"
	}
	if quotas.TimeMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(quotas.TimeMS)*time.Millisecond)
		defer cancel()
	}

	compiled, err := e.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, &ExecError{Kind: KindParseError, Message: err.Error()}
	}
	defer func() { _ = compiled.Close(ctx) }()

	stdout := newLimitWriter(quotas.OutputBytes)
	stderr := newLimitWriter(quotas.OutputBytes)
	modCfg := wazero.NewModuleConfig().
		WithName("mirror-worker").
		WithStartFunctions(entrypoint).
		WithStdin(bytes.NewReader(input)).
		WithStdout(stdout).
		WithStderr(stderr)

	start := time.Now()
	mod, err := e.runtime.InstantiateModule(ctx, compiled, modCfg)
	duration := time.Since(start).Milliseconds()
	if mod != nil {
		defer func() { _ = mod.Close(ctx) }()
	}
	if err != nil {
		var exit *sys.ExitError
		if !errors.As(err, &exit) || exit.ExitCode() != 0 {
			return nil, classify(ctx, err, stdout, stderr)
		}
		// proc_exit(0) surfaces as an ExitError but is a clean finish.
	}
	if stdout.overflowed || stderr.overflowed {
		return nil, &ExecError{Kind: KindOutputTooLarge,
			Message: fmt.Sprintf("output exceeded %d bytes", quotas.OutputBytes)}
	}
	return &Result{
		Output:     stdout.bytes(),
		Stderr:     stderr.bytes(),
		DurationMS: duration,
	}, nil
}

// Close releases the runtime.
func (e *Executor) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

func classify(ctx context.Context, err error, stdout, stderr *limitWriter) *ExecError {
	if stdout.overflowed || stderr.overflowed {
		return &ExecError{Kind: KindOutputTooLarge, Message: "output quota exceeded"}
	}
	if ctx.Err() != nil {
		return &ExecError{Kind: KindTimeout, Message: "wall-clock quota exceeded"}
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		return &ExecError{Kind: KindExitNonzero,
			Message: fmt.Sprintf("exit code %d", exit.ExitCode())}
	}
	msg := err.Error()
	if strings.Contains(msg, "out of memory") || strings.Contains(msg, "memory") {
		return &ExecError{Kind: KindOOM, Message: msg}
	}
	return &ExecError{Kind: KindSignal, Message: msg}
}

// limitWriter buffers up to limit bytes and flags overflow instead of
// growing without bound.
type limitWriter struct {
	buf        bytes.Buffer
	limit      int64
	overflowed bool
}

func newLimitWriter(limit int64) *limitWriter {
	if limit <= 0 {
		limit = 1 << 20
	}
	return &limitWriter{limit: limit}
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if int64(w.buf.Len())+int64(len(p)) > w.limit {
		w.overflowed = true
		return 0, io.ErrShortWrite
	}
	return w.buf.Write(p)
}

func (w *limitWriter) bytes() []byte {
	return w.buf.Bytes()
}
