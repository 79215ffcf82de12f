package classlab

import (
	"context"
	"sync"
	"time"

	"github.com/classlab/classlab/logger"
)

// ExecResult is the outcome of running code in a prepared sandbox.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// SandboxRunner is the lifecycle contract of the execution backend:
// prepare a per-session environment, execute code in it with optional
// stdin, and tear it down. The backend's internals are out of scope here.
type SandboxRunner interface {
	Prepare(ctx context.Context, sessionID string) error
	Execute(ctx context.Context, sessionID, code, stdin string) (*ExecResult, error)
	Cleanup(ctx context.Context, sessionID string) error
}

// SandboxOrchestrator warms the execution backend ahead of a session's
// first run. PrepareForSession is idempotent and meant to be invoked
// fire-and-forget: callers never wait on it, no caller cancellation
// reaches it, and the orchestrator imposes its own deadline.
type SandboxOrchestrator struct {
	runner  SandboxRunner
	timeout time.Duration
	logger  logger.Logger

	mu    sync.Mutex
	tasks map[string]*warmUpTask
}

type warmUpTask struct {
	done chan struct{}
	err  error
}

// OrchestratorOption configures a SandboxOrchestrator.
type OrchestratorOption func(*SandboxOrchestrator)

func WithOrchestratorLogger(l logger.Logger) OrchestratorOption {
	return func(o *SandboxOrchestrator) { o.logger = l }
}

// WithWarmUpTimeout bounds a single preparation attempt.
func WithWarmUpTimeout(d time.Duration) OrchestratorOption {
	return func(o *SandboxOrchestrator) { o.timeout = d }
}

func NewSandboxOrchestrator(runner SandboxRunner, opts ...OrchestratorOption) *SandboxOrchestrator {
	o := &SandboxOrchestrator{
		runner:  runner,
		timeout: 30 * time.Second,
		logger:  logger.NewNullLogger(),
		tasks:   make(map[string]*warmUpTask),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PrepareForSession warms the sandbox for the session in a detached
// goroutine and returns a completion signal that closes when the attempt
// finishes. Repeated calls for the same session share one attempt instead
// of double-provisioning; only after a failed attempt does a new call
// start another. Failures are logged here and never reach a caller.
func (o *SandboxOrchestrator) PrepareForSession(sessionID string) <-chan struct{} {
	o.mu.Lock()
	if t, ok := o.tasks[sessionID]; ok {
		select {
		case <-t.done:
			if t.err == nil {
				o.mu.Unlock()
				return t.done
			}
			// previous attempt failed, start over
		default:
			o.mu.Unlock()
			return t.done
		}
	}
	t := &warmUpTask{done: make(chan struct{})}
	o.tasks[sessionID] = t
	o.mu.Unlock()

	go o.run(sessionID, t)
	return t.done
}

// run executes one warm-up attempt on a background context so that a
// request cancellation cannot interrupt provisioning and vice versa.
func (o *SandboxOrchestrator) run(sessionID string, t *warmUpTask) {
	defer close(t.done)
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.runner.Prepare(ctx, sessionID); err != nil {
		t.err = &SandboxWarmupError{SessionID: sessionID, Err: err}
		o.logger.Error("sandbox warm-up failed", "session_id", sessionID, "error", err.Error())
		return
	}
	o.logger.Debug("sandbox warmed", "session_id", sessionID)
}

// CleanupSession tears down the session's sandbox and forgets its warm-up
// state so a later reopen provisions again.
func (o *SandboxOrchestrator) CleanupSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	delete(o.tasks, sessionID)
	o.mu.Unlock()
	return o.runner.Cleanup(ctx, sessionID)
}
