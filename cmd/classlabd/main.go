package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/oarkflow/squealx"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/classlab/classlab"
	"github.com/classlab/classlab/logger"
	"github.com/classlab/classlab/stores"
)

func main() {
	_ = godotenv.Load()
	log := logger.NewPhusluLogger()

	env := classlab.Environment(getEnv("CLASSLAB_ENV", string(classlab.EnvDevelopment)))

	cfg := &classlab.Config{Environment: env}
	if path := os.Getenv("CLASSLAB_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Error("read config", "path", path, "error", err.Error())
			os.Exit(1)
		}
		cfg, err = classlab.NewConfigLoader().LoadYAML(data)
		if err != nil {
			log.Error("parse config", "path", path, "error", err.Error())
			os.Exit(1)
		}
	}

	sqlDB, err := sql.Open("sqlite", getEnv("CLASSLAB_DB", "classlab.db"))
	if err != nil {
		log.Error("open database", "error", err.Error())
		os.Exit(1)
	}
	defer sqlDB.Close()
	db := squealx.NewDb(sqlDB, "sqlite", "classlab")
	if err := stores.Migrate(db); err != nil {
		log.Error("migrate", "error", err.Error())
		os.Exit(1)
	}

	var counters classlab.CounterStore
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		counters = stores.NewRedisCounterStore(redis.NewClient(&redis.Options{Addr: addr}))
	} else if env != classlab.EnvProduction {
		counters = classlab.NewMemoryCounterStore()
	}

	limiter, err := classlab.NewRateLimiter(counters, env,
		append(cfg.RateLimiterOptions(), classlab.WithRateLimiterLogger(log))...)
	if err != nil {
		// Fail closed: production without a counter store must not start.
		log.Error("rate limiter init", "error", err.Error())
		os.Exit(1)
	}

	sessionStore := stores.NewSQLSessionStore(db)
	userStore := stores.NewSQLUserStore(db)
	tokenStore := stores.NewSQLTokenStore(db)

	rbac, err := classlab.NewEvaluator(sessionStore,
		append(cfg.EvaluatorOptions(), classlab.WithEvaluatorLogger(log))...)
	if err != nil {
		log.Error("evaluator init", "error", err.Error())
		os.Exit(1)
	}
	defer rbac.Close()

	gate := classlab.NewAuthGate(tokenStore, rbac, classlab.WithGateLogger(log))
	orchestrator := classlab.NewSandboxOrchestrator(
		newSubprocessRunner(getEnv("CLASSLAB_SANDBOX_DIR", os.TempDir())),
		append(cfg.OrchestratorOptions(), classlab.WithOrchestratorLogger(log))...)
	lifecycle := classlab.NewLifecycleManager(sessionStore, rbac, orchestrator, classlab.WithLifecycleLogger(log))
	users := classlab.NewUserService(userStore, rbac, classlab.WithUserServiceLogger(log))

	mux := http.NewServeMux()

	// The auth-category throttle runs first, keyed by client address since
	// no identity exists yet; it shields the token store from anonymous
	// floods. The per-category throttle after authentication is keyed by
	// user.
	guarded := func(cat classlab.Category) func(http.Handler) http.Handler {
		return chain(
			classlab.RateLimitMiddleware(limiter, classlab.CategoryAuth),
			classlab.RequireAuthMiddleware(gate),
			classlab.RateLimitMiddleware(limiter, cat),
		)
	}

	mux.Handle("POST /sessions", guarded(classlab.CategoryWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, _ := classlab.AuthContextFrom(r)
		var body struct {
			SectionID string `json:"section_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SectionID == "" {
			http.Error(w, `{"error":"section_id is required"}`, http.StatusBadRequest)
			return
		}
		ns := gate.NamespaceContext(r, ac.User)
		s, err := lifecycle.CreateSession(r.Context(), ac.User, ns, body.SectionID)
		if err != nil {
			classlab.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, s)
	})))

	mux.Handle("POST /sessions/{id}/complete", guarded(classlab.CategoryWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, _ := classlab.AuthContextFrom(r)
		s, err := lifecycle.CompleteSession(r.Context(), ac.User, r.PathValue("id"))
		if err != nil {
			classlab.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	})))

	mux.Handle("POST /sessions/{id}/reopen", guarded(classlab.CategoryWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, _ := classlab.AuthContextFrom(r)
		s, err := lifecycle.ReopenSession(r.Context(), ac.User, r.PathValue("id"))
		if err != nil {
			classlab.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	})))

	mux.Handle("GET /sessions/{id}", guarded(classlab.CategoryRead)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, _ := classlab.AuthContextFrom(r)
		id := r.PathValue("id")
		ok, err := ac.RBAC.CanAccessSession(r.Context(), ac.User, id)
		if err != nil {
			classlab.WriteError(w, err)
			return
		}
		if !ok {
			classlab.WriteError(w, classlab.NewNotFoundError("session"))
			return
		}
		s, err := sessionStore.GetSession(r.Context(), id)
		if err != nil {
			classlab.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	})))

	mux.Handle("DELETE /users/{id}", guarded(classlab.CategoryWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, _ := classlab.AuthContextFrom(r)
		if err := users.DeleteUser(r.Context(), ac.User, r.PathValue("id")); err != nil {
			classlab.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})))

	mux.Handle("PUT /users/{id}/role", guarded(classlab.CategoryWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, _ := classlab.AuthContextFrom(r)
		var body struct {
			Role string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"role is required"}`, http.StatusBadRequest)
			return
		}
		if err := users.ChangeRole(r.Context(), ac.User, r.PathValue("id"), classlab.Role(body.Role)); err != nil {
			classlab.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})))

	addr := ":" + getEnv("PORT", "8080")
	log.Info("classlabd listening", "addr", addr, "env", string(env))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server stopped", "error", err.Error())
		os.Exit(1)
	}
}

func chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// subprocessRunner executes student code as a local python subprocess with
// stdin piped in. Prepare provisions the session's working directory so the
// first run does not pay the cold-start cost.
type subprocessRunner struct {
	baseDir string
}

func newSubprocessRunner(baseDir string) *subprocessRunner {
	return &subprocessRunner{baseDir: baseDir}
}

func (r *subprocessRunner) dir(sessionID string) string {
	return filepath.Join(r.baseDir, "classlab-session-"+sessionID)
}

func (r *subprocessRunner) Prepare(ctx context.Context, sessionID string) error {
	return os.MkdirAll(r.dir(sessionID), 0o755)
}

func (r *subprocessRunner) Execute(ctx context.Context, sessionID, code, stdin string) (*classlab.ExecResult, error) {
	cmd := exec.CommandContext(ctx, "python3", "-c", code)
	cmd.Dir = r.dir(sessionID)
	cmd.Stdin = bytes.NewBufferString(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := &classlab.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("execute session %s: %w", sessionID, err)
	}
	return res, nil
}

func (r *subprocessRunner) Cleanup(ctx context.Context, sessionID string) error {
	return os.RemoveAll(r.dir(sessionID))
}

