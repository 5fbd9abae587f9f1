package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"paperflow/internal/config"
	"paperflow/internal/events"
	"paperflow/internal/logging"
	"paperflow/internal/queue"
	"paperflow/internal/services"
)

// ErrWorkerBusy is returned when another worker on this host holds the lock.
var ErrWorkerBusy = errors.New("another worker is already running")

// JobIDEnv carries the job id into the child process.
const JobIDEnv = "PAPERFLOW_JOB_ID"

const markerTime = "2006-01-02T15:04:05Z07:00"

var commandContext = exec.CommandContext

// Worker claims and runs queued jobs.
type Worker struct {
	cfg        *config.Config
	store      *queue.Store
	logger     *slog.Logger
	executable string
	configPath string
	supported  func(queue.Kind) bool
	now        func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithExecutable overrides the binary launched for each job.
func WithExecutable(path string) Option {
	return func(w *Worker) {
		if path != "" {
			w.executable = path
		}
	}
}

// WithConfigPath forwards an explicit config file to the child process.
func WithConfigPath(path string) Option {
	return func(w *Worker) { w.configPath = path }
}

// WithClock overrides the time source used in log markers.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// New constructs a Worker. supported reports whether a kind has a handler;
// jobs of other kinds fail without a process being started.
func New(cfg *config.Config, store *queue.Store, supported func(queue.Kind) bool, opts ...Option) (*Worker, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("worker requires config and job store")
	}
	if supported == nil {
		supported = func(queue.Kind) bool { return true }
	}
	w := &Worker{
		cfg:        cfg,
		store:      store,
		logger:     logging.NewNop(),
		executable: cfg.Worker.Executable,
		supported:  supported,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		w.executable = exe
	}
	w.logger = logging.NewComponentLogger(w.logger, "worker")
	return w, nil
}

// BatchSummary reports one RunBatch call.
type BatchSummary struct {
	Reaped    int `json:"reaped"`
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// LockPath is the host lock file.
func (w *Worker) LockPath() string {
	return filepath.Join(w.cfg.Paths.DataDir, "worker.lock")
}

// RunBatch processes at most maxJobs queued jobs. maxJobs <= 0 uses the
// configured default.
func (w *Worker) RunBatch(ctx context.Context, maxJobs int) (BatchSummary, error) {
	var sum BatchSummary
	if maxJobs <= 0 {
		maxJobs = max(w.cfg.Worker.MaxJobs, 1)
	}
	lock := flock.New(w.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return sum, fmt.Errorf("acquire worker lock: %w", err)
	}
	if !ok {
		return sum, ErrWorkerBusy
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			w.logger.Warn("release worker lock failed", logging.Error(err))
		}
	}()

	for sum.Claimed < maxJobs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		// Stale jobs are reaped before every claim.
		reaped, err := w.reapStale(ctx)
		if err != nil {
			return sum, err
		}
		sum.Reaped += reaped
		job, err := w.store.ClaimNext(ctx)
		if err != nil {
			return sum, err
		}
		if job == nil {
			break
		}
		sum.Claimed++
		if w.runJob(ctx, job) == queue.StatusSuccess {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	return sum, nil
}

func (w *Worker) reapStale(ctx context.Context) (int, error) {
	horizon := time.Duration(max(w.cfg.Worker.StaleHours, 1)) * time.Hour
	reaped, err := w.store.ReapStale(ctx, horizon, w.cfg.Worker.ReapLimit)
	if err != nil {
		return 0, err
	}
	for _, job := range reaped {
		w.logger.Warn("stale job reaped",
			logging.String(logging.FieldEventType, "job_reaped"),
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldJobKind, string(job.Kind)),
			logging.String(logging.FieldImpact, "job marked failed; enqueue it again to retry"),
		)
	}
	return len(reaped), nil
}

// runJob launches the child for job, waits for it and records the outcome.
func (w *Worker) runJob(ctx context.Context, job *queue.Job) queue.Status {
	ctx = services.WithJobID(ctx, job.ID)
	logger := w.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKind, string(job.Kind)),
	)
	logger.Info("job claimed", logging.String(logging.FieldEventType, "job_claimed"), logging.String("log_path", job.LogPath))

	status, errText := w.execute(ctx, job, logger)
	// The job is finished even when ctx was canceled mid-run.
	finishCtx := context.WithoutCancel(ctx)
	if err := w.store.Finish(finishCtx, job.ID, status, errText); err != nil {
		if errors.Is(err, queue.ErrNotRunning) {
			logging.WarnWithContext(logger, "job left running state before it finished", "job_outcome_dropped",
				logging.String("status", string(status)),
				logging.String(logging.FieldErrorHint, "the job was reaped while its child was still running"),
				logging.String(logging.FieldImpact, "outcome discarded; the stored status is kept"),
			)
		} else {
			logging.ErrorWithContext(logger, "record job outcome failed", "job_outcome_failed", logging.Error(err))
		}
	}
	attrs := []slog.Attr{
		logging.String(logging.FieldEventType, "job_finished"),
		logging.String("status", string(status)),
	}
	if errText != "" {
		attrs = append(attrs, logging.String("error", errText))
	}
	logger.LogAttrs(ctx, levelFor(status), "job finished", attrs...)
	return status
}

func levelFor(status queue.Status) slog.Level {
	if status == queue.StatusSuccess {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

func (w *Worker) execute(ctx context.Context, job *queue.Job, logger *slog.Logger) (queue.Status, string) {
	if !w.supported(job.Kind) {
		return queue.StatusFailed, fmt.Sprintf("unsupported job kind: %s", job.Kind)
	}
	if err := os.MkdirAll(filepath.Dir(job.LogPath), 0o755); err != nil {
		return queue.StatusFailed, fmt.Sprintf("create log dir: %v", err)
	}
	logFile, err := os.OpenFile(job.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return queue.StatusFailed, fmt.Sprintf("open job log: %v", err)
	}
	defer logFile.Close()

	marker := func(format string, args ...any) {
		prefix := fmt.Sprintf("=== JOB %d %s ", job.ID, job.Kind)
		if _, err := fmt.Fprintf(logFile, prefix+format+" ===\n", args...); err != nil {
			logger.Warn("write log marker failed", logging.Error(err))
		}
	}
	exception := func(err error) (queue.Status, string) {
		marker("EXCEPTION %s", w.now().Format(markerTime))
		fmt.Fprintln(logFile, err.Error())
		return queue.StatusFailed, err.Error()
	}

	marker("START %s", w.now().Format(markerTime))
	payloadPath, err := w.writePayload(job)
	if err != nil {
		return exception(err)
	}

	args := []string{"handle", "--kind", string(job.Kind), "--payload", payloadPath, "--job-id", strconv.FormatInt(job.ID, 10)}
	if w.configPath != "" {
		args = append(args, "--config", w.configPath)
	}
	cmd := commandContext(ctx, w.executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(cmd.Environ(),
		events.LogPathEnv+"="+job.LogPath,
		JobIDEnv+"="+strconv.FormatInt(job.ID, 10),
	)
	if err := cmd.Start(); err != nil {
		return exception(fmt.Errorf("start job process: %w", err))
	}
	rc := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return exception(fmt.Errorf("wait for job process: %w", err))
		}
		rc = exitErr.ExitCode()
	}
	marker("END rc=%d %s", rc, w.now().Format(markerTime))
	if rc != 0 {
		return queue.StatusFailed, fmt.Sprintf("command exited with code %d", rc)
	}
	return queue.StatusSuccess, ""
}

// PayloadPath is where the payload for a job id is written.
func (w *Worker) PayloadPath(id int64) string {
	return filepath.Join(w.cfg.Paths.JobLogDir, "payloads", fmt.Sprintf("job_%d.payload.json", id))
}

func (w *Worker) writePayload(job *queue.Job) (string, error) {
	path := w.PayloadPath(job.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create payload dir: %w", err)
	}
	payload := job.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}
	return path, nil
}

// RunEvery runs a batch immediately and then on every tick of schedule (a
// robfig/cron schedule such as "@every 1m" or "*/5 * * * *") until ctx is done.
// A tick that finds another worker holding the lock is skipped.
func (w *Worker) RunEvery(ctx context.Context, schedule string, maxJobs int) error {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return services.Wrap(services.ErrValidation, "worker", "parse schedule", schedule, err)
	}
	tick := func() {
		sum, err := w.RunBatch(ctx, maxJobs)
		switch {
		case errors.Is(err, ErrWorkerBusy):
			w.logger.Info("worker busy; skipping tick", logging.String(logging.FieldEventType, "worker_tick_skipped"))
		case err != nil && ctx.Err() == nil:
			w.logger.Error("worker batch failed", logging.String(logging.FieldEventType, "worker_batch_failed"), logging.Error(err))
		case sum.Claimed > 0 || sum.Reaped > 0:
			w.logger.Info("worker batch finished",
				logging.String(logging.FieldEventType, "worker_batch_finished"),
				logging.Int("claimed", sum.Claimed),
				logging.Int("succeeded", sum.Succeeded),
				logging.Int("failed", sum.Failed),
				logging.Int("reaped", sum.Reaped),
			)
		}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(tick))
	tick()
	c.Start()
	w.logger.Info("worker scheduled", logging.String("schedule", schedule))
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
