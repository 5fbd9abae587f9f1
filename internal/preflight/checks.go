package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"paperflow/internal/config"
	"paperflow/internal/deps"
	"paperflow/internal/keypool"
	"paperflow/internal/services/llm"
)

const llmCheckTimeout = 30 * time.Second

// CheckLLM verifies that the LLM API accepts at least one pooled key. Each
// key is tried once.
func CheckLLM(ctx context.Context, cfg config.LLM) Result {
	const name = "LLM endpoint"
	if len(cfg.APIKeys) == 0 {
		return Result{Name: name, Detail: "API keys missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, llmCheckTimeout)
	defer cancel()

	executor := keypool.NewExecutor(
		keypool.NewRotator("llm", cfg.APIKeys),
		keypool.WithRateLimitPause(0),
	)
	client := llm.NewClient(llm.FromConfig(cfg, cfg.AnalysisModel), executor)
	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeLLMError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", cfg.BaseURL)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBinaries resolves the external binaries cfg needs.
func CheckBinaries(cfg *config.Config) []Result {
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	results := make([]Result, 0, len(statuses))
	for _, s := range statuses {
		r := Result{Name: s.Name, Passed: s.Available, Optional: s.Optional}
		if s.Available {
			r.Detail = s.Command
		} else {
			r.Detail = fmt.Sprintf("%s (%s)", s.Detail, s.Description)
		}
		results = append(results, r)
	}
	return results
}

// summarizeLLMError produces a human-readable summary for LLM health check failures.
func summarizeLLMError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (LLM API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (LLM API unreachable)"
	}
	var exhausted *keypool.ExhaustedError
	if errors.As(err, &exhausted) {
		return "no API key accepted: " + err.Error()
	}
	return err.Error()
}
