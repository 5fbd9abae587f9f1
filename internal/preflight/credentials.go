package preflight

import (
	"fmt"

	"paperflow/internal/config"
)

// CheckCredentials reports the size of each credential pool in use. An
// image provider without keys is optional: the pipeline leaves it out.
func CheckCredentials(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{poolResult("LLM keys", cfg.LLM.APIKeys, false)}
	for _, name := range cfg.Pipeline.ImageProviders {
		results = append(results, poolResult("Image provider "+name, cfg.Provider(name).APIKeys, true))
	}
	return results
}

func poolResult(name string, keys []string, optional bool) Result {
	if len(keys) == 0 {
		return Result{Name: name, Optional: optional, Detail: "no keys configured"}
	}
	return Result{Name: name, Passed: true, Optional: optional, Detail: fmt.Sprintf("%d key(s) pooled", len(keys))}
}
