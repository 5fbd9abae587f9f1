package deps

import (
	"fmt"
	"strings"

	"paperflow/internal/config"
)

// Requirement defines an external dependency paperflow relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := Resolve(cmd)
		if err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Command = resolved
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Requirements lists the external binaries cfg needs. The parser is
// required; repair tools are optional because pdfcpu runs in-process.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{{
		Name:        "Document parser",
		Command:     cfg.Parser.Binary,
		Description: "Converts fetched PDFs to markdown",
	}}
	if !cfg.Repair.Enabled {
		return reqs
	}
	for _, tool := range cfg.Repair.Tools {
		if tool == "pdfcpu" {
			continue
		}
		reqs = append(reqs, Requirement{
			Name:        tool,
			Command:     tool,
			Description: "PDF repair before a parse retry",
			Optional:    true,
		})
	}
	return reqs
}
