package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// FallbackDirs are searched after PATH. Service managers often start
// processes with a minimal PATH that omits package manager prefixes.
var FallbackDirs = []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin"}

// Resolve returns an executable path for command, consulting PATH first and
// FallbackDirs second. Commands containing a separator are checked as given.
func Resolve(command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("empty command")
	}
	if resolved, err := exec.LookPath(command); err == nil {
		return resolved, nil
	}
	if strings.ContainsRune(command, os.PathSeparator) {
		return "", fmt.Errorf("binary %q not found", command)
	}
	name := command
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		name += ".exe"
	}
	for _, dir := range FallbackDirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("binary %q not found", command)
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
