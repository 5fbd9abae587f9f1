package queue

import (
	"errors"
	"io/fs"
	"os"
	"strings"
)

const (
	defaultTailLines = 200
	minTailLines     = 20
	maxTailLines     = 2000
)

// ClampTailLines bounds a requested line window to 20..2000, defaulting to 200.
func ClampTailLines(lines int) int {
	switch {
	case lines <= 0:
		return defaultTailLines
	case lines < minTailLines:
		return minTailLines
	case lines > maxTailLines:
		return maxTailLines
	}
	return lines
}

// TailLog returns the last lines of the job's log file. A job that has not
// been claimed yet, or whose log is missing, yields an empty string.
func TailLog(job *Job, lines int) (string, error) {
	if job == nil || strings.TrimSpace(job.LogPath) == "" {
		return "", nil
	}
	data, err := os.ReadFile(job.LogPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	text := strings.TrimRight(strings.ToValidUTF8(string(data), "�"), "\n")
	if text == "" {
		return "", nil
	}
	all := strings.Split(text, "\n")
	if n := ClampTailLines(lines); len(all) > n {
		all = all[len(all)-n:]
	}
	return strings.Join(all, "\n") + "\n", nil
}
