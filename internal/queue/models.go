package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the orchestration a job runs.
type Kind string

const (
	KindFetchFill        Kind = "fetch_fill"
	KindFetchRegen       Kind = "fetch_regen"
	KindParseFill        Kind = "parse_fill"
	KindParseRegen       Kind = "parse_regen"
	KindOneLinerFill     Kind = "oneliner_fill"
	KindOneLinerRegen    Kind = "oneliner_regen"
	KindAnalyzeFill      Kind = "analyze_fill"
	KindAnalyzeRegen     Kind = "analyze_regen"
	KindCaptionFill      Kind = "caption_fill"
	KindCaptionRegen     Kind = "caption_regen"
	KindImagesFill       Kind = "images_fill"
	KindImagesRegen      Kind = "images_regen"
	KindPackageFill      Kind = "package_fill"
	KindPackageRegen     Kind = "package_regen"
	KindEventsBackfill   Kind = "events_backfill"
	KindItemRetryStage   Kind = "item_retry_stage"
	KindParseOCRFix      Kind = "parse_ocr_fix"
	KindParseOCRFixRegen Kind = "parse_ocr_fix_regen"
)

var allKinds = []Kind{
	KindFetchFill, KindFetchRegen,
	KindParseFill, KindParseRegen,
	KindOneLinerFill, KindOneLinerRegen,
	KindAnalyzeFill, KindAnalyzeRegen,
	KindCaptionFill, KindCaptionRegen,
	KindImagesFill, KindImagesRegen,
	KindPackageFill, KindPackageRegen,
	KindEventsBackfill,
	KindItemRetryStage,
	KindParseOCRFix, KindParseOCRFixRegen,
}

// AllKinds returns every supported job kind in declaration order.
func AllKinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind normalizes and validates a kind name.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
	return k, nil
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// ParseStatus validates a status name.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusQueued, StatusRunning, StatusSuccess, StatusFailed, StatusCanceled:
		return s, true
	}
	return "", false
}

// Job is one queued orchestration run.
type Job struct {
	ID         int64
	Kind       Kind
	Status     Status
	Payload    json.RawMessage
	Result     json.RawMessage
	LogPath    string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the job ran, or has been running as of now.
func (j *Job) Duration(now time.Time) time.Duration {
	if j == nil || j.StartedAt.IsZero() {
		return 0
	}
	end := j.FinishedAt
	if end.IsZero() {
		end = now
	}
	if end.Before(j.StartedAt) {
		return 0
	}
	return end.Sub(j.StartedAt)
}
