package core

import (
	"fmt"
	"regexp"
	"time"

	"backfeed/internal/types"
)

const (
	PollQueue      = "poll"
	PropagateQueue = "propagate"

	// WatermarkLayout is sortable and second precise.
	WatermarkLayout = "2006-01-02-15-04-05"
)

// Greedy on the source part, so source ids may themselves contain '_'.
var pollTaskNameRe = regexp.MustCompile(`^(.+)_(.+)$`)

func FormatWatermark(t time.Time) string {
	return t.UTC().Format(WatermarkLayout)
}

// MakePollTaskName names the poll task that corresponds to the source's
// current watermark.
func MakePollTaskName(src *types.Source) string {
	return PollTaskName(src.ID, src.LastPolled)
}

func PollTaskName(sourceID string, watermark time.Time) string {
	return fmt.Sprintf("%s_%s", sourceID, FormatWatermark(watermark))
}

// ParsePollTaskName splits a poll task name into source id and encoded
// watermark. The watermark is returned as text and compared as text.
func ParsePollTaskName(name string) (string, string, error) {
	m := pollTaskNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", "", types.NewTaskError(types.KindMalformedTaskName, name, "expected <source>_<watermark>")
	}
	if _, err := time.Parse(WatermarkLayout, m[2]); err != nil {
		return "", "", types.NewTaskError(types.KindMalformedTaskName, name, "watermark is not "+WatermarkLayout).WithCause(err)
	}
	return m[1], m[2], nil
}
