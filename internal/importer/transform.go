package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/araddon/dateparse"

	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
)

// Fatal per-file transform errors. Either aborts the current file; the
// caller records it as a per-file error entry.
var (
	ErrTimeColumnNotFound = errors.New("Time column not found")
	ErrTimeValueNotValid  = errors.New("Time value not valid")
)

// PublishScope carries the system fields stamped onto every published
// record's context.
type PublishScope struct {
	File     model.FileRef
	ReqID    string
	UploadID string
	OrgSlug  string
}

// Transform streams records from src, applies skip/cast/time rules, and
// publishes one envelope per surviving record. It returns the per-file
// stats; a fatal condition aborts this file only.
//
// Publishing is fire-and-forget during the loop. Outcomes are counted
// through the done callback, and the final counter values are settled
// before the stats are returned.
func Transform(ctx context.Context, src RecordSource, opts *Options, pub RecordPublisher, scope PublishScope, logger logging.ServiceLogger) (*model.ImportStats, error) {
	stats := &model.ImportStats{ImportedAt: time.Now().UTC()}

	recordContext := buildRecordContext(opts.Context, scope, stats.ImportedAt)
	nanTokens := opts.NaNTokens()
	nullTokens := opts.NullTokens()
	timeColumns := opts.TimeColumns()

	var (
		publishCount      atomic.Int64
		publishErrorCount atomic.Int64
		inFlight          sync.WaitGroup
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if opts.SkipLines.Matches(rec.Line) {
			stats.SkippedRecordCount++
			continue
		}

		payload := rec.Fields
		for _, column := range opts.SkipColumns {
			delete(payload, column)
		}

		timeColumn := ""
		for _, candidate := range timeColumns {
			if _, ok := payload[candidate]; ok {
				timeColumn = candidate
				break
			}
		}
		if timeColumn == "" {
			return nil, ErrTimeColumnNotFound
		}

		epochMs, err := parseTime(payload[timeColumn], opts)
		if err != nil {
			return nil, err
		}
		delete(payload, timeColumn)
		payload["time"] = epochMs

		if stats.TimeMin == nil || epochMs < *stats.TimeMin {
			ms := epochMs
			stats.TimeMin = &ms
		}
		if stats.TimeMax == nil || epochMs > *stats.TimeMax {
			ms := epochMs
			stats.TimeMax = &ms
		}

		for key, value := range payload {
			if key == "time" {
				continue
			}
			token, ok := value.(string)
			if !ok {
				continue
			}
			if matchesToken(token, nanTokens) {
				payload[key] = model.NaN
			} else if matchesToken(token, nullTokens) {
				payload[key] = model.NullValue
			}
		}

		stats.RecordCount++

		msg := &model.RecordMessage{
			Context: recordContext,
			Payload: payload,
		}

		inFlight.Add(1)
		line := rec.Line
		pub.PublishRecord(msg, func(err error) {
			defer inFlight.Done()
			if err != nil {
				publishErrorCount.Add(1)
				logger.Error("Publish error", err, logging.LogFields{
					"file": scope.File.Name,
					"line": line,
				})
				return
			}
			publishCount.Add(1)
		})
	}

	inFlight.Wait()
	stats.PublishCount = publishCount.Load()
	stats.PublishErrorCount = publishErrorCount.Load()

	return stats, nil
}

// buildRecordContext merges the user-supplied context with the system
// fields. System fields win for imported_at, file, req_id, and
// upload_id; org_slug is only filled in when the user left it unset.
func buildRecordContext(userContext map[string]any, scope PublishScope, importedAt time.Time) map[string]any {
	merged := make(map[string]any, len(userContext)+5)
	for key, value := range userContext {
		merged[key] = value
	}

	merged["imported_at"] = importedAt
	merged["file"] = scope.File
	merged["req_id"] = scope.ReqID
	merged["upload_id"] = scope.UploadID
	if _, ok := merged["org_slug"]; !ok {
		merged["org_slug"] = scope.OrgSlug
	}

	return merged
}

func matchesToken(value string, tokens []string) bool {
	for _, token := range tokens {
		if value == token {
			return true
		}
	}
	return false
}

// parseTime converts a raw time value to adjusted epoch milliseconds.
// Strings are parsed with the explicit layout when configured, else a
// permissive UTC parse. Numeric values are taken as epoch milliseconds.
func parseTime(value any, opts *Options) (int64, error) {
	var epochMs int64

	switch v := value.(type) {
	case string:
		var (
			t   time.Time
			err error
		)
		if opts.TimeFormat != "" {
			t, err = time.ParseInLocation(opts.TimeFormat, v, time.UTC)
		} else {
			t, err = dateparse.ParseIn(v, time.UTC)
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrTimeValueNotValid, v)
		}
		epochMs = t.UnixMilli()
	case int64:
		epochMs = v
	case float64:
		epochMs = int64(v)
	default:
		return 0, fmt.Errorf("%w: %v", ErrTimeValueNotValid, value)
	}

	return epochMs + opts.TimeAdjust*1000, nil
}
