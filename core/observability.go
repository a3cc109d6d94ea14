package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// tagKeys are the context fields that double as metric tags. Only low
// cardinality identifiers belong here.
var tagKeys = []string{"domain", "entry_id", "flow_id", "source", "step"}

type logLevel int

const (
	levelInfo logLevel = iota
	levelWarn
	levelError
)

// observeOperation closes out one service operation with a structured log
// line, a counter, and a duration histogram, all carrying the same
// operation and status.
func (s *Service) observeOperation(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) {
	if s == nil {
		return
	}
	op := operationName(operation)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	elapsed := time.Since(startedAt).Milliseconds()

	record := cloneMap(fields)
	record["event_type"] = op
	record["status"] = outcome
	record["duration_ms"] = elapsed
	if err != nil {
		record["error"] = err.Error()
		enrichErrorFields(record, err)
	}

	tags := metricTags(op, outcome, record)
	s.recordCounter(ctx, "integrations."+op+".total", 1, tags)
	s.recordHistogram(ctx, "integrations."+op+".duration_ms", float64(elapsed), tags)

	if err != nil {
		s.logError(ctx, op+" failed", record)
		return
	}
	s.logInfo(ctx, op+" succeeded", record)
}

// metricTags projects the traceability identifiers present in fields onto
// metric tags next to operation and status.
func metricTags(operation string, status string, fields map[string]any) map[string]string {
	tags := make(map[string]string, len(tagKeys)+2)
	tags["operation"] = operation
	tags["status"] = status
	for _, key := range tagKeys {
		value, ok := fields[key]
		if !ok {
			continue
		}
		switch text := strings.TrimSpace(fmt.Sprint(value)); text {
		case "", "<nil>":
		default:
			tags[key] = text
		}
	}
	return tags
}

func (s *Service) logInfo(ctx context.Context, message string, fields map[string]any) {
	s.emitLog(ctx, levelInfo, message, fields)
}

func (s *Service) logWarn(ctx context.Context, message string, fields map[string]any) {
	s.emitLog(ctx, levelWarn, message, fields)
}

func (s *Service) logError(ctx context.Context, message string, fields map[string]any) {
	s.emitLog(ctx, levelError, message, fields)
}

func (s *Service) emitLog(ctx context.Context, level logLevel, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneMap(fields))
	}
	args := flattenFields(fields)
	switch level {
	case levelError:
		logger.Error(message, args...)
	case levelWarn:
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, strings.TrimSpace(name), value, cloneMap(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneMap(tags))
}

// cloneMap copies src into a fresh map that is never nil, so callers can
// write into the result or hand it to a backend without aliasing the input.
func cloneMap[M ~map[K]V, K comparable, V any](src M) M {
	dst := make(M, len(src))
	maps.Copy(dst, src)
	return dst
}

// enrichErrorFields lifts the structured parts of a rich error into the log
// fields. Traceability keys from error metadata surface at the top level;
// everything else lands under error_metadata with sensitive values redacted.
func enrichErrorFields(fields map[string]any, err error) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return
	}
	fields["error_category"] = string(richErr.Category)
	if strings.TrimSpace(richErr.TextCode) != "" {
		fields["error_text_code"] = richErr.TextCode
	}
	var zeroSeverity goerrors.Severity
	if richErr.Severity != zeroSeverity {
		fields["error_severity"] = richErr.Severity.String()
	}
	if len(richErr.Metadata) == 0 {
		return
	}
	for _, key := range []string{"trace_id", "request_id"} {
		if value, ok := richErr.Metadata[key]; ok {
			fields[key] = value
		}
	}
	fields["error_metadata"] = RedactSensitiveMap(richErr.Metadata)
}

// flattenFields turns a field map into the sorted key value pairs variadic
// loggers take.
func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, 2*len(fields))
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, key, fields[key])
	}
	return args
}

// operationName canonicalizes an operation label for metric names and event
// types; empty labels become "unknown".
func operationName(operation string) string {
	operation = strings.ToLower(strings.TrimSpace(operation))
	if operation == "" {
		return "unknown"
	}
	return strings.NewReplacer(" ", "_", "-", "_").Replace(operation)
}
