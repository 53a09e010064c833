package observability

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

var (
	_ log.Logger     = (*TemporalLogger)(nil)
	_ log.WithLogger = (*TemporalLogger)(nil)
)

// sdkFieldNames renames the SDK's tag keys, and the keys our activities
// pass, to the field names the rest of the service logs with. Worker
// entries then share workflow_id and sync_run_id with engine entries.
var sdkFieldNames = map[string]string{
	"WorkflowID":   "workflow_id",
	"RunID":        "workflow_run_id",
	"WorkflowType": "workflow_type",
	"Namespace":    "temporal_namespace",
	"TaskQueue":    "task_queue",
	"ActivityID":   "activity_id",
	"ActivityType": "activity_type",
	"runID":        "sync_run_id",
	"Error":        zerolog.ErrorFieldName,
}

// TemporalLogger routes Temporal SDK and workflow logs through zerolog.
type TemporalLogger struct {
	logger zerolog.Logger
}

// NewTemporalLogger tags every entry with "component":"temporal-sdk".
func NewTemporalLogger(logger zerolog.Logger) *TemporalLogger {
	return &TemporalLogger{logger: logger.With().Str("component", "temporal-sdk").Logger()}
}

// With returns a logger that adds keyvals to every entry. The SDK uses it
// for the workflow and activity tags of a task.
func (l *TemporalLogger) With(keyvals ...interface{}) log.Logger {
	return &TemporalLogger{logger: l.logger.With().Fields(sdkFields(keyvals)).Logger()}
}

func (l *TemporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug().Fields(sdkFields(keyvals)).Msg(msg)
}

func (l *TemporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info().Fields(sdkFields(keyvals)).Msg(msg)
}

func (l *TemporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn().Fields(sdkFields(keyvals)).Msg(msg)
}

func (l *TemporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error().Fields(sdkFields(keyvals)).Msg(msg)
}

// sdkFields pairs up keyvals under service field names. A trailing key
// without a value is kept with a nil value so it is not silently lost.
func sdkFields(keyvals []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		var value interface{}
		if i+1 < len(keyvals) {
			value = keyvals[i+1]
		}
		m[fieldName(key)] = value
	}
	return m
}

// fieldName maps a known key or converts a CamelCase key to snake_case.
func fieldName(key string) string {
	if name, ok := sdkFieldNames[key]; ok {
		return name
	}
	var b strings.Builder
	b.Grow(len(key) + 4)
	var prev rune
	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}
