// Package otlpexport mirrors the vehicle log stream to an OpenTelemetry
// collector as OTLP log records.
package otlpexport

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	collectorlogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/aetherius/gcs-realtime/internal/logcodec"
	"github.com/aetherius/gcs-realtime/internal/storage"
)

// ScopeName is the instrumentation scope attached to every exported record.
const ScopeName = "github.com/aetherius/gcs-realtime"

// Attribute keys set on each record.
const (
	AttrIdentifier = "gcs.log.identifier"
	AttrCategory   = "gcs.log.category"
	AttrImportance = "gcs.log.importance"
	AttrSequence   = "gcs.log.sequence"
	attrVarPrefix  = "gcs.log.var."
)

// ToLogRecord converts entry. The body is the rendered template text, or the
// identifier when no template matches.
func ToLogRecord(entry storage.LogEntry, templates *logcodec.TemplateSet) *logspb.LogRecord {
	id, _ := logcodec.Parse(entry.Identifier)
	num, text := severity(id.Severity)

	body := templates.Render(entry)
	if body == "" {
		body = entry.Identifier
	}

	attrs := []*commonpb.KeyValue{
		stringAttr(AttrIdentifier, id.Raw),
		stringAttr(AttrCategory, id.Category),
		stringAttr(AttrImportance, string(id.Importance)),
		stringAttr(AttrSequence, id.Sequence),
	}

	names := make([]string, 0, len(entry.Variables))
	for k := range entry.Variables {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		attrs = append(attrs, &commonpb.KeyValue{Key: attrVarPrefix + k, Value: anyValue(entry.Variables[k])})
	}

	return &logspb.LogRecord{
		TimeUnixNano:         uint64(entry.TimestampNanos),
		ObservedTimeUnixNano: uint64(time.Now().UnixNano()),
		SeverityNumber:       num,
		SeverityText:         text,
		Body:                 &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: body}},
		Attributes:           attrs,
	}
}

// BuildRequest wraps entries in a single resource/scope.
func BuildRequest(entries []storage.LogEntry, templates *logcodec.TemplateSet, serviceName string) *collectorlogs.ExportLogsServiceRequest {
	records := make([]*logspb.LogRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, ToLogRecord(e, templates))
	}

	return &collectorlogs.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{stringAttr("service.name", serviceName)},
			},
			ScopeLogs: []*logspb.ScopeLogs{{
				Scope:      &commonpb.InstrumentationScope{Name: ScopeName},
				LogRecords: records,
			}},
		}},
	}
}

// MarshalJSON renders entries as an OTLP/JSON export request, the format the
// collector's file exporter writes.
func MarshalJSON(entries []storage.LogEntry, templates *logcodec.TemplateSet, serviceName string) ([]byte, error) {
	data, err := protojson.Marshal(BuildRequest(entries, templates, serviceName))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OTLP JSON: %w", err)
	}
	return data, nil
}

func severity(s logcodec.Severity) (logspb.SeverityNumber, string) {
	switch s {
	case logcodec.SeverityInfo:
		return logspb.SeverityNumber_SEVERITY_NUMBER_INFO, "INFO"
	case logcodec.SeverityWarning:
		return logspb.SeverityNumber_SEVERITY_NUMBER_WARN, "WARN"
	case logcodec.SeverityError:
		return logspb.SeverityNumber_SEVERITY_NUMBER_ERROR, "ERROR"
	default:
		return logspb.SeverityNumber_SEVERITY_NUMBER_UNSPECIFIED, ""
	}
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

// anyValue maps decoded JSON to the closest OTLP value. Nested objects and
// arrays are re-encoded as JSON strings.
func anyValue(v any) *commonpb.AnyValue {
	switch x := v.(type) {
	case string:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: x}}
	case bool:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: x}}
	case float64:
		if x == float64(int64(x)) {
			return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(x)}}
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: x}}
	case int:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(x)}}
	case int64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: x}}
	case nil:
		return &commonpb.AnyValue{}
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: fmt.Sprint(x)}}
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: string(data)}}
	}
}
