package tracing

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType span 上的 error.type
type ErrorType string

const (
	ErrorTypeDB       ErrorType = "db"
	ErrorTypeRedis    ErrorType = "redis"
	ErrorTypeConflict ErrorType = "conflict"
	ErrorTypeNotFound ErrorType = "not_found"
	ErrorTypeDelivery ErrorType = "delivery"
)

// 属性值长度上限
const (
	DefaultMaxLength = 200
	maxSQLLength     = 500
	maxKeyLength     = 100
)

// RecordError 记录错误并把 span 置为 Error
func RecordError(span trace.Span, err error, errorType ErrorType, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", TruncateString(err.Error(), DefaultMaxLength)),
	)
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Error, err.Error())
}

// TruncateString 超长时保留首尾，中间用 ... 连接
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	half := max((maxLength-3)/2, 1)
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

func SafeSQL(sql string) string { return TruncateString(sql, maxSQLLength) }

func SafeRedisKey(key string) string { return TruncateString(key, maxKeyLength) }

// MaskName 候选人姓名只保留首尾字符，"Jane Doe" -> "J******e"
func MaskName(name string) string {
	runes := []rune(name)
	switch n := len(runes); {
	case n == 0:
		return ""
	case n <= 2:
		return string(runes[:1]) + strings.Repeat("*", n-1)
	default:
		return string(runes[:1]) + strings.Repeat("*", n-2) + string(runes[n-1:])
	}
}
