package logging

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field 日志字段
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field                 { return Field{Key: key, Value: value} }
func Int(key string, value int) Field                { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field            { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field        { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field              { return Field{Key: key, Value: value} }
func Any(key string, value any) Field                { return Field{Key: key, Value: value} }
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }
func Error(err error) Field                          { return Field{Key: "error", Value: err} }

// Entity 实体名
func Entity(name string) Field { return Field{Key: "entity", Value: name} }

// Key 实体主键
func Key(value any) Field { return Field{Key: "key", Value: value} }

// Session 会话标识
func Session(id string) Field { return Field{Key: "session", Value: id} }

// formatValue 含空白或引号的值加引号，保证 key=value 可被切分
func formatValue(v any) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case error:
		s = val.Error()
	case nil:
		return "<nil>"
	default:
		s = fmt.Sprint(val)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
