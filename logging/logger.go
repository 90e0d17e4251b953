// Package logging 提供统一的结构化日志接口与基于标准库 log 的默认实现
package logging

import (
	"context"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Logger 日志接口
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	// WithFields 返回附加字段的新 Logger
	WithFields(fields ...Field) Logger
}

// StdLogger 输出 "[LEVEL] prefix msg k=v ..." 行。由 WithFields 派生的
// Logger 与父 Logger 共享级别，SetLevel 对整棵派生树生效。
type StdLogger struct {
	prefix string
	level  *atomic.Int32
	fields []Field
	out    *log.Logger // nil 时写入 log 包的全局 writer
}

// NewStdLogger 写入 log 包的全局 writer，级别为 Debug
func NewStdLogger(prefix string) *StdLogger {
	l := &StdLogger{prefix: prefix, level: new(atomic.Int32)}
	l.SetLevel(DebugLevel)
	return l
}

// NewWriterLogger 写入 w，w 为 nil 时写入 stderr
func NewWriterLogger(prefix string, w io.Writer, level Level) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	l := NewStdLogger(prefix)
	l.out = log.New(w, "", log.LstdFlags)
	l.SetLevel(level)
	return l
}

func (l *StdLogger) SetLevel(level Level) { l.level.Store(int32(level)) }
func (l *StdLogger) Level() Level         { return Level(l.level.Load()) }

func (l *StdLogger) emit(ctx context.Context, level Level, msg string, fields []Field) {
	if level < l.Level() {
		return
	}
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(level.String())
	sb.WriteString("] ")
	if l.prefix != "" {
		sb.WriteString(l.prefix)
		sb.WriteByte(' ')
	}
	sb.WriteString(msg)
	for _, group := range [][]Field{l.fields, FieldsFromContext(ctx), fields} {
		for _, f := range group {
			sb.WriteByte(' ')
			sb.WriteString(f.Key)
			sb.WriteByte('=')
			sb.WriteString(formatValue(f.Value))
		}
	}
	if l.out != nil {
		l.out.Println(sb.String())
		return
	}
	log.Println(sb.String())
}

func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, DebugLevel, msg, fields)
}

func (l *StdLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, InfoLevel, msg, fields)
}

func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, WarnLevel, msg, fields)
}

func (l *StdLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, ErrorLevel, msg, fields)
}

func (l *StdLogger) WithFields(fields ...Field) Logger {
	c := *l
	c.fields = append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	return &c
}

// NoopLogger 丢弃所有日志
type NoopLogger struct{}

func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (*NoopLogger) Debug(context.Context, string, ...Field) {}
func (*NoopLogger) Info(context.Context, string, ...Field)  {}
func (*NoopLogger) Warn(context.Context, string, ...Field)  {}
func (*NoopLogger) Error(context.Context, string, ...Field) {}
func (l *NoopLogger) WithFields(...Field) Logger            { return l }

var (
	globalMu     sync.RWMutex
	globalLogger Logger = NewStdLogger("")
)

// SetLogger 替换全局 Logger
func SetLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

func GetLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// ComponentLogger 带 component 字段的全局 Logger，作为各组件的默认日志
func ComponentLogger(component string) Logger {
	return GetLogger().WithFields(String("component", component))
}
