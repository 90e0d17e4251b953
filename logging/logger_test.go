package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFieldConstructors 测试字段构造函数
func TestFieldConstructors(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		wantKey string
	}{
		{name: "String字段", field: String("name", "test"), wantKey: "name"},
		{name: "Int字段", field: Int("count", 123), wantKey: "count"},
		{name: "Int64字段", field: Int64("id", 456), wantKey: "id"},
		{name: "Float64字段", field: Float64("price", 12.34), wantKey: "price"},
		{name: "Bool字段", field: Bool("active", true), wantKey: "active"},
		{name: "Error字段", field: Error(errors.New("boom")), wantKey: "error"},
		{name: "Entity字段", field: Entity("Book"), wantKey: "entity"},
		{name: "Key字段", field: Key(int64(3)), wantKey: "key"},
		{name: "Session字段", field: Session("s-1"), wantKey: "session"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKey, tt.field.Key)
			assert.NotNil(t, tt.field.Value)
		})
	}
}

// TestFormatValue 测试值格式化
func TestFormatValue(t *testing.T) {
	assert.Equal(t, "test", formatValue("test"))
	assert.Equal(t, "\"error message\"", formatValue(errors.New("error message")))
	assert.Equal(t, "boom", formatValue(errors.New("boom")))
	assert.Equal(t, "123", formatValue(123))
	assert.Equal(t, "true", formatValue(true))
	assert.Equal(t, "<nil>", formatValue(nil))
	assert.Equal(t, "UNKNOWN", Level(9).String())
}

// TestWriterLogger_Levels 低于阈值的日志应被丢弃
func TestWriterLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("orm", &buf, InfoLevel)
	ctx := context.Background()

	logger.Debug(ctx, "hidden")
	logger.Info(ctx, "commit", Int("inserts", 2))
	logger.Warn(ctx, "stale", Entity("Book"), Key(int64(1)))
	logger.Error(ctx, "failed", Error(errors.New("boom")))

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "[INFO] orm commit inserts=2")
	assert.Contains(t, output, "[WARN] orm stale entity=Book key=1")
	assert.Contains(t, output, "error=boom")
}

// TestStdLogger_WithFields 测试WithFields
func TestStdLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("", &buf, DebugLevel)
	child := logger.WithFields(String("component", "session"), Session("abc"))

	child.Info(context.Background(), "opened", String("mode", "rw"))

	output := buf.String()
	assert.Contains(t, output, "component=session")
	assert.Contains(t, output, "session=abc")
	assert.Contains(t, output, "mode=rw")
	// 原Logger的fields应该不变
	assert.Empty(t, logger.fields)
	require.IsType(t, &StdLogger{}, child)
	assert.Len(t, child.(*StdLogger).fields, 2)
}

// TestParseLevel 测试级别解析
func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, "WARN", WarnLevel.String())
}

// TestNoopLogger 测试NoopLogger
func TestNoopLogger(t *testing.T) {
	logger := NewNoopLogger()
	ctx := context.Background()

	logger.Debug(ctx, "test")
	logger.Info(ctx, "test")
	logger.Warn(ctx, "test")
	logger.Error(ctx, "test")

	assert.Same(t, logger, logger.WithFields(String("key", "value")))
}

// TestGlobalLogger 测试全局Logger
func TestGlobalLogger(t *testing.T) {
	original := GetLogger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetLogger(NewWriterLogger("", &buf, DebugLevel))

	ComponentLogger("flush").Info(context.Background(), "done")
	assert.True(t, strings.Contains(buf.String(), "component=flush"))
}

func TestFormatValue_Quotes(t *testing.T) {
	assert.Equal(t, `"from Book b"`, formatValue("from Book b"))
	assert.Equal(t, `""`, formatValue(""))
	assert.Equal(t, `"a=b"`, formatValue("a=b"))
}

// TestStdLogger_SharedLevel 派生 Logger 跟随父级别
func TestStdLogger_SharedLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriterLogger("", &buf, InfoLevel)
	child := parent.WithFields(String("component", "orm"))

	child.Debug(context.Background(), "plan compiled")
	assert.Empty(t, buf.String())

	parent.SetLevel(DebugLevel)
	child.Debug(context.Background(), "plan compiled")
	assert.Contains(t, buf.String(), "[DEBUG] plan compiled component=orm")
}

func TestStdLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("", &buf, DebugLevel).WithFields(Session("s-1"))

	ctx := ContextWithFields(context.Background(), Int("tx", 2))
	ctx = ContextWithFields(ctx, String("op", "flush"))
	logger.Info(ctx, "committed", Int("changes", 3))

	assert.Contains(t, buf.String(), "committed session=s-1 tx=2 op=flush changes=3")
	assert.Empty(t, FieldsFromContext(context.Background()))
	assert.Equal(t, ctx, ContextWithFields(ctx))
}
