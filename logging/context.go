package logging

import "context"

type ctxFieldsKey struct{}

// ContextWithFields 返回携带附加字段的 ctx，StdLogger 输出时会带上这些字段
func ContextWithFields(ctx context.Context, fields ...Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	prev := FieldsFromContext(ctx)
	all := make([]Field, 0, len(prev)+len(fields))
	all = append(append(all, prev...), fields...)
	return context.WithValue(ctx, ctxFieldsKey{}, all)
}

// FieldsFromContext ctx 中的附加字段
func FieldsFromContext(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(ctxFieldsKey{}).([]Field)
	return fields
}
