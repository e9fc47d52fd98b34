package logging

import "context"

type attrsKey struct{}

// ContextWith returns ctx carrying extra key-value pairs that every
// backend appends to records logged with it, e.g. a request id.
func ContextWith(ctx context.Context, args ...any) context.Context {
	prev := attrsFrom(ctx)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, attrsKey{}, merged)
}

func attrsFrom(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	v, _ := ctx.Value(attrsKey{}).([]any)
	return v
}

// withContextAttrs prepends the ctx pairs to args.
func withContextAttrs(ctx context.Context, args []any) []any {
	extra := attrsFrom(ctx)
	if len(extra) == 0 {
		return args
	}
	return append(append(make([]any, 0, len(extra)+len(args)), extra...), args...)
}
