package logger

import "context"

type ctxKey int

const traceIDKey ctxKey = iota

// WithTraceID tags ctx with the identifier linking log lines and decision
// records produced by one evaluation.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}
