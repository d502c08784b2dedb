package handlerctx

import "context"

type ctxKey struct{}

// Info identifies which handler, and optionally which client, a context
// belongs to.
type Info struct {
	HandlerID string
	ClientID  string
}

// With attaches info to ctx.
func With(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

// From retrieves the Info attached by With, if any.
func From(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(ctxKey{}).(Info)
	return info, ok
}

// HandlerIDFromContext returns the handler id attached to ctx, or "" if
// none was attached.
func HandlerIDFromContext(ctx context.Context) string {
	info, ok := From(ctx)
	if !ok {
		return ""
	}
	return info.HandlerID
}

// ClientIDFromContext returns the client id attached to ctx, or "" if
// none was attached (e.g. inside CreateMoreJobs, which is not run on
// behalf of any one client).
func ClientIDFromContext(ctx context.Context) string {
	info, ok := From(ctx)
	if !ok {
		return ""
	}
	return info.ClientID
}
