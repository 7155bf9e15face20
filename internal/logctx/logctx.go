package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the request and user attached to the
// context. Records logged without such a context pass through unchanged.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if ud, ok := ctx.Value(userDataKey{}).(*UserData); ok {
		r.AddAttrs(slog.Group("user",
			slog.String("id", ud.UserID),
			slog.String("policy", ud.Policy),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type userDataKey struct{}

type UserData struct {
	UserID string
	Policy string
}

func WithUserData(ctx context.Context, data *UserData) context.Context {
	return context.WithValue(ctx, userDataKey{}, data)
}
