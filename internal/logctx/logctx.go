// Package logctx carries request and launch details in a context so that
// every log record emitted with that context is annotated with them.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps a slog.Handler and appends "req" and "launch" groups from the
// record's context.
type Handler struct {
	slog.Handler
}

// New wraps h.
func New(h slog.Handler) Handler { return Handler{Handler: h} }

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

	if ld, ok := ctx.Value(launchDataKey{}).(*LaunchData); ok {
		r.AddAttrs(slog.Group("launch",
			slog.String("client_id", ld.ClientID),
			slog.String("issuer", ld.Issuer),
			slog.String("deployment_id", ld.DeploymentID),
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

type launchDataKey struct{}

// LaunchData describes the launch being authenticated. Fields are filled in
// as they become known; the struct is owned by a single authenticate call.
type LaunchData struct {
	ClientID     string
	Issuer       string
	DeploymentID string
}

func WithLaunchData(ctx context.Context, data *LaunchData) context.Context {
	return context.WithValue(ctx, launchDataKey{}, data)
}

// LaunchDataFrom returns the LaunchData stored in ctx, if any.
func LaunchDataFrom(ctx context.Context) (*LaunchData, bool) {
	ld, ok := ctx.Value(launchDataKey{}).(*LaunchData)
	return ld, ok
}
