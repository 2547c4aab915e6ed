// Package logctx enriches slog records with values carried on the
// request context, so every log line emitted during a grant names the
// request, zone and resource it belongs to without threading loggers
// through call signatures.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler, appending context-derived groups to
// each record before delegating.
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

	if gd, ok := ctx.Value(grantDataKey{}).(*GrantData); ok {
		r.AddAttrs(slog.Group("grant",
			slog.String("zone", gd.ZoneID),
		))
	}

	if ed, ok := ctx.Value(exchangeDataKey{}).(*ExchangeData); ok {
		r.AddAttrs(slog.Group("exchange",
			slog.String("resource", ed.Resource),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

// RequestData identifies the inbound HTTP request.
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

type grantDataKey struct{}

// GrantData scopes records to one delegated grant invocation.
type GrantData struct {
	ZoneID string
}

func WithGrantData(ctx context.Context, data *GrantData) context.Context {
	return context.WithValue(ctx, grantDataKey{}, data)
}

type exchangeDataKey struct{}

// ExchangeData scopes records to one resource exchange within a grant.
type ExchangeData struct {
	Resource string
}

func WithExchangeData(ctx context.Context, data *ExchangeData) context.Context {
	return context.WithValue(ctx, exchangeDataKey{}, data)
}
