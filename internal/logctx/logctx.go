package logctx

import (
	"context"
	"log/slog"
	"strconv"
)

// Handler decorates records with the command, session and engine-call data
// carried by the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(commandDataKey{}).(*CommandData); ok {
		r.AddAttrs(slog.Group("cmd",
			slog.String("id", cd.CommandID),
			slog.String("name", cd.Name),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("chain_id", strconv.FormatUint(sd.ChainID, 10)),
			slog.String("owner", sd.Owner),
			slog.String("private_address", sd.PrivateAddress),
		))
	}

	if rc, ok := ctx.Value(rpcCallKey{}).(*RPCCall); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", rc.Method),
			slog.String("handle", rc.Handle),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{h.Handler.WithGroup(name)}
}

type commandDataKey struct{}

// CommandData identifies one user command.
type CommandData struct {
	CommandID string
	Name      string
}

func WithCommandData(ctx context.Context, data *CommandData) context.Context {
	return context.WithValue(ctx, commandDataKey{}, data)
}

type sessionDataKey struct{}

// SessionData identifies the active privacy session. It never carries key or
// seed material.
type SessionData struct {
	ChainID        uint64
	Owner          string
	PrivateAddress string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type rpcCallKey struct{}

// RPCCall describes an outbound engine call.
type RPCCall struct {
	Method string
	Handle string
}

func WithRPCCall(ctx context.Context, call *RPCCall) context.Context {
	return context.WithValue(ctx, rpcCallKey{}, call)
}
