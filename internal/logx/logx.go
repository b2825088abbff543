package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/schema"
)

type contextKey int

const (
	serverKey contextKey = iota
	sessionKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithServer annotates the logger with the server id if present.
func WithServer(ctx context.Context, serverID schema.ServerID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if serverID != "" {
		if current, ok := ctx.Value(serverKey).(schema.ServerID); ok && current == serverID {
			return log
		}
		log = log.With("server", serverID)
	}
	return log
}

// WithServerSession annotates the logger with server and session identifiers.
func WithServerSession(ctx context.Context, serverID schema.ServerID, sessionID schema.SessionID) pslog.Logger {
	log := WithServer(ctx, serverID)
	if sessionID != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return log
		}
		log = log.With("session", sessionID)
	}
	return log
}

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithTab annotates the logger with a tab id when available.
func WithTab(log pslog.Logger, tabID schema.TabID) pslog.Logger {
	if tabID != "" {
		log = log.With("tab", tabID)
	}
	return log
}

// ContextWithServer stores the server marker on the context for log de-duplication.
func ContextWithServer(ctx context.Context, serverID schema.ServerID) context.Context {
	if ctx == nil || serverID == "" {
		return ctx
	}
	return context.WithValue(ctx, serverKey, serverID)
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithSessionLogger attaches the logger and server/session markers to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, serverID schema.ServerID, sessionID schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ContextWithServer(ctx, serverID), sessionID)
}

// Detach returns a background context carrying the logger and markers of ctx.
// Used for work that must outlive the request that started it.
func Detach(ctx context.Context) context.Context {
	base := context.Background()
	if ctx == nil {
		return base
	}
	base = pslog.ContextWithLogger(base, pslog.Ctx(ctx))
	if server, ok := ctx.Value(serverKey).(schema.ServerID); ok && server != "" {
		base = ContextWithServer(base, server)
	}
	if session, ok := ctx.Value(sessionKey).(schema.SessionID); ok && session != "" {
		base = ContextWithSession(base, session)
	}
	return base
}
