package handler

import "context"

type ctxKey int

const clientIPKey ctxKey = iota

// WithClientIP attaches the connection's remote IP to ctx, so per-IP rate
// limiting (login, 2FA) can reach it without threading it through every
// Handler's signature. Set once, at websocket upgrade time, on the ctx
// passed to wire.Conn.ReadLoop — every frame on that connection shares it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext returns the IP set by WithClientIP, or "" if none.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
