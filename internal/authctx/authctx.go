package authctx

import (
	"context"
)

type ctxKeySessionID struct{}

type ctxKeyUserID struct{}

var (
	sessionIDKey = ctxKeySessionID{}
	userIDKey    = ctxKeyUserID{}
)

// WithSessionID сохраняет session_id в контексте
func WithSessionID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sid)
}

// SessionIDFromContext возвращает session_id из контекста, если он был установлен
func SessionIDFromContext(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(sessionIDKey).(string)
	return sid, ok
}

// WithUserID сохраняет id покупателя (requester) в контексте
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext возвращает user_id и true, если значение найдено и не пустое
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
