package auth

import "context"

// actorKey 是上下文中存储操作者账户 ID 的键类型。
type actorKey struct{}

// WithActor 将经过认证的账户 ID 写入上下文。
func WithActor(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext 从上下文中提取账户 ID，未认证时返回空串。
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if userID, ok := ctx.Value(actorKey{}).(string); ok {
		return userID
	}
	return ""
}
