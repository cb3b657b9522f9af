// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/studytrack/internal/model"
)

// 上流の認証プロキシが設定する操作主体のヘッダー。
const (
	ActorIDHeader   = "X-Actor-ID"
	ActorRoleHeader = "X-Actor-Role"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// actorContextKey はリクエストコンテキストに操作主体を格納するためのキー。
var actorContextKey = contextKey("actor")

// NewActorMiddleware は認証済みの操作主体をヘッダーから読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーが欠けている、またはロールが不明な場合は401を返す。
func NewActorMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(ActorIDHeader))
			role, err := model.ParseRole(strings.ToLower(strings.TrimSpace(r.Header.Get(ActorRoleHeader))))
			if id == "" || err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "UNAUTHENTICATED",
					Message:  "操作主体を特定できません。",
					Category: "auth",
					Action:   "再度ログインしてください。",
				})
				return
			}

			ctx := ContextWithActor(r.Context(), model.Actor{ID: id, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext はリクエストコンテキストから操作主体を取得する。
// アクターミドルウェアを通過したリクエストでのみ有効。
func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(model.Actor)
	if !ok || actor.ID == "" {
		return model.Actor{}, false
	}
	return actor, true
}

// ContextWithActor はコンテキストに操作主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}
