// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/kizuna/internal/model"
)

// credentialCookieName は認証サービスが発行するトークンのCookie名。
const credentialCookieName = "token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// callerContextKey はリクエストコンテキストに呼び出し元を格納するためのキー。
var callerContextKey = contextKey("caller")

// credentialClaims は認証サービスが署名するトークンのクレーム。
// usernameは必須、idは任意（subでも可）。
type credentialClaims struct {
	Username string `json:"username"`
	ID       string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

// NewCredentialMiddleware はCookie "token" またはAuthorization: Bearerからトークンを読み取り、
// HS256署名と有効期限を検証するミドルウェアを返す。
// 検証済みの呼び出し元をリクエストコンテキストに注入する。
// トークンがなければ401 UNAUTHENTICATED、不正・期限切れなら401 SESSION_EXPIREDを返す。
func NewCredentialMiddleware(secret []byte) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := credentialFromRequest(r)
			if raw == "" {
				WriteAPIError(w, model.NewUnauthenticatedError())
				return
			}

			caller, err := parseCredential(raw, secret)
			if err != nil {
				slog.Warn("credential rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteAPIError(w, model.NewSessionExpiredError())
				return
			}

			if holder, ok := r.Context().Value(callerHolderKey).(*callerHolder); ok {
				holder.user = caller.Username
			}
			ctx := ContextWithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// credentialFromRequest はCookieを優先し、なければBearerヘッダーからトークンを取り出す。
func credentialFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(credentialCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func parseCredential(raw string, secret []byte) (model.Caller, error) {
	claims := &credentialClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return model.Caller{}, err
	}
	if !parsed.Valid {
		return model.Caller{}, errors.New("invalid token")
	}
	if claims.Username == "" {
		return model.Caller{}, errors.New("username claim is missing")
	}

	userID := claims.ID
	if userID == "" {
		userID = claims.Subject
	}

	return model.Caller{
		Username:   claims.Username,
		UserID:     userID,
		Credential: raw,
	}, nil
}

// CallerFromContext はリクエストコンテキストから呼び出し元を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func CallerFromContext(ctx context.Context) (model.Caller, error) {
	caller, ok := ctx.Value(callerContextKey).(model.Caller)
	if !ok || caller.Username == "" {
		return model.Caller{}, fmt.Errorf("caller not found in context")
	}
	return caller, nil
}

// ContextWithCaller はコンテキストに呼び出し元を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithCaller(ctx context.Context, caller model.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

func contextWithCallerHolder(ctx context.Context, holder *callerHolder) context.Context {
	return context.WithValue(ctx, callerHolderKey, holder)
}

// callerKey はレート制限やログで呼び出し元を識別するキーを返す。
// IDがない呼び出し元はユーザー名で識別する。
func callerKey(caller model.Caller) string {
	if caller.UserID != "" {
		return caller.UserID
	}
	return "name:" + caller.Username
}
