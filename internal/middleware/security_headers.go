package middleware

import "net/http"

// apiSecurityHeaders はJSONのみを返すAPIに付与するレスポンスヘッダー。
// ブラウザで描画されるコンテンツを返さないため、CSPはすべて拒否する。
var apiSecurityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":         "no-referrer",
	"Cache-Control":           "no-store",
}

// NewSecurityHeadersMiddleware はAPIレスポンスにセキュリティヘッダーを付与するミドルウェアを返す。
// ハンドラーが個別に設定したヘッダーは上書きしない。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range apiSecurityHeaders {
				if h.Get(k) == "" {
					h.Set(k, v)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
