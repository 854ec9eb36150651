// Package model はドメインモデルを定義する。
package model

import "github.com/hitoshi/kizuna/internal/identifier"

// UserSnapshot はコンテンツサービスが保持するユーザーの非正規化コピー。
// 認証サービスから取得した値、または仮に合成した値のいずれか。
type UserSnapshot struct {
	ID          identifier.Identifier
	DisplayName string
}

// IsResolved は表示名まで埋まった参照かどうかを返す。
func (s UserSnapshot) IsResolved() bool {
	return s.DisplayName != ""
}

// Caller は検証済みクレデンシャルから得たリクエスト元の情報。
type Caller struct {
	Username   string
	UserID     string
	Credential string
}
