// Package model はドメインモデルを定義する。
package model

import "time"

// Post はコミュニティ投稿を表す。
// Authorは永続化時には識別子のみを持ち、表示名は読み出し時に補完される。
type Post struct {
	ID        string
	Author    UserSnapshot
	Title     string
	Content   string
	Category  string
	AISummary string
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// HelpRequest は支援依頼を表す。
// Volunteersの並び順は登録順を保持する。
type HelpRequest struct {
	ID          string
	Author      UserSnapshot
	Description string
	Location    string
	IsResolved  bool
	Volunteers  []UserSnapshot
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// PostPatch は投稿の部分更新内容。nilのフィールドは変更しない。
type PostPatch struct {
	Title     *string
	Content   *string
	Category  *string
	AISummary *string
}

// HelpRequestPatch は支援依頼の部分更新内容。nilのフィールドは変更しない。
type HelpRequestPatch struct {
	Description *string
	Location    *string
	IsResolved  *bool
}
