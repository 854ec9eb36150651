// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/kizuna/internal/identifier"
	"github.com/hitoshi/kizuna/internal/model"
)

// UserRefRepository はローカル参照ストアのインターフェース。
// 認証サービスから取得した、または合成したユーザースナップショットをID単位で保持する。
// 削除と有効期限は持たない。同一IDへのPutは後勝ちで上書きする。
type UserRefRepository interface {
	// Get は指定IDのスナップショットを取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, id identifier.Identifier) (*model.UserSnapshot, error)

	// Put はスナップショットをUPSERTする。
	// synthesizedは認証サービスの実データではなく仮に作成した値であることを示す。
	Put(ctx context.Context, snapshot model.UserSnapshot, synthesized bool) error

	// List は保持している全スナップショットを返す。
	List(ctx context.Context) ([]model.UserSnapshot, error)
}

// PostRepository はコミュニティ投稿の永続化インターフェース。
// 読み出し時の著者表示名はローカル参照ストアから補完される（未登録なら空）。
type PostRepository interface {
	// List は全投稿を作成日時の降順で返す。
	List(ctx context.Context) ([]model.Post, error)

	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// Create は投稿を作成する。著者は識別子のみ保存する。
	Create(ctx context.Context, post *model.Post) error

	// Update は投稿を部分更新して更新後の投稿を返す。見つからない場合はnilを返す。
	Update(ctx context.Context, id string, patch model.PostPatch) (*model.Post, error)

	// Delete は投稿を削除して削除前の投稿を返す。見つからない場合はnilを返す。
	Delete(ctx context.Context, id string) (*model.Post, error)
}

// HelpRequestRepository は支援依頼の永続化インターフェース。
// 著者とボランティアの表示名はローカル参照ストアから補完される（未登録なら空）。
type HelpRequestRepository interface {
	// List は全支援依頼を作成日時の降順で返す。
	List(ctx context.Context) ([]model.HelpRequest, error)

	// FindByID は指定IDの支援依頼を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.HelpRequest, error)

	// Create は支援依頼を作成する。著者とボランティアは識別子のみ保存する。
	Create(ctx context.Context, req *model.HelpRequest) error

	// Update は支援依頼を部分更新して更新後の支援依頼を返す。見つからない場合はnilを返す。
	// volunteersがnilの場合はボランティア一覧を変更しない。
	Update(ctx context.Context, id string, patch model.HelpRequestPatch, volunteers []identifier.Identifier) (*model.HelpRequest, error)

	// MarkResolved は支援依頼を解決済みにする。対象が存在した場合はtrueを返す。
	MarkResolved(ctx context.Context, id string) (bool, error)

	// Delete は支援依頼を削除して削除前の支援依頼を返す。見つからない場合はnilを返す。
	Delete(ctx context.Context, id string) (*model.HelpRequest, error)
}
