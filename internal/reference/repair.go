package reference

import (
	"context"

	"github.com/hitoshi/kizuna/internal/metrics"
	"github.com/hitoshi/kizuna/internal/model"
)

// ReferenceResolver は参照解決のインターフェース。Repairerから利用する。
type ReferenceResolver interface {
	Resolve(ctx context.Context, rawID, credential string) model.UserSnapshot
}

var _ ReferenceResolver = (*Resolver)(nil)

// Repairer は読み出したコンテンツの埋め込みユーザー参照を応答前に補修する。
// 表示名が埋まっている参照はそのまま残し、空の参照だけを解決し直す。
// 永続化されている識別子は書き換えない。
type Repairer struct {
	resolver ReferenceResolver
	metrics  metrics.MetricsCollector
}

// NewRepairer はRepairerの新しいインスタンスを生成する。
func NewRepairer(resolver ReferenceResolver, m metrics.MetricsCollector) *Repairer {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Repairer{resolver: resolver, metrics: m}
}

// RepairPost は投稿の作成者を補修したコピーを返す。
func (r *Repairer) RepairPost(ctx context.Context, post model.Post, credential string) model.Post {
	post.Author = r.repairRef(ctx, post.Author, credential, "author")
	return post
}

// RepairPosts は投稿の一覧を補修する。入力のスライスは変更しない。
func (r *Repairer) RepairPosts(ctx context.Context, posts []model.Post, credential string) []model.Post {
	out := make([]model.Post, len(posts))
	for i, p := range posts {
		out[i] = r.RepairPost(ctx, p, credential)
	}
	return out
}

// RepairHelpRequest は支援依頼の作成者とボランティアを補修したコピーを返す。
// ボランティアの順序は保持し、各エントリは独立して解決する。
func (r *Repairer) RepairHelpRequest(ctx context.Context, req model.HelpRequest, credential string) model.HelpRequest {
	req.Author = r.repairRef(ctx, req.Author, credential, "author")

	if req.Volunteers != nil {
		volunteers := make([]model.UserSnapshot, len(req.Volunteers))
		for i, v := range req.Volunteers {
			volunteers[i] = r.repairRef(ctx, v, credential, "volunteer")
		}
		req.Volunteers = volunteers
	}
	return req
}

// RepairHelpRequests は支援依頼の一覧を補修する。入力のスライスは変更しない。
func (r *Repairer) RepairHelpRequests(ctx context.Context, reqs []model.HelpRequest, credential string) []model.HelpRequest {
	out := make([]model.HelpRequest, len(reqs))
	for i, hr := range reqs {
		out[i] = r.RepairHelpRequest(ctx, hr, credential)
	}
	return out
}

func (r *Repairer) repairRef(ctx context.Context, ref model.UserSnapshot, credential, field string) model.UserSnapshot {
	if ref.IsResolved() {
		return ref
	}
	r.metrics.RecordRepair(field)
	return r.resolver.Resolve(ctx, ref.ID.String(), credential)
}
