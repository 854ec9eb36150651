// Package reference はコンテンツに埋め込まれたユーザー参照の解決と補修を提供する。
//
// 解決は「正規化 → ローカル参照ストア → IDサービス → 合成」の順に試行し、
// 最初に結果を得た段階で打ち切る。どの段階が失敗しても呼び出し元にエラーは返さず、
// 最終的には合成したプレースホルダーのユーザーを返す。
package reference

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/kizuna/internal/identifier"
	"github.com/hitoshi/kizuna/internal/identity"
	"github.com/hitoshi/kizuna/internal/metrics"
	"github.com/hitoshi/kizuna/internal/model"
	"github.com/hitoshi/kizuna/internal/repository"
	"golang.org/x/sync/singleflight"
)

// Source は参照解決の結果を得た段階を表す。
type Source string

const (
	SourceCache       Source = "cache"
	SourceRemote      Source = "remote"
	SourceSynthesized Source = "synthesized"
)

// DefaultStoreTimeout はローカル参照ストアへの1回のアクセスの既定タイムアウト。
const DefaultStoreTimeout = 2 * time.Second

// resolution は各段階の結果。okがfalseの場合は次の段階へ進む。
type resolution struct {
	snapshot model.UserSnapshot
	source   Source
	ok       bool
}

// request は1回の解決で各段階が共有する状態。
type request struct {
	raw        string
	id         identifier.Identifier
	valid      bool
	credential string
	// fallbackName は合成時に使う表示名。空の場合はSyntheticDisplayNameを使う。
	fallbackName string
	// probeFailed はストアの読み取りがエラーになったことを示す。
	// この場合、既存エントリを上書きしないよう合成結果は書き戻さない。
	probeFailed bool
}

// stage は試行リストの1段階。
type stage func(ctx context.Context, req *request) resolution

// Resolver は外部から渡されたユーザー識別子をUserSnapshotに解決する。
// ストアとIDサービスは起動時に1つ生成して注入する。
type Resolver struct {
	store        repository.UserRefRepository
	lookup       identity.Lookup
	logger       *slog.Logger
	metrics      metrics.MetricsCollector
	storeTimeout time.Duration
	group        *singleflight.Group
}

// Option はResolverの任意設定。
type Option func(*Resolver)

// WithStoreTimeout はストアへの1回のアクセスのタイムアウトを設定する。0以下は無制限。
func WithStoreTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.storeTimeout = d }
}

// WithSingleFlight は同一IDの同時解決を1回にまとめるかどうかを設定する。
// 無効にすると同時に解決された同じIDはそれぞれストアに書き込み、最後の書き込みが残る。
func WithSingleFlight(enabled bool) Option {
	return func(r *Resolver) {
		if enabled {
			r.group = &singleflight.Group{}
		} else {
			r.group = nil
		}
	}
}

// WithMetrics はメトリクス収集先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(r *Resolver) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewResolver はResolverの新しいインスタンスを生成する。
// 既定ではシングルフライトが有効。
func NewResolver(store repository.UserRefRepository, lookup identity.Lookup, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		store:        store,
		lookup:       lookup,
		logger:       logger,
		metrics:      metrics.Nop{},
		storeTimeout: DefaultStoreTimeout,
		group:        &singleflight.Group{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve はrawIDをUserSnapshotに解決する。エラーは返さない。
func (r *Resolver) Resolve(ctx context.Context, rawID, credential string) model.UserSnapshot {
	return r.resolve(ctx, &request{raw: rawID, credential: credential})
}

// ResolveCaller は呼び出し元ユーザー自身の参照を解決する。
// IDサービスに該当がない場合は、合成名の代わりに呼び出し元のユーザー名で登録する。
// 呼び出し元のIDが不正な場合は新しいIDを払い出す。
func (r *Resolver) ResolveCaller(ctx context.Context, caller model.Caller) model.UserSnapshot {
	return r.resolve(ctx, &request{
		raw:          caller.UserID,
		credential:   caller.Credential,
		fallbackName: caller.Username,
	})
}

// ResolveAll は複数の識別子を順に解決する。結果の順序は入力と一致する。
// 1件の解決失敗は他の件に影響しない。
func (r *Resolver) ResolveAll(ctx context.Context, rawIDs []string, credential string) []model.UserSnapshot {
	out := make([]model.UserSnapshot, len(rawIDs))
	for i, raw := range rawIDs {
		out[i] = r.Resolve(ctx, raw, credential)
	}
	return out
}

func (r *Resolver) resolve(ctx context.Context, req *request) model.UserSnapshot {
	if id, err := identifier.Coerce(req.raw); err == nil {
		req.id = id
		req.valid = true
	}

	// 不正なIDは毎回新しいIDを払い出すため、まとめる対象にしない
	if r.group == nil || !req.valid {
		return r.run(ctx, req)
	}

	key := req.id.String()
	if req.fallbackName != "" {
		key += "\x00" + req.fallbackName
	}
	ch := r.group.DoChan(key, func() (interface{}, error) {
		// 先行した呼び出し元のキャンセルが後続の待ち手に波及しないよう切り離す。
		// 各段階はストアとIDサービスのタイムアウトで抑えられている。
		return r.run(context.WithoutCancel(ctx), req), nil
	})

	select {
	case res := <-ch:
		return res.Val.(model.UserSnapshot)
	case <-ctx.Done():
		r.logger.Debug("参照解決の待機を中断しました",
			slog.String("user_id", req.id.String()),
			slog.String("error", ctx.Err().Error()),
		)
		name := req.fallbackName
		if name == "" {
			name = identifier.SyntheticDisplayName(req.id)
		}
		return model.UserSnapshot{ID: req.id, DisplayName: name}
	}
}

// run は試行リストを順に実行し、最初に得られた結果を返す。
func (r *Resolver) run(ctx context.Context, req *request) model.UserSnapshot {
	stages := []stage{r.probeCache, r.reconcileRemote, r.synthesize}
	for _, s := range stages {
		res := s(ctx, req)
		if !res.ok {
			continue
		}
		r.metrics.RecordResolution(string(res.source))
		return res.snapshot
	}
	// synthesizeは常に結果を返すためここには到達しない
	panic("reference: no stage produced a result")
}

// probeCache はローカル参照ストアを参照する。不正なIDの場合は何もしない。
func (r *Resolver) probeCache(ctx context.Context, req *request) resolution {
	if !req.valid {
		return resolution{}
	}

	storeCtx, cancel := r.storeContext(ctx)
	defer cancel()

	snapshot, err := r.store.Get(storeCtx, req.id)
	if err != nil {
		req.probeFailed = true
		r.logger.Warn("参照ストアの読み取りに失敗しました。未登録として扱います",
			slog.String("user_id", req.id.String()),
			slog.String("error", err.Error()),
		)
		return resolution{}
	}
	if snapshot == nil {
		return resolution{}
	}
	// 表示名が空のエントリは解決済みとみなさない
	if snapshot.DisplayName == "" {
		r.logger.Warn("参照ストアのエントリに表示名がありません。未登録として扱います",
			slog.String("user_id", req.id.String()),
		)
		return resolution{}
	}

	r.logger.Debug("参照ストアから解決しました",
		slog.String("user_id", req.id.String()),
		slog.String("source", string(SourceCache)),
	)
	return resolution{snapshot: *snapshot, source: SourceCache, ok: true}
}

// reconcileRemote はIDサービスからユーザー一覧を取得し、該当するユーザーをストアに書き戻す。
func (r *Resolver) reconcileRemote(ctx context.Context, req *request) resolution {
	if !req.valid || r.lookup == nil {
		return resolution{}
	}

	users, err := r.lookup.FetchAllUsers(ctx, req.credential)
	if err != nil {
		r.logger.Warn("IDサービスから解決できませんでした。合成にフォールバックします",
			slog.String("user_id", req.id.String()),
			slog.String("reason", lookupFailureReason(err)),
			slog.String("error", err.Error()),
		)
		return resolution{}
	}

	for _, u := range users {
		if u.ID != req.id || u.DisplayName == "" {
			continue
		}
		snapshot := model.UserSnapshot{ID: req.id, DisplayName: u.DisplayName}
		r.put(ctx, snapshot, false)
		r.logger.Info("IDサービスから解決しました",
			slog.String("user_id", req.id.String()),
			slog.String("source", string(SourceRemote)),
		)
		return resolution{snapshot: snapshot, source: SourceRemote, ok: true}
	}

	r.logger.Warn("IDサービスに該当するユーザーがいません。合成にフォールバックします",
		slog.String("user_id", req.id.String()),
		slog.Int("remote_users", len(users)),
	)
	return resolution{}
}

// synthesize はプレースホルダーのユーザーを合成してストアに書き込む。常に結果を返す。
func (r *Resolver) synthesize(ctx context.Context, req *request) resolution {
	id := req.id
	if !req.valid {
		id = identifier.Generate()
	}

	name := req.fallbackName
	if name == "" {
		name = identifier.SyntheticDisplayName(id)
	}
	snapshot := model.UserSnapshot{ID: id, DisplayName: name}

	if req.probeFailed {
		r.logger.Warn("参照ストアの状態が不明なため、合成したユーザーを書き戻しません",
			slog.String("user_id", id.String()),
		)
	} else {
		r.put(ctx, snapshot, true)
	}

	r.logger.Warn("プレースホルダーのユーザーを合成しました",
		slog.String("user_id", id.String()),
		slog.String("raw_id", req.raw),
		slog.Bool("raw_id_valid", req.valid),
		slog.String("source", string(SourceSynthesized)),
	)
	return resolution{snapshot: snapshot, source: SourceSynthesized, ok: true}
}

// put はストアへの書き込みを行う。失敗はログに記録するのみで、解決結果には影響しない。
func (r *Resolver) put(ctx context.Context, snapshot model.UserSnapshot, synthesized bool) {
	storeCtx, cancel := r.storeContext(ctx)
	defer cancel()

	if err := r.store.Put(storeCtx, snapshot, synthesized); err != nil {
		r.logger.Error("参照ストアへの書き込みに失敗しました",
			slog.String("user_id", snapshot.ID.String()),
			slog.Bool("synthesized", synthesized),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Resolver) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.storeTimeout)
}

func lookupFailureReason(err error) string {
	switch {
	case errors.Is(err, identity.ErrRemoteRejected):
		return "rejected"
	case errors.Is(err, identity.ErrRemoteMalformed):
		return "malformed"
	case errors.Is(err, identity.ErrRemoteUnavailable):
		return "unavailable"
	default:
		return "unknown"
	}
}
