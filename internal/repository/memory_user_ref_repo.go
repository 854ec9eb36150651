package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/hitoshi/kizuna/internal/identifier"
	"github.com/hitoshi/kizuna/internal/model"
)

// MemoryUserRefRepo はプロセス内メモリに保持するローカル参照ストア。
// 単一プロセスでの動作確認とテストに使用する。
type MemoryUserRefRepo struct {
	mu      sync.RWMutex
	entries map[identifier.Identifier]memoryUserRef
}

type memoryUserRef struct {
	displayName string
	synthesized bool
}

// NewMemoryUserRefRepo は空のMemoryUserRefRepoを生成する。
func NewMemoryUserRefRepo() *MemoryUserRefRepo {
	return &MemoryUserRefRepo{
		entries: make(map[identifier.Identifier]memoryUserRef),
	}
}

// Get は指定IDのスナップショットを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRefRepo) Get(ctx context.Context, id identifier.Identifier) (*model.UserSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, nil
	}
	return &model.UserSnapshot{ID: id, DisplayName: e.displayName}, nil
}

// Put はスナップショットをUPSERTする。
func (r *MemoryUserRefRepo) Put(ctx context.Context, snapshot model.UserSnapshot, synthesized bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[snapshot.ID] = memoryUserRef{
		displayName: snapshot.DisplayName,
		synthesized: synthesized,
	}
	return nil
}

// List は保持している全スナップショットを表示名順に返す。
func (r *MemoryUserRefRepo) List(ctx context.Context) ([]model.UserSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	snapshots := make([]model.UserSnapshot, 0, len(r.entries))
	for id, e := range r.entries {
		snapshots = append(snapshots, model.UserSnapshot{ID: id, DisplayName: e.displayName})
	}
	r.mu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].DisplayName != snapshots[j].DisplayName {
			return snapshots[i].DisplayName < snapshots[j].DisplayName
		}
		return snapshots[i].ID < snapshots[j].ID
	})
	return snapshots, nil
}

// IsSynthesized は指定IDのエントリが仮に作成されたものかを返す。
func (r *MemoryUserRefRepo) IsSynthesized(id identifier.Identifier) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id].synthesized
}

// Len は保持しているエントリ数を返す。
func (r *MemoryUserRefRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// compile-time interface check
var _ UserRefRepository = (*MemoryUserRefRepo)(nil)
