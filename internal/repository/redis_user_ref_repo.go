package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/hitoshi/kizuna/internal/identifier"
	"github.com/hitoshi/kizuna/internal/model"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix はRedis上のキー接頭辞のデフォルト値。
const DefaultRedisKeyPrefix = "kizuna:userref:"

const (
	fieldDisplayName = "display_name"
	fieldSynthesized = "synthesized"
	fieldUpdatedAt   = "updated_at"
)

// RedisUserRefRepo はRedisを使用したローカル参照ストア。
// エントリはIDごとのハッシュに保存し、一覧用にIDのセットを別キーで保持する。
// TTLは設定しない。
type RedisUserRefRepo struct {
	client *redis.Client
	prefix string
}

// NewRedisUserRefRepo はRedisのURLから接続してRedisUserRefRepoを生成する。
func NewRedisUserRefRepo(redisURL, prefix string) (*RedisUserRefRepo, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisUserRefRepoWithClient(client, prefix), nil
}

// NewRedisUserRefRepoWithClient は既存のクライアントからRedisUserRefRepoを生成する。
func NewRedisUserRefRepoWithClient(client *redis.Client, prefix string) *RedisUserRefRepo {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisUserRefRepo{client: client, prefix: prefix}
}

func (r *RedisUserRefRepo) entryKey(id identifier.Identifier) string {
	return r.prefix + "id:" + id.String()
}

func (r *RedisUserRefRepo) indexKey() string {
	return r.prefix + "index"
}

// Get は指定IDのスナップショットを取得する。見つからない場合はnilを返す。
func (r *RedisUserRefRepo) Get(ctx context.Context, id identifier.Identifier) (*model.UserSnapshot, error) {
	name, err := r.client.HGet(ctx, r.entryKey(id), fieldDisplayName).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user ref: %w", err)
	}
	return &model.UserSnapshot{ID: id, DisplayName: name}, nil
}

// Put はスナップショットをUPSERTする。
// ハッシュの更新とインデックスへの追加はMULTI/EXECでまとめて適用する。
func (r *RedisUserRefRepo) Put(ctx context.Context, snapshot model.UserSnapshot, synthesized bool) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.entryKey(snapshot.ID),
			fieldDisplayName, snapshot.DisplayName,
			fieldSynthesized, strconv.FormatBool(synthesized),
			fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano),
		)
		pipe.SAdd(ctx, r.indexKey(), snapshot.ID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("put user ref: %w", err)
	}
	return nil
}

// List は保持している全スナップショットを表示名順に返す。
func (r *RedisUserRefRepo) List(ctx context.Context) ([]model.UserSnapshot, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list user ref ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, r.entryKey(identifier.Identifier(id)), fieldDisplayName)
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("list user refs: %w", err)
	}

	snapshots := make([]model.UserSnapshot, 0, len(ids))
	for i, id := range ids {
		name, err := cmds[i].Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read user ref %s: %w", id, err)
		}
		snapshots = append(snapshots, model.UserSnapshot{
			ID:          identifier.Identifier(id),
			DisplayName: name,
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].DisplayName != snapshots[j].DisplayName {
			return snapshots[i].DisplayName < snapshots[j].DisplayName
		}
		return snapshots[i].ID < snapshots[j].ID
	})
	return snapshots, nil
}

// Ping はRedisへの疎通を確認する。
func (r *RedisUserRefRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close はRedis接続を閉じる。
func (r *RedisUserRefRepo) Close() error {
	return r.client.Close()
}

// compile-time interface check
var _ UserRefRepository = (*RedisUserRefRepo)(nil)
