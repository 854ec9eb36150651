// Package identity はIDサービス（ユーザー管理サービス）への問い合わせを提供する。
// GraphQLエンドポイントから全ユーザーの一覧を取得する。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/kizuna/internal/identifier"
	"github.com/hitoshi/kizuna/internal/metrics"
	"github.com/hitoshi/kizuna/internal/model"
	"golang.org/x/time/rate"
)

// 問い合わせ失敗の種別。errors.Isで判定する。
var (
	// ErrRemoteUnavailable はIDサービスに到達できない、またはタイムアウトした。
	ErrRemoteUnavailable = errors.New("identity service unavailable")
	// ErrRemoteRejected は資格情報が拒否された（未指定・401/403・未認証エラー）。
	ErrRemoteRejected = errors.New("identity service rejected credential")
	// ErrRemoteMalformed はレスポンスが期待する形式ではない。
	ErrRemoteMalformed = errors.New("identity service returned malformed response")
)

const (
	// usersQuery は全ユーザーのidとusernameを取得するGraphQLクエリ。
	usersQuery = "query { users { id username } }"
	// credentialCookie は資格情報を転送するCookie名。
	credentialCookie = "token"
	// maxResponseSize はレスポンスボディの上限（8MB）。
	maxResponseSize = 8 << 20
)

// Lookup はユーザー一覧取得のインターフェース。
// 参照解決器とユーザー一覧サービスから利用する。
type Lookup interface {
	FetchAllUsers(ctx context.Context, credential string) ([]model.UserSnapshot, error)
}

// Client はIDサービスのGraphQLクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	timeout    time.Duration
	limiter    *rate.Limiter
	metrics    metrics.MetricsCollector
}

var _ Lookup = (*Client)(nil)

// Option はClientの任意設定。
type Option func(*Client)

// WithTimeout は1回の問い合わせのタイムアウトを設定する。0以下は無制限。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit は毎秒の問い合わせ上限を設定する。0以下は無制限。
func WithRateLimit(perSecond int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		} else {
			c.limiter = nil
		}
	}
}

// WithMetrics はメトリクス収集先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		timeout:    5 * time.Second,
		metrics:    metrics.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type graphQLResponse struct {
	Data *struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchAllUsers はIDサービスから全ユーザーの一覧を取得する。
// 資格情報はCookie "token" として転送する。部分的な結果は返さない。
func (c *Client) FetchAllUsers(ctx context.Context, credential string) ([]model.UserSnapshot, error) {
	start := time.Now()
	users, err := c.fetchAllUsers(ctx, credential)
	c.metrics.RecordLookupLatency(time.Since(start))
	if err != nil {
		c.metrics.RecordLookupFailure(failureKind(err))
		c.logger.Warn("IDサービスからのユーザー一覧取得に失敗しました",
			slog.String("error", err.Error()),
			slog.String("kind", failureKind(err)),
		)
		return nil, err
	}
	return users, nil
}

func (c *Client) fetchAllUsers(ctx context.Context, credential string) ([]model.UserSnapshot, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: credential is empty", ErrRemoteRejected)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", ErrRemoteUnavailable, err)
		}
	}

	payload, err := json.Marshal(graphQLRequest{Query: usersQuery})
	if err != nil {
		return nil, fmt.Errorf("リクエストボディの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: HTTPリクエストの作成に失敗しました: %v", ErrRemoteUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Kizuna/1.0")
	req.AddCookie(&http.Cookie{Name: credentialCookie, Value: credential})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrRemoteRejected, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: status %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: レスポンスボディの読み取りに失敗しました: %v", ErrRemoteUnavailable, err)
	}

	var result graphQLResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteMalformed, err)
	}

	if len(result.Errors) > 0 {
		msg := result.Errors[0].Message
		if isAuthError(msg) {
			return nil, fmt.Errorf("%w: %s", ErrRemoteRejected, msg)
		}
		return nil, fmt.Errorf("%w: %s", ErrRemoteMalformed, msg)
	}

	if result.Data == nil || result.Data.Users == nil {
		return nil, fmt.Errorf("%w: data.users is missing", ErrRemoteMalformed)
	}

	users := make([]model.UserSnapshot, 0, len(result.Data.Users))
	for i, u := range result.Data.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("%w: users[%d] has empty id", ErrRemoteMalformed, i)
		}
		if u.Username == "" {
			return nil, fmt.Errorf("%w: users[%d] has empty username", ErrRemoteMalformed, i)
		}
		// IDサービスのid形式は識別子と一致するが、大文字が来ても比較できるよう正規化する
		id := identifier.Identifier(u.ID)
		if coerced, err := identifier.Coerce(u.ID); err == nil {
			id = coerced
		}
		users = append(users, model.UserSnapshot{ID: id, DisplayName: u.Username})
	}

	return users, nil
}

func isAuthError(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "not authenticated") || strings.Contains(m, "unauthenticated") || strings.Contains(m, "unauthorized")
}

// failureKind はエラーをメトリクス・ログ用の種別文字列に変換する。
func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrRemoteRejected):
		return "rejected"
	case errors.Is(err, ErrRemoteMalformed):
		return "malformed"
	default:
		return "unavailable"
	}
}
