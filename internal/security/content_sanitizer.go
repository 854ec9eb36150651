// Package security はユーザー投稿のサニタイズを提供する。
package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はユーザーが投稿したテキストのサニタイズ機能のインターフェース。
// 投稿・支援依頼の保存前に使用する。
type ContentSanitizerService interface {
	// Sanitize は本文など軽いマークアップを許す項目をサニタイズする。
	// 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, img。
	// aタグにはtarget="_blank"とrel="noopener noreferrer"を付与し、imgのsrcはhttpsのみ許可する。
	Sanitize(rawHTML string) string
	// StripTags はタイトルやカテゴリなどプレーンテキストの項目からタグをすべて除去し、前後の空白を落とす。
	StripTags(raw string) string
}

type contentSanitizer struct {
	rich   *bluemonday.Policy
	strict *bluemonday.Policy
}

var _ ContentSanitizerService = (*contentSanitizer)(nil)

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// ポリシーは生成時に1回だけ構築し、以降はゴルーチン間で共有できる。
func NewContentSanitizer() ContentSanitizerService {
	p := bluemonday.NewPolicy()

	// script, iframe, styleとon*属性は許可リストに含めないため除去される
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &contentSanitizer{
		rich:   p,
		strict: bluemonday.StrictPolicy(),
	}
}

func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.rich.Sanitize(rawHTML)
}

func (s *contentSanitizer) StripTags(raw string) string {
	return strings.TrimSpace(s.strict.Sanitize(raw))
}
