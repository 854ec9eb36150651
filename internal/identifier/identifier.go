// Package identifier はユーザー識別子の検証・変換・生成を提供する。
//
// 識別子は認証サービスが採番する12バイトのオブジェクトIDを
// 24文字の小文字16進数で表現したもの。
// ローカル参照ストアやコンテンツに埋め込まれる識別子は必ずこの形式を満たす。
package identifier

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// rawLength は識別子のバイト長。
	rawLength = 12
	// encodedLength は16進エンコード後の文字数。
	encodedLength = rawLength * 2
	// syntheticPrefix は仮ユーザー名の接頭辞。
	syntheticPrefix = "User-"
	// syntheticIDChars は仮ユーザー名に使う識別子の先頭文字数。
	syntheticIDChars = 5
)

// ErrInvalidIdentifier は識別子の形式が不正であることを表す。
var ErrInvalidIdentifier = errors.New("invalid identifier")

// Identifier は検証済みのユーザー識別子。
type Identifier string

// String は識別子の文字列表現を返す。
func (id Identifier) String() string {
	return string(id)
}

// processUnique はプロセス起動時に1回だけ決まる5バイトの乱数。
var processUnique = initProcessUnique()

// counter は同一秒内の衝突を避けるための3バイトカウンタ。
var counter = initCounter()

// Validate はrawが識別子として正しい形式かを判定する。
// 24文字の16進数のみを受け付ける（大文字も可）。
func Validate(raw string) bool {
	if len(raw) != encodedLength {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

// Coerce はrawを識別子に変換する。
// 不正な形式の場合はErrInvalidIdentifierをラップしたエラーを返す。
func Coerce(raw string) (Identifier, error) {
	if !Validate(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}
	return Identifier(strings.ToLower(raw)), nil
}

// Generate は新しい識別子を生成する。
// 先頭4バイトにUNIX秒、続く5バイトにプロセス固有の乱数、
// 末尾3バイトに単調増加カウンタを配置する。
func Generate() Identifier {
	var b [rawLength]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(time.Now().Unix()))
	copy(b[4:9], processUnique[:])

	c := counter.Add(1)
	b[9] = byte(c >> 16)
	b[10] = byte(c >> 8)
	b[11] = byte(c)

	return Identifier(hex.EncodeToString(b[:]))
}

// SyntheticDisplayName は実名が得られない場合の仮ユーザー名を返す。
// 同じidに対しては常に同じ値を返す。
func SyntheticDisplayName(id Identifier) string {
	s := string(id)
	if len(s) > syntheticIDChars {
		s = s[:syntheticIDChars]
	}
	return syntheticPrefix + s
}

func initProcessUnique() [5]byte {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("identifier: cannot initialize process unique bytes: %v", err))
	}
	return b
}

func initCounter() *atomic.Uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("identifier: cannot initialize counter: %v", err))
	}
	c := &atomic.Uint32{}
	c.Store(binary.BigEndian.Uint32(b[:]) & 0x00ffffff)
	return c
}
