// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は生徒・教師が入力する自由記述（課題の説明、学習メモ、クラス名）から
// マークアップを除去し、プレーンテキストとして保存できる形にそろえる。
// bluemondayのStrictPolicyで全タグを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由記述テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize は入力から全てのHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
	// script / style要素は中身ごと除去される。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// maxSanitizePasses は実体参照の入れ子を展開する上限。
const maxSanitizePasses = 8

// Sanitize はタグを除去したプレーンテキストを返す。
// StrictPolicyは出力をHTMLエスケープするため、保存用に実体参照を戻す。
// 戻した結果にタグが現れる場合（&lt;b&gt; など）があるため、出力が変わらなくなるまで繰り返す。
func (s *textSanitizer) Sanitize(raw string) string {
	out := raw
	for i := 0; i < maxSanitizePasses && out != ""; i++ {
		next := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(out)))
		if next == out {
			break
		}
		out = next
	}
	return out
}
