package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はフィギュア・ストーリーのユーザー入力テキストを無害化する。
// 名前のような1行項目はタグをすべて除去し、descriptionは簡単な装飾だけを残す。
type TextSanitizer struct {
	plain *bluemonday.Policy
	rich  *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
// richポリシーの内容:
//   - 許可タグ: p, br, strong, em, ul, ol, li, blockquote, a
//   - aタグはhttp/httpsの絶対URLのみ。rel="nofollow noreferrer" と target="_blank" を付与
//   - script, style, iframe, img と on* 属性は除去
func NewTextSanitizer() *TextSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "strong", "em", "ul", "ol", "li", "blockquote")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("http", "https")
	rich.AllowRelativeURLs(false)
	rich.RequireNoFollowOnLinks(true)
	rich.RequireNoReferrerOnLinks(true)
	rich.AddTargetBlankToFullyQualifiedLinks(true)

	return &TextSanitizer{
		plain: bluemonday.StrictPolicy(),
		rich:  rich,
	}
}

// Plain はタグをすべて取り除いたテキストを返す。
// bluemondayがエスケープした実体参照は元の文字に戻し、前後の空白を落とす。
func (s *TextSanitizer) Plain(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.plain.Sanitize(raw)))
}

// Rich は許可タグのみを残したHTMLを返す。同一入力には常に同一出力を返す。
func (s *TextSanitizer) Rich(raw string) string {
	return strings.TrimSpace(s.rich.Sanitize(raw))
}
