package util

import "strings"

const (
	KakaoSeeMorePadding = 500
	KakaoZeroWidthSpace = "\u200b"
)

// SeeMore puts instruction on the first line and hides text behind
// KakaoTalk's '전체보기' fold by padding with zero-width spaces.
func SeeMore(text, instruction string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	head := strings.TrimSpace(instruction)

	var b strings.Builder
	b.Grow(len(head) + KakaoSeeMorePadding*len(KakaoZeroWidthSpace) + len(text) + 1)
	b.WriteString(head)
	b.WriteString(strings.Repeat(KakaoZeroWidthSpace, KakaoSeeMorePadding))
	if !strings.HasPrefix(text, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(text)
	return b.String()
}

// SeeMoreWithHeader is SeeMore for text whose first line already is the
// header; the header moves above the fold instead of appearing twice.
func SeeMoreWithHeader(text, header string) string {
	return SeeMore(StripLeadingHeader(text, header), header)
}

// StripLeadingHeader removes header and the blank lines right after it.
func StripLeadingHeader(text, header string) string {
	if strings.TrimSpace(header) == "" {
		return text
	}
	rest, ok := strings.CutPrefix(text, header)
	if !ok {
		return text
	}
	return strings.TrimLeft(rest, "\r\n")
}
