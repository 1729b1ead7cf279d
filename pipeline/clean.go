package pipeline

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// 括号内的旁白、动作描写不朗读
	asidePattern = regexp.MustCompile(`[(（\[【][^()（）\[\]【】]*[)）\]】]`)
	htmlTag      = regexp.MustCompile(`<[^<>]*>`)
)

// CleanForTTS 生成送往 TTS 的文本：去掉括号旁白、HTML 标签、emoji 和句首标点。
// 没有可朗读字符时返回空串。
func CleanForTTS(text string) string {
	// 嵌套括号由内向外逐层去除
	for {
		next := asidePattern.ReplaceAllString(text, "")
		if next == text {
			break
		}
		text = next
	}
	text = htmlTag.ReplaceAllString(text, "")
	text = strings.Map(func(r rune) rune {
		if isEmoji(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimLeftFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || r == '~' || r == '～'
	})
	text = strings.TrimSpace(text)

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return text
		}
	}
	return ""
}

// isEmoji 覆盖表情与象形符号、杂项符号、变体选择符和 ZWJ
func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r == 0x200D:
		return true
	}
	return false
}
