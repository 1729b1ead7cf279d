package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sentence 一个待合成的句子
type Sentence struct {
	// Text 去掉句首标签后的文本
	Text string
	// Tag 生效中的情绪标签（可能继承自前面的句子）
	Tag string
	// Sep 与上一句之间的空白（" " 或 "\n"），拼接全文时使用；首句为空
	Sep string
}

const (
	// maxTagRunes 句首 [标签] 的最大长度，超过则视为普通文本
	maxTagRunes = 16
	// maxBracketRunes 括号保持打开的最大长度，超过后视为未闭合，不再抑制断句
	maxBracketRunes = 24
)

// 句末标点
func isTerminal(r rune) bool {
	switch r {
	case '。', '！', '？', '…', '!', '?', '.':
		return true
	}
	return false
}

// 紧跟句末标点、归入同一句的字符
func isTrailing(r rune) bool {
	switch r {
	case '~', '～', '」', '』', '”', '’', '"', '\'', '）', ')', '】', '》':
		return true
	}
	return isTerminal(r)
}

func isOpenBracket(r rune) bool {
	switch r {
	case '(', '（', '[', '【':
		return true
	}
	return false
}

func isCloseBracket(r rune) bool {
	switch r {
	case ')', '）', ']', '】':
		return true
	}
	return false
}

// Segmenter 把流式文本切成句子，不可并发使用。
//
// 边界：。！？… 与换行总是断句；ASCII 的 ! ? 之后断句；ASCII 的 . 仅在后面
// 跟空白或非 ASCII 字符时断句（3.14 不断）。连续的句末标点与闭合引号归入同一句，
// 因此位于缓冲区末尾的标点要等下一个 token 才能确定句子是否结束。
// 括号内不断句，但换行总是断句，未闭合的括号在 maxBracketRunes 之后失效。
// "..." 统一为 "…"。
type Segmenter struct {
	buf     []rune
	tag     string
	gap     string
	emitted bool
}

// NewSegmenter 创建分句器
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// Push 追加增量文本，返回新完成的句子
func (s *Segmenter) Push(delta string) []Sentence {
	s.buf = append(s.buf, []rune(delta)...)
	s.normalize()
	var out []Sentence
	for {
		end, ok := s.boundary(false)
		if !ok {
			return out
		}
		if sent, ok := s.take(end); ok {
			out = append(out, sent)
		}
	}
}

// Flush 流结束时取出剩余文本（即使没有句末标点）
func (s *Segmenter) Flush() []Sentence {
	var out []Sentence
	for len(s.buf) > 0 {
		end, ok := s.boundary(true)
		if !ok {
			end = len(s.buf)
		}
		if sent, ok := s.take(end); ok {
			out = append(out, sent)
		}
	}
	return out
}

// Tag 当前生效的标签
func (s *Segmenter) Tag() string { return s.tag }

// normalize 把 "..." 折叠为 "…"
func (s *Segmenter) normalize() {
	if len(s.buf) < 3 {
		return
	}
	out := s.buf[:0]
	for i := 0; i < len(s.buf); i++ {
		if i+2 < len(s.buf) && s.buf[i] == '.' && s.buf[i+1] == '.' && s.buf[i+2] == '.' {
			out = append(out, '…')
			i += 2
			continue
		}
		out = append(out, s.buf[i])
	}
	s.buf = out
}

// boundary 返回第一个句子结束位置（不含）。final 为 true 时缓冲区末尾视为文本结束。
func (s *Segmenter) boundary(final bool) (int, bool) {
	// ignore 及之前的开括号视为未闭合
	ignore := -1
	for {
		end, ok, openAt := s.scan(ignore, final)
		if openAt < 0 {
			return end, ok
		}
		ignore = openAt
	}
}

// scan 从头扫描一次。遇到失效的开括号时返回其位置（openAt >= 0），由调用方忽略后重扫。
func (s *Segmenter) scan(ignore int, final bool) (end int, ok bool, openAt int) {
	depth, open := 0, 0
	for i := 0; i < len(s.buf); i++ {
		r := s.buf[i]
		if r == '\n' {
			return i + 1, true, -1
		}
		if depth > 0 && i-open > maxBracketRunes {
			return 0, false, open
		}
		switch {
		case isOpenBracket(r) && i > ignore:
			if depth == 0 {
				open = i
			}
			depth++
			continue
		case isCloseBracket(r):
			if depth > 0 {
				depth--
			}
			continue
		case depth > 0:
			continue
		case !isTerminal(r):
			continue
		}

		if r == '.' {
			if i+1 >= len(s.buf) {
				if final {
					return len(s.buf), true, -1
				}
				return 0, false, -1
			}
			next := s.buf[i+1]
			if next != '.' && !unicode.IsSpace(next) && next < utf8.RuneSelf {
				continue
			}
		}

		j := i + 1
		for j < len(s.buf) && isTrailing(s.buf[j]) {
			j++
		}
		if j >= len(s.buf) && !final {
			return 0, false, -1
		}
		return j, true, -1
	}
	if final && depth > 0 {
		return 0, false, open
	}
	return 0, false, -1
}

// take 取出 buf[:end] 作为一句。纯空白或只有标签时返回 false。
func (s *Segmenter) take(end int) (Sentence, bool) {
	raw := string(s.buf[:end])
	s.buf = append(s.buf[:0], s.buf[end:]...)

	text := strings.TrimSpace(raw)
	if text == "" {
		s.addGap(raw)
		return Sentence{}, false
	}
	s.addGap(raw[:strings.Index(raw, text)])
	trail := raw[strings.Index(raw, text)+len(text):]

	for {
		tag, rest, ok := leadingTag(text)
		if !ok {
			break
		}
		s.tag = tag
		text = strings.TrimSpace(rest)
	}
	if text == "" {
		s.addGap(trail)
		return Sentence{}, false
	}
	sent := Sentence{Text: text, Tag: s.tag}
	if s.emitted {
		sent.Sep = s.gap
	}
	s.emitted = true
	s.gap = ""
	s.addGap(trail)
	return sent, true
}

// addGap 记录句间空白，换行优先于空格
func (s *Segmenter) addGap(ws string) {
	switch {
	case ws == "":
	case strings.ContainsRune(ws, '\n'):
		s.gap = "\n"
	case s.gap == "":
		s.gap = " "
	}
}

// leadingTag 解析句首的 [标签]
func leadingTag(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "[") {
		return "", "", false
	}
	end := strings.IndexRune(text, ']')
	if end < 0 {
		return "", "", false
	}
	tag := strings.TrimSpace(text[1:end])
	if tag == "" || utf8.RuneCountInString(tag) > maxTagRunes || strings.ContainsAny(tag, "[\n") {
		return "", "", false
	}
	return tag, text[end+1:], true
}
