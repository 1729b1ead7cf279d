package prompt

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/moechat/types"
)

var jsonArray = regexp.MustCompile(`(?s)\[.*\]`)

// ParseFactList 从回复中提取 JSON 字符串数组，去掉空项
func ParseFactList(reply string) ([]string, error) {
	m := jsonArray.FindString(reply)
	if m == "" {
		return nil, types.NewError(types.ErrParse, "no JSON array in reply")
	}
	var items []string
	if err := json.Unmarshal([]byte(m), &items); err != nil {
		return nil, types.NewError(types.ErrParse, "invalid fact array").WithCause(err)
	}
	out := items[:0]
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out, nil
}

// maxTagRunes 主题标签最长字符数
const maxTagRunes = 20

// CleanTag 规整模型输出的主题标签，无效时返回 DefaultTag
func CleanTag(reply string) string {
	tag := strings.TrimSpace(reply)
	if i := strings.IndexByte(tag, '\n'); i >= 0 {
		tag = strings.TrimSpace(tag[:i])
	}
	tag = strings.Trim(tag, "\"'“”‘’「」【】[]。.!！?？:：")
	tag = strings.TrimPrefix(tag, "主题")
	tag = strings.TrimLeft(tag, "：: ")
	if tag == "" {
		return DefaultTag
	}
	if utf8.RuneCountInString(tag) > maxTagRunes {
		tag = string([]rune(tag)[:maxTagRunes])
	}
	return tag
}
