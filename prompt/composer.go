// Package prompt 组装发送给对话模型的消息列表，并集中维护各处使用的固定提示词。
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/types"
)

const timeLayout = "2006-01-02 15:04:05"

// Sections 检索得到的上下文片段，空串表示省略
type Sections struct {
	CoreFacts string
	Episodic  string
	Knowledge string
	Affect    string
}

// Composer 提示词组装器。人设部分在创建时一次性渲染。
type Composer struct {
	char     string
	user     string
	persona  string
	tagsHint string
}

// NewComposer 根据角色配置创建组装器；extraRef 的键即可用的情绪标签
func NewComposer(agent config.AgentConfig, extraRef map[string]config.RefAudio) *Composer {
	c := &Composer{char: agent.Char, user: agent.User}

	var b strings.Builder
	b.WriteString(c.Substitute("你是{{char}}，正在和{{user}}进行实时语音对话。请始终以{{char}}的身份、用口语化的中文回复，不要输出动作描写以外的旁白。"))
	writeBlock(&b, "角色设定", c.Substitute(agent.CharSettings))
	writeBlock(&b, "角色性格", c.Substitute(agent.CharPersonality))
	writeBlock(&b, "用户设定", c.Substitute(agent.Mask))
	writeBlock(&b, "对话示例", c.Substitute(agent.MessageExample))
	if p := strings.TrimSpace(agent.Prompt); p != "" {
		b.WriteString("\n\n")
		b.WriteString(c.Substitute(p))
	}
	c.persona = b.String()

	if len(extraRef) > 0 {
		tags := make([]string, 0, len(extraRef))
		for tag := range extraRef {
			tags = append(tags, "["+tag+"]")
		}
		sort.Strings(tags)
		c.tagsHint = "每句话开头可以用方括号标注当前语气，标签只能从以下选项中选择：" +
			strings.Join(tags, "、") + "。没有合适的语气时不要加标签。"
	}
	return c
}

func writeBlock(b *strings.Builder, label, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	fmt.Fprintf(b, "\n\n<%s>\n%s\n</%s>", label, body, label)
}

// Substitute 替换 {{char}} / {{user}} 占位符
func (c *Composer) Substitute(text string) string {
	return strings.NewReplacer("{{char}}", c.char, "{{user}}", c.user).Replace(text)
}

// System 组装系统提示词：人设、当前时间、核心记忆、日记、世界书、情绪指令
func (c *Composer) System(now time.Time, s Sections) string {
	var b strings.Builder
	b.WriteString(c.persona)
	if c.tagsHint != "" {
		b.WriteString("\n\n")
		b.WriteString(c.tagsHint)
	}
	fmt.Fprintf(&b, "\n\n<当前时间>%s</当前时间>", now.Format(timeLayout))
	writeBlock(&b, "核心记忆", c.Substitute(s.CoreFacts))
	if ep := c.Substitute(s.Episodic); strings.TrimSpace(ep) != "" {
		writeBlock(&b, "相关日记", "以下是{{char}}日记中与当前话题时间相关的记录：\n"+ep)
	}
	writeBlock(&b, "世界书", c.Substitute(s.Knowledge))
	if aff := strings.TrimSpace(s.Affect); aff != "" {
		b.WriteString("\n\n")
		b.WriteString(aff)
	}
	return c.Substitute(b.String())
}

// Compose 生成 [system, ...history, user] 消息列表；history 中的 system 消息会被丢弃
func (c *Composer) Compose(now time.Time, history []types.Message, userText string, s Sections) []types.Message {
	out := make([]types.Message, 0, len(history)+2)
	out = append(out, types.NewSystemMessage(c.System(now, s)))
	for _, m := range history {
		if m.Role == types.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return append(out, types.NewUserMessage(userText))
}

// =============================================================================
// 📝 辅助 LLM 调用的固定提示词
// =============================================================================

// TagPrompt 日记主题标签提取
const TagPrompt = "你是一个对话主题提取器。请用不超过十个字概括用户这句话的主题，" +
	"只输出主题本身，不要输出标点、解释或任何其他内容。"

// DefaultTag 主题提取失败时使用的标签
const DefaultTag = "日常闲聊"

// FactPrompt 核心记忆提取。existing 为已有记忆（最多取最近 100 条）。
func FactPrompt(existing []string) string {
	if len(existing) > 100 {
		existing = existing[len(existing)-100:]
	}
	data, _ := json.Marshal(existing)
	return "你是一个记忆整理助手，负责从对话中提取关于用户的长期有效的重要事实，" +
		"例如身份、喜好、习惯、重要经历和约定。忽略寒暄、临时状态和已存在的记忆。\n" +
		"已有记忆：" + string(data) + "\n" +
		"请只输出一个 JSON 字符串数组，每个元素是一条简洁的新事实，例如 [\"用户喜欢吃草莓\"]；没有新事实时输出 []。"
}

// FactDialogue 组装提取核心记忆所用的对话片段
func FactDialogue(prevAssistant, user, assistant string) string {
	return "对话内容：助手：" + prevAssistant + "\n用户：" + user + "\n助手：" + assistant
}
