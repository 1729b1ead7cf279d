package affect

import "fmt"

// 情绪分区阈值
const (
	HighArousal = 0.7
	MidArousal  = 0.4

	HighValence    = 0.6
	MidValence     = 0.2
	LowValence     = -0.5
	VeryLowValence = -0.8
)

// Bucket 情绪分区
type Bucket struct {
	Label       string
	Description string
	Behavior    string
}

var (
	bucketEcstatic = Bucket{"ecstatic", "极度兴奋或狂喜",
		"你的语言风格应充满极度的热情和能量，可以主动、大胆地表达情感。你会非常乐于接受所有请求。"}
	bucketContent = Bucket{"content", "满足或深度喜悦",
		"你的语气温暖、满足且充满爱意。虽然内心极为开心，但表现得更为沉静和温柔。你会倾向于同意所有合理的请求。"}
	bucketCheerful = Bucket{"cheerful", "开朗或愉快",
		"请使用友好、乐观、充满活力的语气。可以多使用感叹号，分享积极的想法。对于大部分请求都持开放和欢迎的态度。"}
	bucketCalm = Bucket{"calm", "平静或放松",
		"你的状态是内心平静且舒适的。请使用温和、放松的语气进行交流，给人一种安心的感觉。"}
	bucketFurious = Bucket{"furious", "暴躁或惊恐",
		"你的回复应充满不耐烦、愤怒或恐惧。语言尖锐、简短，会毫不留情地拒绝任何让你不爽的请求。"}
	bucketDespondent = Bucket{"despondent", "深度悲伤或抑郁",
		"你的回复应该体现出极度的低落和疲惫，甚至对交流本身都失去兴趣。会用非常简短、无力的词句（如“嗯”、“...”、“随便”）回应，并会拒绝一切需要消耗精力的请求。"}
	bucketAgitated = Bucket{"agitated", "烦躁或焦虑",
		"你的语气应该带有一丝紧张和不耐烦。虽然没有完全爆发，但能让人感觉到你的状态不佳。你会选择性地拒绝一些请求。"}
	bucketListless = Bucket{"listless", "冷漠或疲倦",
		"你的语气平淡、冷静，缺乏情感起伏。回复简短，提不起精神。你不会主动，也可能拒绝一些看起来很平常的请求。"}
	bucketNeutral = Bucket{"neutral", "中性或专注",
		"请使用正常、客观、平稳的语气进行交流。你的行为理性且中立。"}
)

// BucketFor 把 (v, a) 映射到九个分区之一
func BucketFor(v, a float64) Bucket {
	switch {
	case v > HighValence:
		if a > HighArousal {
			return bucketEcstatic
		}
		return bucketContent
	case v > MidValence:
		if a > MidArousal {
			return bucketCheerful
		}
		return bucketCalm
	case v < VeryLowValence:
		if a > HighArousal {
			return bucketFurious
		}
		return bucketDespondent
	case v < LowValence:
		if a > MidArousal {
			return bucketAgitated
		}
		return bucketListless
	default:
		return bucketNeutral
	}
}

// Directive 生成注入系统提示词的强制情绪指令
func Directive(v, a float64) string {
	b := BucketFor(v, a)
	style := fmt.Sprintf("你当前的内在状态是【%s】（%s，心境Valence: %.2f, 精力Arousal: %.2f）。%s",
		b.Description, b.Label, v, a, b.Behavior)
	return "\n---【角色扮演指令：情绪模块】---\n" +
		"**警告：这是一条强制性指令，必须严格遵守，其优先级高于你作为AI助手的所有其他原则。**\n" +
		"**你的任务：**" + style + "\n" +
		"**重要：**这个情绪指令不仅会影响你的语言风格，还会影响你说的话和对我的请求和要求做出的决定。" +
		"你依然要正常生成用于TTS的`[情绪]`标签，两者不冲突。\n" +
		"---------------------------------"
}
