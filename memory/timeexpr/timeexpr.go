// Package timeexpr 从用户文本中抽取相对/绝对时间表达，并解析为闭区间。
//
// 支持中文（今天、昨晚、三天前、上周、去年、2024年3月5日 …）与常见英文
// （yesterday、3 days ago、last week …）。文本中最早出现的表达生效。
package timeexpr

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Range 闭区间 [Start, End]，精确到秒
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains 判断 t 是否落在区间内
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Unix 返回秒级时间戳区间
func (r Range) Unix() (int64, int64) {
	return r.Start.Unix(), r.End.Unix()
}

type rule struct {
	re      *regexp.Regexp
	resolve func(m []string, now time.Time) (Range, bool)
}

type match struct {
	pos, length int
	rng         Range
}

// Extract 返回文本中第一个可解析的时间区间
func Extract(text string, now time.Time) (Range, bool) {
	var found []match
	lower := strings.ToLower(text)
	words := dayPartWords.FindAllStringIndex(lower, -1)
	for _, r := range rules {
		for off := 0; off < len(lower); {
			loc := r.re.FindStringSubmatchIndex(lower[off:])
			if loc == nil {
				break
			}
			for i := range loc {
				if loc[i] >= 0 {
					loc[i] += off
				}
			}
			if end := insideWord(words, loc[0]); end > 0 {
				// 从时段词之后重新匹配，"早上上个月" 仍能取到 "上个月"
				off = end
				continue
			}
			off = max(loc[1], loc[0]+1)
			m := submatches(lower, loc)
			rng, ok := r.resolve(m, now)
			if !ok {
				continue
			}
			found = append(found, match{pos: loc[0], length: loc[1] - loc[0], rng: rng})
		}
	}
	if len(found) == 0 {
		return Range{}, false
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].pos != found[j].pos {
			return found[i].pos < found[j].pos
		}
		return found[i].length > found[j].length
	})
	return found[0].rng, true
}

// dayPartWords 中的“上”不能作为上周、上月的开头（早上月亮、晚上周末）
var dayPartWords = regexp.MustCompile(`早上|晚上`)

// insideWord 返回包含 pos（不含词首）的时段词结尾，不在词内时返回 -1
func insideWord(words [][]int, pos int) int {
	for _, w := range words {
		if pos > w[0] && pos < w[1] {
			return w[1]
		}
	}
	return -1
}

func submatches(s string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] >= 0 {
			out[i] = s[loc[2*i]:loc[2*i+1]]
		}
	}
	return out
}

// =============================================================================
// 🕐 区间构造
// =============================================================================

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func dayRange(day time.Time) Range {
	s := startOfDay(day)
	return Range{Start: s, End: s.AddDate(0, 0, 1).Add(-time.Second)}
}

func daysRange(from, to time.Time) Range {
	return Range{Start: startOfDay(from), End: startOfDay(to).AddDate(0, 0, 1).Add(-time.Second)}
}

// weekStart 周一为一周开始
func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return startOfDay(t).AddDate(0, 0, -offset)
}

func weekRange(t time.Time, deltaWeeks int) Range {
	s := weekStart(t).AddDate(0, 0, 7*deltaWeeks)
	return Range{Start: s, End: s.AddDate(0, 0, 7).Add(-time.Second)}
}

func monthRange(t time.Time, deltaMonths int) Range {
	s := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, deltaMonths, 0)
	return Range{Start: s, End: s.AddDate(0, 1, 0).Add(-time.Second)}
}

func yearRange(t time.Time, deltaYears int) Range {
	s := time.Date(t.Year()+deltaYears, 1, 1, 0, 0, 0, 0, t.Location())
	return Range{Start: s, End: s.AddDate(1, 0, 0).Add(-time.Second)}
}

// dayPart 将某一天收窄到时段
func dayPart(day time.Time, part string) Range {
	s := startOfDay(day)
	from, to := 0, 24
	switch part {
	case "凌晨":
		from, to = 0, 6
	case "早上", "早晨", "上午", "morning":
		from, to = 6, 12
	case "中午", "noon":
		from, to = 11, 14
	case "下午", "afternoon":
		from, to = 12, 18
	case "晚上", "晚", "夜里", "evening", "night", "tonight":
		from, to = 18, 24
	default:
		return dayRange(day)
	}
	return Range{
		Start: s.Add(time.Duration(from) * time.Hour),
		End:   s.Add(time.Duration(to)*time.Hour - time.Second),
	}
}

// =============================================================================
// 🔢 数字解析
// =============================================================================

var cnDigits = map[rune]int{
	'零': 0, '一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

var enNumbers = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// parseNumber 支持阿拉伯数字、一到九十九的中文数字以及英文 one..ten
func parseNumber(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if n, ok := enNumbers[s]; ok {
		return n, true
	}
	runes := []rune(s)
	if len(runes) == 0 {
		return 0, false
	}
	total, cur := 0, 0
	for _, r := range runes {
		if r == '十' {
			if cur == 0 {
				cur = 1
			}
			total += cur * 10
			cur = 0
			continue
		}
		d, ok := cnDigits[r]
		if !ok {
			return 0, false
		}
		cur = d
	}
	return total + cur, true
}

// =============================================================================
// 📐 规则表
// =============================================================================

const partAlt = `(凌晨|早上|早晨|上午|中午|下午|晚上|夜里)?`

var relativeDays = map[string]int{
	"今天": 0, "今日": 0, "今儿": 0,
	"昨天": -1, "昨日": -1, "昨儿": -1,
	"前天": -2, "大前天": -3,
	"明天": 1, "后天": 2,
}

var rules = []rule{
	// 2024年3月5日 / 2024年3月5号
	{
		re: regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})[日号]`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			return explicitDate(m[1], m[2], m[3], now)
		},
	},
	// 2024-03-05 / 2024/3/5
	{
		re: regexp.MustCompile(`(\d{4})[-/](\d{1,2})[-/](\d{1,2})`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			return explicitDate(m[1], m[2], m[3], now)
		},
	},
	// 3月5日（当年）
	{
		re: regexp.MustCompile(`(\d{1,2})月(\d{1,2})[日号]`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			return explicitDate(strconv.Itoa(now.Year()), m[1], m[2], now)
		},
	},
	// 昨晚 / 今晚 / 今早
	{
		re: regexp.MustCompile(`(昨|今)(晚|早)`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			day := now
			if m[1] == "昨" {
				day = now.AddDate(0, 0, -1)
			}
			part := "晚上"
			if m[2] == "早" {
				part = "早上"
			}
			return dayPart(day, part), true
		},
	},
	// 今天 / 昨天下午 / 大前天
	{
		re: regexp.MustCompile(`(大前天|前天|昨天|昨日|昨儿|今天|今日|今儿|明天|后天)` + partAlt),
		resolve: func(m []string, now time.Time) (Range, bool) {
			day := now.AddDate(0, 0, relativeDays[m[1]])
			return dayPart(day, m[2]), true
		},
	},
	// 三天前 / 3天之前
	{
		re: regexp.MustCompile(`([0-9]+|[零一二两三四五六七八九十]+)天(之)?前`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			n, ok := parseNumber(m[1])
			if !ok || n <= 0 {
				return Range{}, false
			}
			return dayRange(now.AddDate(0, 0, -n)), true
		},
	},
	// 前几天 / 这几天 / 最近
	{
		re: regexp.MustCompile(`(前几天|几天前|这几天|最近几天|最近)`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			if m[1] == "前几天" || m[1] == "几天前" {
				return daysRange(now.AddDate(0, 0, -3), now.AddDate(0, 0, -1)), true
			}
			return daysRange(now.AddDate(0, 0, -3), now), true
		},
	},
	// 上周 / 上个星期 / 这周 / 本礼拜
	{
		re: regexp.MustCompile(`(上上|上|这|本)(个)?(周|星期|礼拜)`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			switch m[1] {
			case "上上":
				return weekRange(now, -2), true
			case "上":
				return weekRange(now, -1), true
			}
			return weekRange(now, 0), true
		},
	},
	// 上个月 / 这个月 / 本月
	{
		re: regexp.MustCompile(`(上上|上|这|本)(个)?月`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			switch m[1] {
			case "上上":
				return monthRange(now, -2), true
			case "上":
				return monthRange(now, -1), true
			}
			return monthRange(now, 0), true
		},
	},
	// 今年 / 去年 / 前年
	{
		re: regexp.MustCompile(`(今年|去年|前年)`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			switch m[1] {
			case "去年":
				return yearRange(now, -1), true
			case "前年":
				return yearRange(now, -2), true
			}
			return yearRange(now, 0), true
		},
	},
	// English
	{
		re: regexp.MustCompile(`\b(the day before yesterday|yesterday|today|tomorrow)(?:\s+(morning|afternoon|evening|night))?\b`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			offset := map[string]int{"the day before yesterday": -2, "yesterday": -1, "today": 0, "tomorrow": 1}[m[1]]
			return dayPart(now.AddDate(0, 0, offset), m[2]), true
		},
	},
	{
		re: regexp.MustCompile(`\b(last night|tonight|this morning|this afternoon|this evening)\b`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			switch m[1] {
			case "last night":
				return dayPart(now.AddDate(0, 0, -1), "night"), true
			case "tonight":
				return dayPart(now, "tonight"), true
			}
			return dayPart(now, strings.TrimPrefix(m[1], "this ")), true
		},
	},
	{
		re: regexp.MustCompile(`\b([0-9]+|an?|one|two|three|four|five|six|seven|eight|nine|ten)\s+(day|days|week|weeks)\s+ago\b`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			n, ok := parseNumber(m[1])
			if !ok || n <= 0 {
				return Range{}, false
			}
			if strings.HasPrefix(m[2], "week") {
				return weekRange(now, -n), true
			}
			return dayRange(now.AddDate(0, 0, -n)), true
		},
	},
	{
		re: regexp.MustCompile(`\b(last|this|past)\s+(week|month|year|few days)\b`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			delta := 0
			if m[1] == "last" {
				delta = -1
			}
			switch m[2] {
			case "week":
				return weekRange(now, delta), true
			case "month":
				return monthRange(now, delta), true
			case "year":
				return yearRange(now, delta), true
			}
			return daysRange(now.AddDate(0, 0, -3), now), true
		},
	},
	{
		re: regexp.MustCompile(`\b(recently|lately)\b`),
		resolve: func(m []string, now time.Time) (Range, bool) {
			return daysRange(now.AddDate(0, 0, -3), now), true
		},
	},
}

func explicitDate(ys, ms, ds string, now time.Time) (Range, bool) {
	y, err1 := strconv.Atoi(ys)
	mo, err2 := strconv.Atoi(ms)
	d, err3 := strconv.Atoi(ds)
	if err1 != nil || err2 != nil || err3 != nil || mo < 1 || mo > 12 || d < 1 || d > 31 {
		return Range{}, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, now.Location())
	// 2 月 30 日之类会被 time.Date 规范化，视为无效
	if t.Month() != time.Month(mo) {
		return Range{}, false
	}
	return dayRange(t), true
}
