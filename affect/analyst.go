package affect

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/moechat/llm"
	"github.com/BaSui01/moechat/types"
)

// AnalystPrompt 情绪分析固定提示词
const AnalystPrompt = "You are a sophisticated social and emotional analysis expert. Your task is to analyze the LATEST user message. " +
	"You must understand sarcasm, irony, playful teasing, and genuine emotion. Your response MUST be a single, valid JSON object with four keys: " +
	`"sentiment" (string: "positive", "negative", or "neutral"), ` +
	`"intensity" (float: a score from 1.0 to 5.0), ` +
	`"intention" (string: a label like "genuine_praise", "neutral_statement", "harsh_insult"), ` +
	`and "arousal_impact" (float: a score from -5.0 for calming to +5.0 for exciting).`

// Sentiment 情绪极性
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Analysis 情绪分析结果
type Analysis struct {
	Sentiment     Sentiment `json:"sentiment"`
	Intensity     float64   `json:"intensity"`
	Intention     string    `json:"intention"`
	ArousalImpact float64   `json:"arousal_impact"`
}

// Neutral 无影响的中性结果
func Neutral() Analysis {
	return Analysis{Sentiment: SentimentNeutral}
}

// Analyzer 情绪分析接口
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Analysis, error)
}

// LLMAnalyzer 通过非流式 LLM 调用完成情绪分析
type LLMAnalyzer struct {
	client  llm.ChatClient
	timeout time.Duration
}

// NewLLMAnalyzer 创建分析器，timeout 为 0 时使用客户端默认超时
func NewLLMAnalyzer(client llm.ChatClient, timeout time.Duration) *LLMAnalyzer {
	return &LLMAnalyzer{client: client, timeout: timeout}
}

// Analyze 实现 Analyzer
func (a *LLMAnalyzer) Analyze(ctx context.Context, text string) (Analysis, error) {
	var opts []llm.CallOption
	if a.timeout > 0 {
		opts = append(opts, llm.WithTimeout(a.timeout))
	}
	reply, err := a.client.Complete(ctx, []llm.Message{
		{Role: types.RoleSystem, Content: AnalystPrompt},
		{Role: types.RoleUser, Content: text},
	}, opts...)
	if err != nil {
		return Neutral(), err
	}
	return ParseAnalysis(reply)
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// looseFloat 兼容数字与数字字符串
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = looseFloat(v)
	return nil
}

// ParseAnalysis 从 LLM 回复中提取第一个 JSON 对象（可跨行）
func ParseAnalysis(reply string) (Analysis, error) {
	m := jsonObject.FindString(reply)
	if m == "" {
		return Neutral(), types.NewError(types.ErrParse, "no JSON object in analyst reply")
	}
	var raw struct {
		Sentiment     string     `json:"sentiment"`
		Intensity     looseFloat `json:"intensity"`
		Intention     string     `json:"intention"`
		ArousalImpact looseFloat `json:"arousal_impact"`
	}
	if err := json.Unmarshal([]byte(m), &raw); err != nil {
		return Neutral(), types.NewError(types.ErrParse, "invalid analyst JSON").WithCause(err)
	}
	out := Analysis{
		Sentiment:     Sentiment(strings.ToLower(strings.TrimSpace(raw.Sentiment))),
		Intensity:     float64(raw.Intensity),
		Intention:     raw.Intention,
		ArousalImpact: float64(raw.ArousalImpact),
	}
	switch out.Sentiment {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
	default:
		out.Sentiment = SentimentNeutral
	}
	return out, nil
}
