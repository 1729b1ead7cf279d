package affect

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPull(t *testing.T) {
	matrix := [][3]float64{{-1, -0.5, -0.1}, {-0.5, 0.5, 0.02}, {0.5, 1, 0.1}}

	assert.Equal(t, -0.1, Pull(matrix, -1, 0))
	assert.Equal(t, -0.1, Pull(matrix, -0.5, 0))
	assert.Equal(t, 0.02, Pull(matrix, 0, 0))
	assert.Equal(t, 0.1, Pull(matrix, 0.9, 0))
	assert.Equal(t, 0.05, Pull(matrix, 0.9, 3))
	assert.Equal(t, 0.0, Pull(matrix, 0.5, 3))
	assert.Equal(t, 0.0, Pull(nil, 0.3, 0))
}

func TestDynamics(t *testing.T) {
	assert.Equal(t, 0.0, Impact(0))
	assert.InDelta(t, 0.5, Acceptance(1.0/1.5, 1), 1e-12)
	assert.InDelta(t, 1.0, Permission(0.5), 1e-12)
	assert.InDelta(t, math.Pow(0.5, 1.5), Permission(0), 1e-12)
	assert.Equal(t, 1.0, meltdownDecay(0, 5))
	assert.True(t, math.IsInf(meltdownCrossMinutes(0), 1))
	assert.InDelta(t, 0.3, meltdownDecay(meltdownCrossMinutes(5), 5), 1e-9)
}

func TestBucketFor(t *testing.T) {
	cases := []struct {
		v, a  float64
		label string
	}{
		{0.7, 0.8, "ecstatic"},
		{0.7, 0.7, "content"},
		{0.6, 0.5, "cheerful"},
		{0.3, 0.4, "calm"},
		{-0.9, 0.8, "furious"},
		{-0.9, 0.2, "despondent"},
		{-0.8, 0.5, "agitated"},
		{-0.6, 0.4, "listless"},
		{-0.5, 0.9, "neutral"},
		{0.2, 0.9, "neutral"},
		{0, 0, "neutral"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.label, BucketFor(tc.v, tc.a).Label, "v=%v a=%v", tc.v, tc.a)
	}
}

func TestDirective(t *testing.T) {
	d := Directive(0.7, 0.8)
	assert.Contains(t, d, "【极度兴奋或狂喜】")
	assert.Contains(t, d, "ecstatic")
	assert.Contains(t, d, "Valence: 0.70")
	assert.Contains(t, d, "强制性指令")
	assert.Contains(t, d, "`[情绪]`标签")
}

func TestParseAnalysis(t *testing.T) {
	a, err := ParseAnalysis("好的，分析如下：\n```json\n{\n \"sentiment\": \"Negative\",\n \"intensity\": \"4.5\",\n \"intention\": \"harsh_insult\",\n \"arousal_impact\": 3\n}\n```")
	require.NoError(t, err)
	assert.Equal(t, SentimentNegative, a.Sentiment)
	assert.Equal(t, 4.5, a.Intensity)
	assert.Equal(t, 3.0, a.ArousalImpact)
	assert.Equal(t, "harsh_insult", a.Intention)

	a, err = ParseAnalysis(`{"sentiment": "confused", "intensity": 2}`)
	require.NoError(t, err)
	assert.Equal(t, SentimentNeutral, a.Sentiment)

	_, err = ParseAnalysis("no json here")
	assert.Error(t, err)
	_, err = ParseAnalysis("{broken")
	assert.Error(t, err)
	_, err = ParseAnalysis(`{"intensity": "high"}`)
	assert.Error(t, err)
}
