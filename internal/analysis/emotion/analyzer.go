package emotion

import (
	"math"
	"sort"
	"strings"

	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
)

// Label 表示分类器输出的情绪标签。
type Label string

const (
	Neutral  Label = "neutral"
	Joy      Label = "joy"
	Sadness  Label = "sadness"
	Anger    Label = "anger"
	Fear     Label = "fear"
	Surprise Label = "surprise"
)

// Labels 为输出分布的固定顺序。
var Labels = []Label{Neutral, Joy, Sadness, Anger, Fear, Surprise}

// SourceHeuristic 标记关键词分类结果。
const SourceHeuristic = "heuristic"

var keywordBuckets = map[Label][]string{
	Joy: {
		"开心", "高兴", "喜悦", "快乐", "太好了", "太棒了", "哈哈", "满意", "喜欢",
		"happy", "glad", "great", "awesome", "amazing", "love", "thanks", "thank you", "wonderful", "pleased",
	},
	Sadness: {
		"难过", "伤心", "失落", "沮丧", "悲伤", "哭", "痛苦", "孤单", "失望", "委屈",
		"sad", "unhappy", "cry", "depressed", "upset", "hurt", "sorry", "miss", "lonely", "disappointed",
	},
	Anger: {
		"生气", "愤怒", "火大", "气死", "烦死", "受够了", "抓狂", "气愤",
		"angry", "furious", "rage", "mad", "annoyed", "hate", "ridiculous", "sick of", "fed up", "how dare",
	},
	Fear: {
		"害怕", "担心", "恐惧", "紧张", "不安", "焦虑",
		"afraid", "scared", "worried", "anxious", "nervous", "terrified", "panic", "threat", "unsafe",
	},
	Surprise: {
		"惊讶", "没想到", "居然", "竟然", "哇",
		"wow", "unbelievable", "unexpected", "really?", "no way", "shocked", "surprised", "can't believe",
	},
}

// Analyze 根据关键词命中情况给出情绪分布。
// 无命中时返回中性分布，置信度为 0。
func Analyze(text string) analysis.EmotionResult {
	raw := scoreText(text)

	total := 0
	for _, s := range raw {
		total += s
	}
	if total == 0 {
		return analysis.EmotionResult{
			Dominant:   string(Neutral),
			Confidence: 0,
			Scores:     []analysis.LabeledScore{{Label: string(Neutral), Score: 1}},
			Source:     SourceHeuristic,
		}
	}

	scores := make([]analysis.LabeledScore, 0, len(Labels))
	for _, label := range Labels {
		if raw[label] == 0 {
			continue
		}
		scores = append(scores, analysis.LabeledScore{
			Label: string(label),
			Score: round3(float64(raw[label]) / float64(total)),
		})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })

	best := analysis.Dominant(scores)
	return analysis.EmotionResult{
		Dominant:   best.Label,
		Confidence: best.Score,
		Scores:     scores,
		Source:     SourceHeuristic,
	}
}

func scoreText(text string) map[Label]int {
	normalized := strings.TrimSpace(strings.ToLower(text))
	scores := make(map[Label]int)
	if normalized == "" {
		return scores
	}

	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	// 感叹号放大已有的强烈情绪
	if exclamations := strings.Count(text, "!") + strings.Count(text, "！"); exclamations > 0 {
		boost := exclamations
		if boost > 3 {
			boost = 3
		}
		for _, label := range []Label{Anger, Joy, Surprise} {
			if scores[label] > 0 {
				scores[label] += boost
			}
		}
	}
	return scores
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
