package speech

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/go-audio/wav"

	"github.com/zhouzirui/z-insight/backend/internal/model/speech"
)

// ErrNotWAV 表示数据不是可解析的 RIFF/WAVE 文件。
var ErrNotWAV = errors.New("not a valid wav file")

const (
	silenceRMS     = 0.005
	quietRMS       = 0.02
	clipRatioLimit = 0.01
	minUsableScore = 40
	minUsableWords = 3
)

// WAVInfo 是 WAV 头部信息。
type WAVInfo struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
	BitDepth   int
}

// ProbeWAV 只读取头部与 data 块长度，不解码样本。
func ProbeWAV(data []byte) (WAVInfo, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return WAVInfo{}, ErrNotWAV
	}
	if err := d.FwdToPCM(); err != nil {
		return WAVInfo{}, ErrNotWAV
	}

	info := WAVInfo{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
	}
	bytesPerSec := int64(info.SampleRate) * int64(info.Channels) * int64(info.BitDepth) / 8
	if bytesPerSec <= 0 {
		return WAVInfo{}, ErrNotWAV
	}
	info.Duration = time.Duration(d.PCMLen()) * time.Second / time.Duration(bytesPerSec)
	return info, nil
}

// IsWAVFormat 判断声明的格式是否按 WAV 处理。
func IsWAVFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "wav", "wave", "audio/wav", "audio/x-wav", "audio/wave":
		return true
	default:
		return false
	}
}

// QualityAssessor 评估输入是否适合分析。对畸形输入不返回错误，只给出尽力而为的结果。
type QualityAssessor struct{}

// NewQualityAssessor 创建评估器。
func NewQualityAssessor() *QualityAssessor {
	return &QualityAssessor{}
}

func (a *QualityAssessor) Assess(ctx context.Context, sample speech.Sample) (speech.QualityResult, error) {
	if err := ctx.Err(); err != nil {
		return speech.QualityResult{}, err
	}
	if sample.IsAudio() {
		return AssessAudio(sample.Audio, sample.Format), nil
	}
	return AssessText(sample.Text), nil
}

// AssessAudio 解码 WAV 并计算时长、响度与削波比例；其他格式只回填格式信息。
func AssessAudio(data []byte, format string) speech.QualityResult {
	result := speech.QualityResult{Kind: "audio", Format: strings.ToLower(format)}
	if !IsWAVFormat(format) {
		// 无法本地解码的容器交给识别阶段判断
		result.Usable = len(data) > 0
		return result
	}
	if result.Format == "" {
		result.Format = "wav"
	}

	info, err := ProbeWAV(data)
	if err != nil {
		return result
	}
	buf, err := wav.NewDecoder(bytes.NewReader(data)).FullPCMBuffer()
	if err != nil || buf == nil {
		return result
	}

	result.Decoded = true
	result.DurationMS = info.Duration.Milliseconds()
	result.SampleRate = info.SampleRate
	result.Channels = info.Channels
	result.BitDepth = info.BitDepth

	fullScale := math.Exp2(float64(info.BitDepth - 1))
	if info.BitDepth == 8 {
		// 8-bit PCM 为无符号
		fullScale = 128
	}
	var sumSquares float64
	clipped := 0
	for _, s := range buf.Data {
		v := float64(s)
		if info.BitDepth == 8 {
			v -= 128
		}
		n := v / fullScale
		sumSquares += n * n
		if math.Abs(v) >= fullScale-1 {
			clipped++
		}
	}
	if len(buf.Data) > 0 {
		result.RMS = round4(math.Sqrt(sumSquares / float64(len(buf.Data))))
		result.Clipping = round4(float64(clipped) / float64(len(buf.Data)))
	}

	score := 100.0
	if info.Duration < time.Second {
		score -= 30
	}
	switch {
	case result.RMS < silenceRMS:
		score -= 70
	case result.RMS < quietRMS:
		score -= 20
	}
	if result.Clipping > clipRatioLimit {
		score -= math.Min(30, result.Clipping*300)
	}
	if info.SampleRate > 0 && info.SampleRate < 8000 {
		score -= 20
	}
	result.Score = clampScore(score)
	result.Usable = result.Score >= minUsableScore
	return result
}

// AssessText 用词数评估文本输入；中日韩字符按单字计数。
func AssessText(text string) speech.QualityResult {
	words := CountWords(text)
	return speech.QualityResult{
		Kind:      "text",
		WordCount: words,
		Score:     clampScore(float64(words) * 5),
		Usable:    words >= minUsableWords,
	}
}

// CountWords 统计空白分隔的词数，汉字等表意字符单独计数。
func CountWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			count++
			inWord = false
		case r == '\'' || r == '’':
			// 缩写保持为一个词
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			inWord = false
		default:
			if !inWord {
				count++
				inWord = true
			}
		}
	}
	return count
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, math.Round(v)))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Probe reports the duration of WAV input. known is false for containers
// that are not decoded locally.
func (a *QualityAssessor) Probe(data []byte, format string) (d time.Duration, known bool, err error) {
	if !IsWAVFormat(format) {
		return 0, false, nil
	}
	info, err := ProbeWAV(data)
	if err != nil {
		return 0, false, err
	}
	return info.Duration, true, nil
}
