package speech

import "time"

// ASRResponse 语音识别响应
type ASRResponse struct {
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Duration   int64     `json:"duration"` // milliseconds
	Language   string    `json:"language,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// QualityResult 描述输入的可用性评估。文本输入只填写字数相关字段。
type QualityResult struct {
	Kind       string  `json:"kind"` // audio | text
	Format     string  `json:"format,omitempty"`
	Decoded    bool    `json:"decoded"` // 是否成功解析了音频
	DurationMS int64   `json:"durationMs"`
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
	BitDepth   int     `json:"bitDepth"`
	RMS        float64 `json:"rms"`
	Clipping   float64 `json:"clipping"` // 削波样本占比 0~1
	WordCount  int     `json:"wordCount"`
	Score      float64 `json:"score"` // 0~100
	Usable     bool    `json:"usable"`
}
