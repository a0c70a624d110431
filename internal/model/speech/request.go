package speech

import (
	"io"
)

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID string    `json:"sessionId"`
	AudioData io.Reader `json:"-"`
	Format    string    `json:"format"`   // mp3, wav, webm, etc.
	Language  string    `json:"language"` // zh-CN, en-US, etc.
}

// Sample 是一次分析提交的原始输入，Audio 与 Text 二选一。
type Sample struct {
	Audio    []byte
	Format   string // wav, mp3, webm ...
	Language string
	Text     string
}

// IsAudio 表示输入为音频。
func (s Sample) IsAudio() bool {
	return len(s.Audio) > 0
}
