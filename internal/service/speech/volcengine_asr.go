package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-insight/backend/internal/model/speech"
)

const (
	defaultASREndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	// 16kHz, 16bit, mono, 200ms
	asrChunkSize = 6400
	// 服务端成功码
	asrCodeOK = 20000000
)

// ErrEmptyAudio 表示没有可发送的音频。
var ErrEmptyAudio = errors.New("no audio data to send")

// VolcengineASRClient 火山引擎大模型流式识别客户端
type VolcengineASRClient struct {
	config        *speech.SpeechConfig
	dialer        *websocket.Dialer
	endpoint      string
	chunkInterval time.Duration // 分包发送间隔，模拟实时音频流
	maxRetries    int
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

// asrParams 是首帧 JSON 参数
type asrParams struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

// NewVolcengineASRClient 创建火山引擎ASR客户端；BaseURL 非空时覆盖默认端点。
func NewVolcengineASRClient(config *speech.SpeechConfig) *VolcengineASRClient {
	endpoint := defaultASREndpoint
	if config != nil && strings.TrimSpace(config.BaseURL) != "" {
		endpoint = strings.TrimSpace(config.BaseURL)
	}
	return &VolcengineASRClient{
		config:        config,
		dialer:        &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		endpoint:      endpoint,
		chunkInterval: 200 * time.Millisecond,
		maxRetries:    3,
	}
}

func (c *VolcengineASRClient) Name() string { return "volcengine" }

// Transcribe 建立连接、发送参数与音频并等待最终结果。
func (c *VolcengineASRClient) Transcribe(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	audio, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	resourceID := "volc.bigasr.sauc.duration" // 小时版
	if c.config.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent" // 并发版
	}
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", req.SessionID)

	conn, resp, err := dialWithRetry(ctx, c.dialer, c.endpoint, header, c.maxRetries)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	logger := log.With().Str("session", req.SessionID).Logger()
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			logger = logger.With().Str("logid", logid).Logger()
		}
	}
	logger.Debug().Int("bytes", len(audio)).Msg("asr connected")

	params, err := json.Marshal(c.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	first, err := newClientRequest(params)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, first.Marshal()); err != nil {
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 连接在 ctx 结束时关闭，使阻塞中的 ReadMessage 返回
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	respCh := make(chan *speech.ASRResponse, 1)
	recvErrCh := make(chan error, 1)
	go func() {
		result, err := c.receive(ctx, conn, req.SessionID)
		if err != nil {
			recvErrCh <- err
			return
		}
		respCh <- result
	}()

	sendErrCh := make(chan error, 1)
	go func() {
		sendErrCh <- c.sendAudio(ctx, conn, audio)
	}()

	for {
		select {
		case err := <-sendErrCh:
			if err != nil {
				return nil, fmt.Errorf("failed to send audio data: %w", err)
			}
			sendErrCh = nil
		case result := <-respCh:
			result.Language = req.Language
			return result, nil
		case err := <-recvErrCh:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *VolcengineASRClient) buildParams(req *speech.ASRRequest) *asrParams {
	p := &asrParams{}
	p.User.UID = req.SessionID

	p.Audio.Format = req.Format
	if p.Audio.Format == "" {
		p.Audio.Format = "wav"
	}
	p.Audio.Language = req.Language
	if p.Audio.Language == "" && c.config != nil {
		p.Audio.Language = c.config.ASRLanguage
	}
	p.Audio.Codec = "raw"
	p.Audio.Rate = 16000
	p.Audio.Bits = 16
	p.Audio.Channel = 1

	p.Request.ModelName = "bigmodel"
	if c.config != nil && c.config.ASRModel != "" {
		p.Request.ModelName = c.config.ASRModel
	}
	p.Request.EnableITN = true
	p.Request.EnablePunc = true
	p.Request.ShowUtterances = true
	p.Request.ResultType = "full"
	p.Request.EndWindowSize = 800
	return p
}

// sendAudio 分包发送，首帧占用序号1，音频从2开始。
func (c *VolcengineASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	sequence := int32(2)
	for start := 0; start < len(audio); start += asrChunkSize {
		end := start + asrChunkSize
		if end > len(audio) {
			end = len(audio)
		}
		last := end == len(audio)

		frame, err := newAudioRequest(audio[start:end], sequence, last)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, frame.Marshal()); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}
		sequence++
		if last {
			return nil
		}

		if c.chunkInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.chunkInterval):
			}
		}
	}
	return nil
}

func (c *VolcengineASRClient) receive(ctx context.Context, conn *websocket.Conn, sessionID string) (*speech.ASRResponse, error) {
	var (
		finalText string
		duration  int64
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read ASR response: %w", err)
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode ASR message: %w", err)
		}

		switch frame.Type {
		case ErrorMessage:
			body, _ := frame.Body()
			return nil, fmt.Errorf("ASR error %d: %s", frame.ErrorCode, bytes.TrimSpace(body))

		case FullServerResponse:
			body, err := frame.Body()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress ASR payload: %w", err)
			}

			var msg asrServerMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				log.Warn().Err(err).Str("session", sessionID).Msg("asr: skip undecodable response")
				continue
			}
			if msg.Code != 0 && msg.Code != asrCodeOK {
				return nil, fmt.Errorf("ASR API error %d: %s", msg.Code, msg.Message)
			}

			text := msg.Result.Text
			if text == "" {
				text = joinUtterances(msg.Result.Utterances)
			}
			if text != "" {
				finalText = text
			}
			if msg.AudioInfo.Duration > 0 {
				duration = msg.AudioInfo.Duration
			}

			if frame.IsLast() || msg.Sequence < 0 {
				return &speech.ASRResponse{
					SessionID:  sessionID,
					Text:       finalText,
					Confidence: estimateASRConfidence(finalText),
					Duration:   duration,
					RequestID:  sessionID,
					CreatedAt:  time.Now(),
				}, nil
			}
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func estimateASRConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.95
}
