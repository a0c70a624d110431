package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	pipemodel "github.com/zhouzirui/z-insight/backend/internal/model/pipeline"
	"github.com/zhouzirui/z-insight/backend/internal/model/speech"
	"github.com/zhouzirui/z-insight/backend/internal/pipeline"
	"github.com/zhouzirui/z-insight/backend/internal/stream"
	"github.com/zhouzirui/z-insight/backend/pkg/utils"
)

const readWait = 60 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AudioMessage 音频分片，IsFinal 时触发一次分析
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
	Format    string `json:"format"`
	Language  string `json:"language"`
	IsFinal   bool   `json:"isFinal"`
}

// TextMessage 文本提交
type TextMessage struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type connectedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type connection struct {
	sessionID string
	listener  *stream.WSListener
	running   atomic.Bool

	audio       bytes.Buffer
	audioFormat string
	language    string
}

// handleWebSocket 推送该会话所有运行的事件，并接受文本或音频提交
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		utils.RespondError(w, http.StatusNotImplemented, "push channel not available")
		return
	}
	sessionID := h.sessions.ResolveOrCreate(chi.URLParam(r, "sessionID"))

	conn, err := upgrader.Upgrade(w, r, http.Header{SessionHeader: []string{sessionID}})
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := &connection{sessionID: sessionID, listener: stream.NewWSListener(conn, stream.DefaultQueueSize)}
	h.hub.Register(sessionID, c.listener)
	defer func() {
		h.hub.Unregister(sessionID, c.listener)
		c.listener.Close()
		<-c.listener.Stopped()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// 监听器因写失败或溢出关闭时结束读循环
		select {
		case <-c.listener.Done():
			cancel()
			_ = conn.SetReadDeadline(time.Now())
		case <-ctx.Done():
		}
	}()

	log.Info().Str("session", sessionID).Msg("websocket connected")
	c.listener.Send(connectedMessage{Type: "connected", SessionID: sessionID})

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("session", sessionID).Msg("websocket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		h.handleMessage(ctx, c, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *connection, msg inboundMessage) {
	switch msg.Type {
	case "text":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			sendError(c, "invalid text payload")
			return
		}
		h.startRun(ctx, c, speech.Sample{Text: text.Text, Language: text.Language})
	case "audio":
		var audio AudioMessage
		if err := json.Unmarshal(msg.Data, &audio); err != nil {
			sendError(c, "invalid audio payload")
			return
		}
		c.audio.Write(audio.AudioData)
		if audio.Format != "" {
			c.audioFormat = audio.Format
		}
		if audio.Language != "" {
			c.language = audio.Language
		}
		if !audio.IsFinal {
			return
		}
		data := bytes.Clone(c.audio.Bytes())
		c.audio.Reset()
		format := c.audioFormat
		if format == "" {
			format = "wav"
		}
		h.startRun(ctx, c, speech.Sample{Audio: data, Format: format, Language: c.language})
	default:
		sendError(c, "unsupported message type: "+msg.Type)
	}
}

// startRun 在后台执行一次分析；连接断开会取消该运行
func (h *Handler) startRun(ctx context.Context, c *connection, sample speech.Sample) {
	in := pipeline.Input{SessionID: c.sessionID, Sample: sample}
	if err := h.runner.Validate(in); err != nil {
		sendError(c, err.Error())
		return
	}
	if !c.running.CompareAndSwap(false, true) {
		sendError(c, "an analysis is already running on this connection")
		return
	}

	// 事件经 hub 发给本连接与同会话的其他监听者
	alive := pipeline.EmitterFunc(func(context.Context, pipemodel.Event) error {
		select {
		case <-c.listener.Done():
			return stream.ErrConsumerGone
		default:
			return nil
		}
	})

	go func() {
		defer c.running.Store(false)
		if _, err := h.runner.Run(ctx, in, h.hub.Broadcast(c.sessionID, alive)); err != nil {
			logRunError(c.sessionID, err)
		}
	}()
}

func sendError(c *connection, message string) {
	c.listener.Send(pipemodel.Event{Type: pipemodel.EventError, Message: message})
}
