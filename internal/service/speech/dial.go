package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// dialWithRetry 建立 WebSocket 连接，握手被拒绝（4xx）时不重试。
func dialWithRetry(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header, maxRetries int) (*websocket.Conn, *http.Response, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if err == nil {
			return conn, resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if !isRetryableDial(resp, err) {
			break
		}

		delay := time.Duration(attempt+1) * 500 * time.Millisecond
		log.Debug().Err(err).Int("attempt", attempt+1).Dur("retry_in", delay).Msg("asr dial failed")
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, nil, fmt.Errorf("failed to connect to ASR WebSocket: %w", lastErr)
}

func isRetryableDial(resp *http.Response, err error) bool {
	if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return false
	}
	if errors.Is(err, websocket.ErrBadHandshake) && resp == nil {
		return false
	}
	return true
}
