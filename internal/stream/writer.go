package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-insight/backend/pkg/utils"
)

// WriteNDJSON drains s into w as newline-delimited JSON, flushing after each
// event. A failed write abandons the stream.
func WriteNDJSON(ctx context.Context, w http.ResponseWriter, s *Stream) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.Abandon()
		return fmt.Errorf("streaming unsupported")
	}
	utils.SetupNDJSONHeaders(w)
	w.WriteHeader(http.StatusOK)
	return pump(ctx, s, func(payload any) error {
		return utils.WriteNDJSONLine(w, flusher, payload)
	})
}

// WriteSSE drains s into w as Server-Sent Events data frames.
func WriteSSE(ctx context.Context, w http.ResponseWriter, s *Stream) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.Abandon()
		return fmt.Errorf("streaming unsupported")
	}
	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	return pump(ctx, s, func(payload any) error {
		return utils.WriteSSEData(w, flusher, payload)
	})
}

func pump(ctx context.Context, s *Stream, write func(any) error) error {
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			s.Abandon()
			return err
		}
		if err := write(ev); err != nil {
			log.Debug().Err(err).Str("event", string(ev.Type)).Msg("stream write failed")
			s.Abandon()
			return err
		}
	}
}
