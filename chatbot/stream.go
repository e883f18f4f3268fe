package chatbot

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

const maxFrameSize = 1024 * 1024

// decodeStream reads server-sent events from r and sends decoded frames to ch until the
// stream ends, an end frame arrives, or ctx is done. Lines split across reads are buffered
// by the scanner; malformed and empty frames are skipped.
func decodeStream(ctx context.Context, r io.Reader, ch chan<- StreamFrame, log zerolog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		frame, ok := parseFrame(data)
		if !ok {
			log.Debug().Str("line", line).Msg("skipping malformed stream frame")
			continue
		}
		streamFramesTotal.WithLabelValues(string(frame.Type)).Inc()

		if frame.Type == FrameStart {
			continue
		}

		select {
		case ch <- frame:
		case <-ctx.Done():
			return transportError(ctx.Err())
		}

		if frame.Type == FrameEnd {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return transportError(ctx.Err())
		}
		return transportError(err)
	}
	return nil
}

// parseFrame decodes one data payload. A bare {"error": "..."} object is an error frame.
// Content frames without text and error frames without a message carry nothing and are dropped.
func parseFrame(data string) (StreamFrame, bool) {
	var frame StreamFrame
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		return frame, false
	}

	if frame.Type == "" && frame.Error != "" {
		frame.Type = FrameError
	}

	switch frame.Type {
	case FrameContent:
		return frame, frame.Text != ""
	case FrameError:
		return frame, strings.TrimSpace(frame.Error) != ""
	case FrameEnd, FrameStart:
		return frame, true
	}
	return frame, false
}
