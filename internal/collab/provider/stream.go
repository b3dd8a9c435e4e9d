package provider

import "bytes"

// lineBuffer accumulates arbitrary byte chunks and yields complete lines,
// stripping a trailing '\r'. It never assumes one input chunk equals one
// line: callers may feed bytes split at any boundary, including mid-line.
type lineBuffer struct {
	buf []byte
}

// Feed appends data and returns all complete lines found so far, retaining
// any trailing partial line in the buffer for the next call.
func (l *lineBuffer) Feed(data []byte) []string {
	l.buf = append(l.buf, data...)

	var lines []string
	for {
		idx := bytes.IndexByte(l.buf, '\n')
		if idx < 0 {
			break
		}
		line := l.buf[:idx]
		line = bytes.TrimSuffix(line, []byte("\r"))
		lines = append(lines, string(line))
		l.buf = l.buf[idx+1:]
	}
	return lines
}

// sseEvent is one decoded `data: ...` payload from an SSE stream. Comment
// lines, event: lines, and blank separators are ignored by callers; only
// "data:" prefixed lines carry content in the dialects this module speaks.
type sseEvent struct {
	data string
	done bool // true when the payload was the literal "[DONE]" sentinel
}

// sseLineDecoder turns raw SSE lines into sseEvents. It is shared by the
// OpenAI/Mistral-style and Anthropic-style adapters; the two differ only in
// how they interpret the JSON payload inside each event, not in framing.
type sseLineDecoder struct{}

func (sseLineDecoder) decode(line string) (sseEvent, bool) {
	const prefix = "data:"
	if len(line) < len(prefix) || line[:len(prefix)] != prefix {
		return sseEvent{}, false
	}
	payload := line[len(prefix):]
	if len(payload) > 0 && payload[0] == ' ' {
		payload = payload[1:]
	}
	if payload == "[DONE]" {
		return sseEvent{done: true}, true
	}
	return sseEvent{data: payload}, true
}
