package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/isswatch/internal/metrics"
)

const writeTimeout = 30 * time.Second

var keepaliveFrame = []byte(":\n\n")

// eventWriter frames and writes SSE output for one connection. Every write
// pushes the deadline forward, since the server-wide WriteTimeout is cleared
// for streams.
type eventWriter struct {
	out    io.Writer
	flush  func()
	rc     *http.ResponseController
	ip     string
	logger *slog.Logger

	buf    bytes.Buffer
	events int64
	sent   int64
}

func newEventWriter(w http.ResponseWriter, flusher http.Flusher, ip string, logger *slog.Logger) *eventWriter {
	return &eventWriter{
		out:    w,
		flush:  flusher.Flush,
		rc:     http.NewResponseController(w),
		ip:     ip,
		logger: logger,
	}
}

// retry tells the browser how long to wait before reconnecting.
func (e *eventWriter) retry(d time.Duration) error {
	e.buf.Reset()
	fmt.Fprintf(&e.buf, "retry: %d\n\n", d.Milliseconds())
	return e.write(false)
}

// event encodes v and sends it as one data message.
func (e *eventWriter) event(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return e.data(payload)
}

// data sends an already encoded payload as one data message.
func (e *eventWriter) data(payload []byte) error {
	e.buf.Reset()
	e.buf.WriteString("data: ")
	e.buf.Write(payload)
	e.buf.WriteString("\n\n")
	return e.write(true)
}

func (e *eventWriter) keepalive() error {
	e.buf.Reset()
	e.buf.Write(keepaliveFrame)
	return e.write(false)
}

func (e *eventWriter) write(counted bool) error {
	if err := e.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		e.logger.Debug("could not set write deadline", "error", err)
	}
	n, err := e.out.Write(e.buf.Bytes())
	if err != nil {
		return fmt.Errorf("stream to %s: %w", e.ip, err)
	}
	e.flush()

	e.sent += int64(n)
	metrics.AddStreamBytes(int64(n))
	if counted {
		e.events++
		metrics.IncStreamMessages()
	}
	return nil
}
