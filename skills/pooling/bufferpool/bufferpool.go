// Package bufferpool implements buffer reuse for hot encode paths.
//
// Any code that formats small messages at high rate, log lines, wire
// frames, JSON events, allocates the same short-lived buffers over and
// over, and the garbage collector pays for it. The fix is a buffer pool:
// grab a buffer, encode into it, let the bytes leave, return the buffer.
// bytebufferpool is used instead of a raw sync.Pool because it calibrates
// itself to the workload's real size distribution and refuses to pool
// oversized outliers, so one huge message cannot pin megabytes forever.
//
// The whole pattern is an ownership rule: nothing may reference the
// buffer's bytes after Put. Either the bytes are written out to an
// io.Writer while the buffer is held (WriteEvent, the zero-copy path), or
// they are copied out before release (Capture). Returning buf.B directly
// is the bug this package exists to prevent; the recycled buffer would be
// overwritten under the caller.
//
// The encoder itself is append-style, building on the same dst slice the
// way strconv.AppendQuote does, so encoding into a pooled buffer
// allocates nothing at steady state.
//
// Skill metadata:
//
//	name: buffer-pool
//	category: pooling
//	tags: pool, buffers, allocation, logfmt, hot-path
//	level: intermediate
package bufferpool

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"
)

// pool is dedicated to this package's events so calibration tracks one
// workload, not every caller of the process-global pool.
var pool bytebufferpool.Pool

// Pair is one key=value attribute of an event.
type Pair struct {
	Key, Value string
}

// Event is a log-style record encoded as one logfmt line.
type Event struct {
	Time  time.Time
	Level string
	Msg   string
	Pairs []Pair
}

// AppendEvent appends the logfmt encoding of e to dst and returns the
// extended slice. No trailing newline.
func AppendEvent(dst []byte, e Event) []byte {
	dst = append(dst, "ts="...)
	dst = e.Time.AppendFormat(dst, time.RFC3339)
	dst = append(dst, " level="...)
	if e.Level == "" {
		dst = append(dst, "info"...)
	} else {
		dst = append(dst, e.Level...)
	}
	dst = append(dst, " msg="...)
	dst = strconv.AppendQuote(dst, e.Msg)
	for _, p := range e.Pairs {
		dst = append(dst, ' ')
		dst = append(dst, p.Key...)
		dst = append(dst, '=')
		if needsQuote(p.Value) {
			dst = strconv.AppendQuote(dst, p.Value)
		} else {
			dst = append(dst, p.Value...)
		}
	}
	return dst
}

// FormatEvent encodes e through a pooled buffer and returns a copy the
// caller owns.
func FormatEvent(e Event) []byte {
	return Capture(func(buf *bytebufferpool.ByteBuffer) {
		buf.B = AppendEvent(buf.B, e)
	})
}

// WriteEvent encodes e into a pooled buffer and writes it to w as one
// newline-terminated line. The bytes never leave the buffer's ownership,
// so this path copies nothing.
func WriteEvent(w io.Writer, e Event) (int, error) {
	buf := pool.Get()
	defer pool.Put(buf)
	buf.B = AppendEvent(buf.B, e)
	buf.B = append(buf.B, '\n')
	return w.Write(buf.B)
}

// Capture runs fn with a pooled buffer and returns a copy of whatever fn
// left in it. Use it when the encoded bytes must outlive the buffer.
func Capture(fn func(buf *bytebufferpool.ByteBuffer)) []byte {
	buf := pool.Get()
	defer pool.Put(buf)
	fn(buf)
	out := make([]byte, len(buf.B))
	copy(out, buf.B)
	return out
}

func needsQuote(s string) bool {
	return s == "" || strings.ContainsAny(s, " \"=")
}
