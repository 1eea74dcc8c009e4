// Package json wraps goccy/go-json for pgexport's JSON output: the run
// manifest and streamed table listings.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for encoding/json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a drop-in replacement for encoding/json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// StreamingEncoder writes values one at a time, either as a JSON array or
// as newline delimited JSON. Nothing is buffered beyond the current value.
type StreamingEncoder struct {
	writer  io.Writer
	isArray bool
	indent  string
	count   int
	err     error
}

// NewStreamingEncoder creates a new streaming encoder. An array is opened
// lazily, so a stream with no values still closes to "[]".
func NewStreamingEncoder(w io.Writer, isArray bool) *StreamingEncoder {
	return &StreamingEncoder{writer: w, isArray: isArray}
}

// SetIndent indents array elements by indent
func (se *StreamingEncoder) SetIndent(indent string) {
	se.indent = indent
}

func (se *StreamingEncoder) write(p string) {
	if se.err == nil {
		_, se.err = io.WriteString(se.writer, p)
	}
}

// Encode encodes a single value
func (se *StreamingEncoder) Encode(v interface{}) error {
	if se.err != nil {
		return se.err
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")

	switch {
	case !se.isArray:
		se.write(string(data) + "\n")
	case se.count == 0:
		se.write("[" + se.newline() + string(data))
	default:
		se.write("," + se.newline() + string(data))
	}
	se.count++
	return se.err
}

func (se *StreamingEncoder) newline() string {
	if se.indent == "" {
		return ""
	}
	return "\n" + se.indent
}

// Count returns the number of values encoded so far
func (se *StreamingEncoder) Count() int {
	return se.count
}

// Close finishes the array. It does not close the writer.
func (se *StreamingEncoder) Close() error {
	if !se.isArray {
		return se.err
	}
	switch {
	case se.count == 0:
		se.write("[]\n")
	case se.indent != "":
		se.write("\n]\n")
	default:
		se.write("]\n")
	}
	return se.err
}
