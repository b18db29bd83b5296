// Package trace records a msgpack transcript of every native-messaging frame
// the host reads or writes. Records are appended one after another with no
// outer framing; ReadAll decodes until end of file.
package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/quill/iox"
)

// Direction tells whether a frame was read or written by the host.
type Direction string

const (
	// DirIn marks frames read from the browser.
	DirIn Direction = "in"
	// DirOut marks frames written to the browser.
	DirOut Direction = "out"
)

// Record is one transcript entry.
type Record struct {
	Seq  int64     `msgpack:"seq" json:"seq" yaml:"seq"`
	Ts   string    `msgpack:"ts" json:"ts" yaml:"ts"`
	Dir  Direction `msgpack:"dir" json:"dir" yaml:"dir"`
	Type string    `msgpack:"type" json:"type" yaml:"type"`
	// Payload is the raw JSON frame body.
	Payload string `msgpack:"payload" json:"payload" yaml:"payload"`
}

// Recorder appends records to a writer. A nil *Recorder records nothing.
type Recorder struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *msgpack.Encoder
	closer io.Closer
	seq    int64
	now    func() time.Time
}

// NewRecorder writes records to w.
func NewRecorder(w io.Writer) *Recorder {
	buf := bufio.NewWriter(w)
	return &Recorder{
		buf: buf,
		enc: msgpack.NewEncoder(buf),
		now: time.Now,
	}
}

// Open appends records to the file at path, creating it if needed.
func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	r := NewRecorder(f)
	r.closer = f
	return r, nil
}

// Record appends one frame body. Each record is flushed so a crash loses at
// most the frame in flight.
func (r *Recorder) Record(dir Direction, body []byte) error {
	if r == nil {
		return nil
	}

	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &head)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rec := Record{
		Seq:     r.seq,
		Ts:      r.now().UTC().Format(time.RFC3339Nano),
		Dir:     dir,
		Type:    head.Type,
		Payload: string(body),
	}
	if err := r.enc.Encode(&rec); err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}
	if err := r.buf.Flush(); err != nil {
		return fmt.Errorf("flush trace record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file, if Open created one.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.buf.Flush()
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
		r.closer = nil
	}
	return err
}

// ReadAll decodes every record in r.
func ReadAll(r io.Reader) ([]Record, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var records []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("decode trace record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
}

// ReadFile decodes every record in the file at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer iox.DiscardClose(f)
	return ReadAll(f)
}
