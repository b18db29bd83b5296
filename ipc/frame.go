// Package ipc implements native-messaging framing: a 4-byte length prefix in
// host byte order followed by a UTF-8 JSON envelope.
package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/pithecene-io/quill/types"
)

// Frame size constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// MaxInboundPayloadSize is the largest message a browser sends to a
	// native host (64 MiB).
	MaxInboundPayloadSize = 64 * 1024 * 1024
	// MaxOutboundPayloadSize is the largest message a browser accepts from a
	// native host (1 MiB).
	MaxOutboundPayloadSize = 1024 * 1024
)

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated length prefix or body.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a payload exceeding the size limit.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a body that is not a valid envelope.
	FrameErrorDecode
	// FrameErrorUnknownType indicates an envelope with an unrecognized type.
	FrameErrorUnknownType
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorDecode:
		return "decode"
	case FrameErrorUnknownType:
		return "unknown_type"
	default:
		return fmt.Sprintf("FrameErrorKind(%d)", int(k))
	}
}

// FrameError represents a framing or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the stream can no longer be trusted. There is no
// resynchronization, so every inbound frame error is fatal; only an
// oversized outbound message can be dropped and reported instead.
func (e *FrameError) IsFatal() bool {
	return e.Kind != FrameErrorTooLarge
}

// IsFrameError reports whether err is a *FrameError of the given kind.
func IsFrameError(err error, kind FrameErrorKind) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == kind
	}
	return false
}

// FrameDecoder reads length-prefixed frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads a single frame and returns its raw JSON body.
//
// Errors:
//   - io.EOF: the peer closed the stream before a new frame began
//   - *FrameError with Kind=FrameErrorPartial: truncated prefix or body
//   - *FrameError with Kind=FrameErrorTooLarge: declared length over the limit
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.NativeEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxInboundPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxInboundPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if n, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  fmt.Sprintf("expected %d bytes, but got %d", payloadSize, n),
			Err:  err,
		}
	}

	return payload, nil
}

// DecodeMessage decodes a frame body into one of the inbound variants.
func DecodeMessage(payload []byte) (types.Inbound, error) {
	if !utf8.Valid(payload) {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "frame body is not valid UTF-8",
		}
	}

	var envelope types.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode envelope",
			Err:  err,
		}
	}

	switch envelope.Type {
	case types.MessageTypeNewText:
		var msg types.NewText
		if err := json.Unmarshal(envelope.Payload, &msg); err != nil {
			return nil, &FrameError{
				Kind: FrameErrorDecode,
				Msg:  "failed to decode new_text payload",
				Err:  err,
			}
		}
		return &msg, nil
	default:
		return nil, &FrameError{
			Kind: FrameErrorUnknownType,
			Msg:  fmt.Sprintf("unrecognized message type %q", envelope.Type),
		}
	}
}

// outboundEnvelope is the encoding side of types.Envelope.
type outboundEnvelope struct {
	Type    types.MessageType `json:"type"`
	Payload types.Outbound    `json:"payload"`
}

// EncodeMessage serializes an outbound message into a frame body.
func EncodeMessage(msg types.Outbound) ([]byte, error) {
	payload, err := json.Marshal(outboundEnvelope{Type: msg.MessageType(), Payload: msg})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	if len(payload) > MaxOutboundPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("%s message of %d bytes exceeds maximum %d", msg.MessageType(), len(payload), MaxOutboundPayloadSize),
		}
	}
	return payload, nil
}

// FrameEncoder writes length-prefixed frames. WriteFrame is safe for
// concurrent use; each frame is written and flushed as one unit.
type FrameEncoder struct {
	mu     sync.Mutex
	writer *bufio.Writer
}

// NewFrameEncoder creates a new frame encoder.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{writer: bufio.NewWriter(w)}
}

// WriteFrame writes the length prefix and payload, then flushes.
func (e *FrameEncoder) WriteFrame(payload []byte) error {
	var lengthBuf [LengthPrefixSize]byte
	binary.NativeEndian.PutUint32(lengthBuf[:], uint32(len(payload)))

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.writer.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := e.writer.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// WriteMessage encodes msg and writes it as one frame. The encoded body is
// returned so callers can record it.
func (e *FrameEncoder) WriteMessage(msg types.Outbound) ([]byte, error) {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	return payload, e.WriteFrame(payload)
}
