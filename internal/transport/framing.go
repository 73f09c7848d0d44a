package transport

import (
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// FrameError indicates a malformed message on a framed byte stream. It
// records which field was being read.
type FrameError struct {
	Field string
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("transport: read %s: %v", e.Field, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// AppendMessage appends the wire encoding of msg to b.
// Wire format: [type (varint)] [length (varint)] [payload].
func AppendMessage(b []byte, msg Message) []byte {
	b = quicvarint.Append(b, uint64(msg.Type))
	b = quicvarint.Append(b, uint64(len(msg.Data)))
	return append(b, msg.Data...)
}

// WriteMessage writes msg to w in a single Write call.
func WriteMessage(w io.Writer, msg Message) error {
	buf := AppendMessage(make([]byte, 0, len(msg.Data)+16), msg)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads one framed message from r. A clean end of stream before
// the first byte of a message is reported as io.EOF; a stream ending inside
// a message is a *FrameError wrapping io.ErrUnexpectedEOF.
func ReadMessage(r quicvarint.Reader, maxSize int) (Message, error) {
	typ, err := quicvarint.Read(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, &FrameError{Field: "message type", Err: err}
	}
	mt := MessageType(typ)
	if mt != MessageText && mt != MessageBinary {
		return Message{}, &FrameError{Field: "message type", Err: fmt.Errorf("unknown type %#x", typ)}
	}

	length, err := quicvarint.Read(r)
	if err != nil {
		return Message{}, &FrameError{Field: "message length", Err: unexpected(err)}
	}
	if maxSize > 0 && length > uint64(maxSize) {
		return Message{}, &FrameError{Field: "message length", Err: fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, maxSize)}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return Message{}, &FrameError{Field: "message payload", Err: unexpected(err)}
	}
	return Message{Type: mt, Data: data}, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
