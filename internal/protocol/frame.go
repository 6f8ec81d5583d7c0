package protocol

import (
	"errors"
	"fmt"
	"io"
)

// ReadFrame performs a single read into buf and returns the bytes
// received. A frame longer than buf is truncated to len(buf); the rest
// stays unread on r. A read that yields no bytes is reported as
// io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, buf []byte) ([]byte, error) {
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}

	if err == nil || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("no data received: %w", io.ErrUnexpectedEOF)
	}
	return nil, err
}

// WriteAck writes the acknowledgement to w.
func WriteAck(w io.Writer) error {
	if _, err := w.Write(Ack); err != nil {
		return fmt.Errorf("write ack: %w", err)
	}
	return nil
}
