package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// DecodeErrorKind classifies why a payload failed to decode.
type DecodeErrorKind int

const (
	// InvalidByte means the payload holds a character outside the
	// standard Base64 alphabet.
	InvalidByte DecodeErrorKind = iota + 1

	// InvalidPadding means "=" appears somewhere other than the tail.
	InvalidPadding

	// InvalidLength means the payload is not a whole number of padded
	// Base64 quanta.
	InvalidLength
)

func (k DecodeErrorKind) String() string {
	switch k {
	case InvalidByte:
		return "invalid byte"
	case InvalidPadding:
		return "invalid padding"
	case InvalidLength:
		return "invalid length"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// DecodeError reports a Base64 payload that could not be decoded.
type DecodeError struct {
	Kind   DecodeErrorKind
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Kind == InvalidLength {
		return fmt.Sprintf("base64 decode: %s", e.Kind)
	}
	return fmt.Sprintf("base64 decode: %s at offset %d", e.Kind, e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeReport decodes a Base64 payload using the standard alphabet with
// "=" padding. Any other byte, line breaks included, is an InvalidByte.
func DecodeReport(payload string) ([]byte, error) {
	if offset := invalidAlphabetOffset(payload); offset >= 0 {
		return nil, &DecodeError{Kind: InvalidByte, Offset: offset}
	}

	report, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return report, nil
	}

	var corrupt base64.CorruptInputError
	if !errors.As(err, &corrupt) {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}

	offset := int(corrupt)
	kind := InvalidLength
	if pad := strings.IndexByte(payload, '='); pad >= 0 && strings.TrimRight(payload[pad:], "=") != "" {
		kind = InvalidPadding
		offset = pad
	}

	return nil, &DecodeError{Kind: kind, Offset: offset, Err: err}
}

// EncodeReport is the client-side inverse of DecodeReport.
func EncodeReport(report []byte) string {
	return base64.StdEncoding.EncodeToString(report)
}

func invalidAlphabetOffset(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=':
		default:
			return i
		}
	}
	return -1
}
