package protocol

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// Protocol constants
const (
	// FieldDelimiter separates fields in the identification frame and
	// wraps the payload frame.
	FieldDelimiter = "~"

	// BranchFieldIndex is the zero-based field of the identification
	// frame that carries the branch code.
	BranchFieldIndex = 1

	// DefaultFrameSize is the receive buffer used for a single frame.
	DefaultFrameSize = 1024

	// MaxBranchCodeLength is the longest accepted branch code in bytes.
	MaxBranchCodeLength = 64
)

// Ack is written to the client after the identification frame and again
// after the report has been stored. No terminator follows it.
var Ack = []byte("OK")

var (
	// ErrEmptyFrame is returned when a frame carries no bytes.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrNoBranchField is returned when the identification frame has no
	// field at BranchFieldIndex.
	ErrNoBranchField = errors.New("failed to parse branch code")

	// ErrInvalidBranchCode is returned when a branch code cannot be used
	// as a single path component.
	ErrInvalidBranchCode = errors.New("invalid branch code")
)

// DecodeText interprets raw frame bytes as UTF-8, replacing invalid
// sequences with U+FFFD.
func DecodeText(data []byte) string {
	decoded, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		// The UTF-8 decoder replaces rather than rejects, so this only
		// happens on an internal transformer failure.
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(decoded)
}

// ParseIdentification extracts the branch code from an identification
// frame: the second "~"-separated field with surrounding ASCII whitespace
// removed. The leading field and any fields after the branch code are
// ignored.
func ParseIdentification(frame string) (string, error) {
	if frame == "" {
		return "", ErrEmptyFrame
	}

	fields := strings.SplitN(frame, FieldDelimiter, BranchFieldIndex+2)
	if len(fields) <= BranchFieldIndex {
		return "", ErrNoBranchField
	}

	return trimASCIISpace(fields[BranchFieldIndex]), nil
}

// ExtractPayload strips any run of "~" at the start and end of the
// payload frame. Interior tildes are kept; they never occur in a valid
// Base64 payload and will fail decoding.
func ExtractPayload(frame string) string {
	return strings.Trim(frame, FieldDelimiter)
}

// ValidateBranchCode checks that code is usable as a single directory
// name below the data root.
func ValidateBranchCode(code string) error {
	switch {
	case code == "":
		return fmt.Errorf("%w: empty", ErrInvalidBranchCode)
	case code == "." || code == "..":
		return fmt.Errorf("%w: %q is a relative path element", ErrInvalidBranchCode, code)
	case len(code) > MaxBranchCodeLength:
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidBranchCode, len(code), MaxBranchCodeLength)
	}

	for i, r := range code {
		switch {
		case r == '/' || r == '\\':
			return fmt.Errorf("%w: path separator at offset %d", ErrInvalidBranchCode, i)
		case r < 0x20 || r == 0x7f:
			return fmt.Errorf("%w: control character at offset %d", ErrInvalidBranchCode, i)
		case r == '�':
			return fmt.Errorf("%w: invalid UTF-8 at offset %d", ErrInvalidBranchCode, i)
		}
	}

	return nil
}

func trimASCIISpace(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			return true
		}
		return false
	})
}
