// Package wire defines the frame format used between peers and the contract
// every message type implements.
//
// A frame is tag(2) | length(2) | payload(length), both header fields are
// little-endian.
package wire

import (
	"errors"
	"fmt"
	"math"
)

type (
	// Tag is the process assigned identifier of a message type.
	Tag uint16

	// Message is value data plus the code to move it on and off the wire.
	Message interface {
		// MaxSize is an upper bound of the serialized payload, or UnknownSize.
		MaxSize() int
		// Parse reads the fields from r. r holds exactly one payload.
		Parse(r *Reader) error
		// Serialize writes the fields to w.
		Serialize(w *Writer) error
	}

	// Unknown carries the payload of a tag this process does not know, so it
	// can be ignored or forwarded without losing framing.
	Unknown struct {
		Tag  Tag
		Data []byte
	}
)

const (
	HeaderSize  = 4
	MaxPayload  = math.MaxUint16
	UnknownSize = -1
)

var (
	ErrTruncated       = errors.New("wire: truncated payload")
	ErrShortBuffer     = errors.New("wire: write exceeds buffer")
	ErrPayloadTooLarge = errors.New("wire: payload too large")
	ErrArrayTooLong    = errors.New("wire: array too long")
	ErrInvalidString   = errors.New("wire: string is not valid utf-8")
)

func (t Tag) String() string { return fmt.Sprintf("%04x", uint16(t)) }

func (u *Unknown) MaxSize() int { return len(u.Data) }

func (u *Unknown) Parse(r *Reader) error {
	u.Data = append([]byte(nil), r.Rest()...)
	return nil
}

func (u *Unknown) Serialize(w *Writer) error {
	return w.Fixed(u.Data)
}

func (u *Unknown) String() string {
	return fmt.Sprintf("unknown(tag=%v, %d bytes)", u.Tag, len(u.Data))
}
