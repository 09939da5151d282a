package wire

import "fmt"

// Frame is one complete message on the wire, Payload aliases the source buffer.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// Encode serializes msg behind a frame header.
//
// The buffer is sized from msg.MaxSize and the length field is patched after
// the payload is written.
func Encode(tag Tag, msg Message) ([]byte, error) {
	size := msg.MaxSize()
	if size == UnknownSize {
		size = MaxPayload
	}
	if size < 0 || size > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes for tag %v", ErrPayloadTooLarge, size, tag)
	}
	buf := make([]byte, HeaderSize+size)
	le.PutUint16(buf, uint16(tag))
	w := NewWriter(buf[HeaderSize:])
	if err := msg.Serialize(w); err != nil {
		return nil, fmt.Errorf("wire: serialize tag %v: %w", tag, err)
	}
	le.PutUint16(buf[2:], uint16(w.Len()))
	return buf[:HeaderSize+w.Len()], nil
}

// NextFrame splits one complete frame from the front of buf.
// ok is false when buf holds less than a full frame.
func NextFrame(buf []byte) (f Frame, rest []byte, ok bool) {
	if len(buf) < HeaderSize {
		return Frame{}, buf, false
	}
	n := int(le.Uint16(buf[2:]))
	if len(buf) < HeaderSize+n {
		return Frame{}, buf, false
	}
	f.Tag = Tag(le.Uint16(buf))
	f.Payload = buf[HeaderSize : HeaderSize+n]
	return f, buf[HeaderSize+n:], true
}

// Decode parses payload into msg and fails if msg leaves bytes unread.
func Decode(payload []byte, msg Message) error {
	r := NewReader(payload)
	if err := msg.Parse(r); err != nil {
		return err
	}
	if r.Remaining() != 0 {
		return fmt.Errorf("wire: %d trailing bytes", r.Remaining())
	}
	return nil
}
