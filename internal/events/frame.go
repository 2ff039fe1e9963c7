package events

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kafka header keys set on every published step event.
const (
	HeaderEventType = "event_type"
	HeaderUserID    = "user_id"
	HeaderSubject   = "schema_subject"
	HeaderDay       = "day"
)

// frameHeaderLen covers the magic byte and the big-endian schema id.
const frameHeaderLen = 5

// ErrBadFrame is returned for values that do not carry Schema Registry framing.
var ErrBadFrame = errors.New("not a schema registry frame")

// Frame prefixes payload with the Schema Registry wire header.
func Frame(schemaID int, payload []byte) []byte {
	frame := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint32(frame[1:frameHeaderLen], uint32(schemaID))
	copy(frame[frameHeaderLen:], payload)
	return frame
}

// Unframe returns the schema id and a copy of the payload.
func Unframe(frame []byte) (int, []byte, error) {
	if len(frame) < frameHeaderLen {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(frame))
	}
	if frame[0] != 0 {
		return 0, nil, fmt.Errorf("%w: magic byte %d", ErrBadFrame, frame[0])
	}
	id := int(binary.BigEndian.Uint32(frame[1:frameHeaderLen]))
	return id, append([]byte(nil), frame[frameHeaderLen:]...), nil
}
