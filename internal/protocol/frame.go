package protocol

import (
	"fmt"

	"github.com/soundvault/rfidcore/internal/types"
)

// Wire format of the UHF reader module:
// Header(1) + FrameType(1) + Command(1) + LengthHi(1) + LengthLo(1) + Payload(n) + Checksum(1) + End(1)
const (
	FrameHeader    byte = 0xBB // outbound commands
	FrameHeaderAlt byte = 0xBF // some firmware revisions reply with this
	FrameEnd       byte = 0x7E

	FrameTypeCommand  byte = 0x00
	FrameTypeResponse byte = 0x01
	FrameTypeNotice   byte = 0x02

	// Fixed frame bytes around the payload.
	frameOverhead = 7
)

// Frame is one decoded command/response/notice unit.
type Frame struct {
	Header  byte
	Type    byte
	Command byte
	Payload []byte
}

// Checksum is the additive single-byte checksum over FrameType through the
// last payload byte.
func Checksum(frameType, command byte, payload []byte) byte {
	sum := int(frameType) + int(command)
	sum += len(payload) >> 8
	sum += len(payload) & 0xFF
	for _, b := range payload {
		sum += int(b)
	}
	return byte(sum & 0xFF)
}

// Encode builds one outbound command frame.
func Encode(command byte, payload []byte) []byte {
	frame := make([]byte, 0, frameOverhead+len(payload))
	frame = append(frame, FrameHeader, FrameTypeCommand, command)
	frame = append(frame, byte(len(payload)>>8), byte(len(payload)&0xFF))
	frame = append(frame, payload...)
	frame = append(frame, Checksum(FrameTypeCommand, command, payload), FrameEnd)
	return frame
}

// Decode extracts at most one frame from buf.
//
// Returns (nil, rest, nil) when buf does not yet hold a complete frame; the
// caller accumulates more bytes and retries. A checksum or trailer mismatch
// discards exactly the malformed frame (resyncs past its header byte) and
// returns a types.ErrChecksum-wrapped error without losing later frames.
// The returned rest is always trimmed to the next header byte.
func Decode(buf []byte) (*Frame, []byte, error) {
	buf = skipToHeader(buf)
	if len(buf) < frameOverhead {
		return nil, buf, nil
	}

	payloadLen := int(buf[3])<<8 | int(buf[4])
	total := frameOverhead + payloadLen
	if len(buf) < total {
		return nil, buf, nil
	}

	frameType := buf[1]
	command := buf[2]
	payload := buf[5 : 5+payloadLen]

	if buf[total-1] != FrameEnd {
		return nil, skipToHeader(buf[1:]), fmt.Errorf("frame 0x%02X missing trailer: %w", command, types.ErrChecksum)
	}
	if got, want := buf[total-2], Checksum(frameType, command, payload); got != want {
		return nil, skipToHeader(buf[1:]), fmt.Errorf("frame 0x%02X checksum 0x%02X != 0x%02X: %w", command, got, want, types.ErrChecksum)
	}

	frame := &Frame{
		Header:  buf[0],
		Type:    frameType,
		Command: command,
		Payload: append([]byte(nil), payload...),
	}
	return frame, skipToHeader(buf[total:]), nil
}

func skipToHeader(buf []byte) []byte {
	for len(buf) > 0 && buf[0] != FrameHeader && buf[0] != FrameHeaderAlt {
		buf = buf[1:]
	}
	return buf
}
