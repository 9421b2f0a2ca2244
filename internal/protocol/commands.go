package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/soundvault/rfidcore/internal/types"
)

// Command codes of the UHF reader module.
const (
	CmdGetFirmwareVersion byte = 0x03
	CmdSinglePoll         byte = 0x22
	CmdMultiPoll          byte = 0x27
	CmdStopMultiPoll      byte = 0x28
	CmdReadData           byte = 0x39
	CmdWriteEPC           byte = 0x49
	CmdLockTag            byte = 0x82
	CmdSetRFPower         byte = 0xB6
	CmdGetRFPower         byte = 0xB7
)

// Memory banks of an EPC Gen2 tag.
const (
	BankReserved byte = 0x00
	BankEPC      byte = 0x01
	BankTID      byte = 0x02
	BankUser     byte = 0x03
)

const (
	// EPC data starts at word 2 of the EPC bank (word 0 is the CRC,
	// word 1 the PC).
	epcStartWord uint16 = 0x0002
	epcWordCount uint16 = 6

	// EpcHexLen is the length of a 96-bit EPC in hex characters.
	EpcHexLen = 24
)

// TagRead is one tag observation from a single or multi poll.
type TagRead struct {
	RSSI int8
	PC   uint16
	EPC  string // uppercase hex
}

// MultiPollPayload builds the 0x27 payload: reserved byte plus a big-endian
// poll-round count.
func MultiPollPayload(rounds uint16) []byte {
	return []byte{0x22, byte(rounds >> 8), byte(rounds & 0xFF)}
}

// WriteEPCPayload builds the 0x49 payload writing a 96-bit EPC into the EPC
// bank: access password (4) + bank (1) + start word (2) + word count (2) +
// EPC data (12).
func WriteEPCPayload(epc string, password [4]byte) ([]byte, error) {
	data, err := epcBytes(epc)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, 0, 9+len(data))
	payload = append(payload, password[:]...)
	payload = append(payload, BankEPC)
	payload = append(payload, byte(epcStartWord>>8), byte(epcStartWord&0xFF))
	payload = append(payload, byte(epcWordCount>>8), byte(epcWordCount&0xFF))
	payload = append(payload, data...)
	return payload, nil
}

// ReadDataPayload builds the 0x39 payload: access password (4) + bank (1) +
// start word (2) + word count (2).
func ReadDataPayload(bank byte, addr, words uint16, password [4]byte) []byte {
	payload := make([]byte, 0, 9)
	payload = append(payload, password[:]...)
	payload = append(payload, bank)
	payload = append(payload, byte(addr>>8), byte(addr&0xFF))
	payload = append(payload, byte(words>>8), byte(words&0xFF))
	return payload
}

// LockPayload builds the 0x82 payload: access password (4) + 3-byte lock
// mask/action block.
func LockPayload(lock [3]byte, password [4]byte) []byte {
	payload := make([]byte, 0, 7)
	payload = append(payload, password[:]...)
	payload = append(payload, lock[:]...)
	return payload
}

// SetRFPowerPayload encodes the 0xB6 payload. The module takes the output
// power as a big-endian value in hundredths of a dBm.
func SetRFPowerPayload(dbm int) []byte {
	v := uint16(dbm * 100)
	return []byte{byte(v >> 8), byte(v & 0xFF)}
}

// ParseRFPower decodes a 0xB7 response payload back to whole dBm.
func ParseRFPower(payload []byte) (int, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("rf power response too short: %d bytes", len(payload))
	}
	return int(uint16(payload[0])<<8|uint16(payload[1])) / 100, nil
}

// ParseTagRead decodes a single/multi poll payload:
// RSSI (1) + PC (2) + EPC (12) + CRC (2).
func ParseTagRead(payload []byte) (*TagRead, error) {
	if len(payload) < 17 {
		return nil, fmt.Errorf("tag read payload too short: %d bytes", len(payload))
	}
	return &TagRead{
		RSSI: int8(payload[0]),
		PC:   uint16(payload[1])<<8 | uint16(payload[2]),
		EPC:  strings.ToUpper(hex.EncodeToString(payload[3:15])),
	}, nil
}

// ParseVersion decodes the 0x03 response payload (ASCII version string).
func ParseVersion(payload []byte) string {
	return strings.TrimRight(string(payload), "\x00")
}

// CheckStatus inspects an ack-style response payload. 0x10 is the sole
// success code; known error codes become a *types.ModuleError.
func CheckStatus(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("empty response payload")
	}
	code := payload[0]
	if code == types.ModuleCodeSuccess {
		return nil
	}
	return &types.ModuleError{Code: code}
}

// IsErrorPayload reports whether a response payload carries a module error
// code instead of data.
func IsErrorPayload(payload []byte) bool {
	if len(payload) != 1 {
		return false
	}
	return payload[0] >= types.ModuleCodeInvalidCommand && payload[0] <= types.ModuleCodeLockFailed
}

func epcBytes(epc string) ([]byte, error) {
	if len(epc) != EpcHexLen {
		return nil, fmt.Errorf("epc must be %d hex chars, got %d", EpcHexLen, len(epc))
	}
	data, err := hex.DecodeString(epc)
	if err != nil {
		return nil, fmt.Errorf("invalid epc %q: %w", epc, err)
	}
	return data, nil
}
