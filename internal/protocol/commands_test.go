package protocol

import (
	"errors"
	"testing"

	"github.com/soundvault/rfidcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiPollPayload(t *testing.T) {
	assert.Equal(t, []byte{0x22, 0x27, 0x10}, MultiPollPayload(10000))
	assert.Equal(t, []byte{0x22, 0x00, 0x01}, MultiPollPayload(1))
}

func TestWriteEPCPayload(t *testing.T) {
	password := [4]byte{0xDE, 0xAD, 0xBE, 0xEF}
	payload, err := WriteEPCPayload("53564142434445464748494A", password)
	require.NoError(t, err)

	require.Len(t, payload, 21)
	assert.Equal(t, password[:], payload[:4])
	assert.Equal(t, BankEPC, payload[4])
	assert.Equal(t, []byte{0x00, 0x02}, payload[5:7], "epc data starts at word 2")
	assert.Equal(t, []byte{0x00, 0x06}, payload[7:9], "96 bits is 6 words")
	assert.Equal(t, []byte{0x53, 0x56, 0x41, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49, 0x4A}, payload[9:])
}

func TestWriteEPCPayloadRejectsBadInput(t *testing.T) {
	var password [4]byte

	_, err := WriteEPCPayload("5356", password)
	assert.Error(t, err)

	_, err = WriteEPCPayload("ZZ564142434445464748494A", password)
	assert.Error(t, err)
}

func TestReadDataPayload(t *testing.T) {
	payload := ReadDataPayload(BankTID, 0, 6, [4]byte{})
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x06}, payload)
}

func TestLockPayload(t *testing.T) {
	payload := LockPayload([3]byte{0x02, 0x00, 0x80}, [4]byte{0x11, 0x22, 0x33, 0x44})
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44, 0x02, 0x00, 0x80}, payload)
}

func TestRFPowerRoundTrip(t *testing.T) {
	payload := SetRFPowerPayload(26)
	assert.Equal(t, []byte{0x0A, 0x28}, payload, "26 dBm is 2600 hundredths")

	dbm, err := ParseRFPower(payload)
	require.NoError(t, err)
	assert.Equal(t, 26, dbm)

	_, err = ParseRFPower([]byte{0x0A})
	assert.Error(t, err)
}

func TestParseTagRead(t *testing.T) {
	payload := []byte{
		0xC9,       // RSSI
		0x30, 0x00, // PC
		0x53, 0x56, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, // EPC
		0xAB, 0xCD, // CRC
	}

	read, err := ParseTagRead(payload)
	require.NoError(t, err)
	assert.Equal(t, int8(-55), read.RSSI)
	assert.Equal(t, uint16(0x3000), read.PC)
	assert.Equal(t, "53560102030405060708090A", read.EPC)
}

func TestParseTagReadTooShort(t *testing.T) {
	_, err := ParseTagRead([]byte{0xC9, 0x30, 0x00})
	assert.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	assert.Equal(t, "M100 26dBm V1.0", ParseVersion([]byte("M100 26dBm V1.0\x00\x00")))
}

func TestCheckStatus(t *testing.T) {
	assert.NoError(t, CheckStatus([]byte{types.ModuleCodeSuccess}))
	assert.Error(t, CheckStatus(nil))

	err := CheckStatus([]byte{types.ModuleCodeWriteFailed})
	require.Error(t, err)

	var moduleErr *types.ModuleError
	require.True(t, errors.As(err, &moduleErr))
	assert.Equal(t, types.ModuleCodeWriteFailed, moduleErr.Code)
	assert.True(t, moduleErr.Retryable())
}

func TestIsErrorPayload(t *testing.T) {
	assert.True(t, IsErrorPayload([]byte{types.ModuleCodeTagNotFound}))
	assert.False(t, IsErrorPayload([]byte{types.ModuleCodeSuccess}))
	assert.False(t, IsErrorPayload([]byte{0x17, 0x17}))
	assert.False(t, IsErrorPayload(nil))
}
