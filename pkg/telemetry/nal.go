// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// MaxNALUSize is the maximum size of a NALU.
const MaxNALUSize = 3 * 1024 * 1024

// NAL errors.
var (
	ErrNALUInvalidLength = errors.New("invalid NALU length")
	ErrNALUTooBig        = errors.New("NALU size too big")
)

const (
	naluTypeSEI = 6

	// SEI payload type carrying vendor user data.
	seiTypeUserDataUnregistered = 5
)

// telemetryUUID prefixes the vendor telemetry SEI payload. Payloads
// with a different UUID belong to other tools and are skipped.
var telemetryUUID = []byte{
	0x74, 0x65, 0x73, 0x6c, 0x61, 0x63, 0x61, 0x6d,
	0x2d, 0x74, 0x65, 0x6c, 0x65, 0x6d, 0x30, 0x31,
}

// splitNALUs decodes NALUs from one AVCC sample. lengthSize is the
// length-prefix size from the avcC box, 1 to 4 bytes.
func splitNALUs(buf []byte, lengthSize int) ([][]byte, error) {
	bl := len(buf)
	pos := 0
	var ret [][]byte

	for {
		if (bl - pos) < lengthSize {
			return nil, ErrNALUInvalidLength
		}

		var le int
		switch lengthSize {
		case 4:
			le = int(binary.BigEndian.Uint32(buf[pos:]))
		case 2:
			le = int(binary.BigEndian.Uint16(buf[pos:]))
		case 1:
			le = int(buf[pos])
		default:
			return nil, ErrNALUInvalidLength
		}
		pos += lengthSize

		if (bl - pos) < le {
			return nil, ErrNALUInvalidLength
		}
		if le > MaxNALUSize {
			return nil, ErrNALUTooBig
		}

		ret = append(ret, buf[pos:pos+le])
		pos += le

		if (bl - pos) == 0 {
			break
		}
	}

	return ret, nil
}

// stripEmulationPrevention removes 0x03 emulation-prevention bytes
// from a raw byte sequence payload.
func stripEmulationPrevention(buf []byte) []byte {
	out := make([]byte, 0, len(buf))
	zeros := 0
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		if zeros == 2 && b == 0x03 {
			zeros = 0
			continue
		}
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

// telemetryPayloads extracts vendor telemetry messages from one
// sample's NALUs. Non-SEI units and foreign SEI payloads are skipped.
func telemetryPayloads(nalus [][]byte) [][]byte {
	var payloads [][]byte
	for _, nalu := range nalus {
		if len(nalu) < 2 || nalu[0]&0b11111 != naluTypeSEI {
			continue
		}

		rbsp := stripEmulationPrevention(nalu[1:])
		payloads = append(payloads, seiMessages(rbsp)...)
	}
	return payloads
}

// seiMessages walks the SEI messages of one rbsp and returns the
// vendor telemetry payloads, UUID stripped.
func seiMessages(rbsp []byte) [][]byte {
	var payloads [][]byte
	pos := 0
	for pos < len(rbsp) {
		// 0x80 is the rbsp trailing bit.
		if rbsp[pos] == 0x80 {
			break
		}

		payloadType, n := readSEIValue(rbsp[pos:])
		if n == 0 {
			break
		}
		pos += n

		payloadSize, n := readSEIValue(rbsp[pos:])
		if n == 0 {
			break
		}
		pos += n

		if pos+payloadSize > len(rbsp) {
			break
		}
		payload := rbsp[pos : pos+payloadSize]
		pos += payloadSize

		if payloadType != seiTypeUserDataUnregistered {
			continue
		}
		if len(payload) < len(telemetryUUID) ||
			!bytes.Equal(payload[:len(telemetryUUID)], telemetryUUID) {
			continue
		}
		payloads = append(payloads, payload[len(telemetryUUID):])
	}
	return payloads
}

// readSEIValue reads a ff-accumulated SEI type or size value.
func readSEIValue(buf []byte) (int, int) {
	value := 0
	n := 0
	for n < len(buf) {
		b := buf[n]
		n++
		value += int(b)
		if b != 0xff {
			return value, n
		}
	}
	return 0, 0
}
