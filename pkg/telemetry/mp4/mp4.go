// SPDX-License-Identifier: GPL-2.0-or-later

// Package mp4 reads just enough of the ISO base media container to
// locate the compressed bitstream: the movie duration, the video
// track's sample tables and the avcC decoder configuration.
package mp4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// BoxType is an mpeg box type.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// Box types used by the reader.
var (
	TypeMoov = BoxType{'m', 'o', 'o', 'v'}
	TypeMvhd = BoxType{'m', 'v', 'h', 'd'}
	TypeTrak = BoxType{'t', 'r', 'a', 'k'}
	TypeMdia = BoxType{'m', 'd', 'i', 'a'}
	TypeMdhd = BoxType{'m', 'd', 'h', 'd'}
	TypeHdlr = BoxType{'h', 'd', 'l', 'r'}
	TypeMinf = BoxType{'m', 'i', 'n', 'f'}
	TypeStbl = BoxType{'s', 't', 'b', 'l'}
	TypeStsd = BoxType{'s', 't', 's', 'd'}
	TypeAvc1 = BoxType{'a', 'v', 'c', '1'}
	TypeAvcC = BoxType{'a', 'v', 'c', 'C'}
	TypeStts = BoxType{'s', 't', 't', 's'}
	TypeStsz = BoxType{'s', 't', 's', 'z'}
	TypeStsc = BoxType{'s', 't', 's', 'c'}
	TypeStco = BoxType{'s', 't', 'c', 'o'}
	TypeCo64 = BoxType{'c', 'o', '6', '4'}
)

// Parse errors.
var (
	ErrTruncatedBox  = errors.New("truncated box")
	ErrNoMoov        = errors.New("no moov box")
	ErrNoVideoTrack  = errors.New("no video track")
	ErrInvalidTables = errors.New("inconsistent sample tables")
)

// SampleInfo locates one video sample in the file and carries its
// presentation time within the segment.
type SampleInfo struct {
	Offset   int64
	Size     uint32
	PTSMilli int64
}

// Info is the parsed container metadata.
type Info struct {
	// DurationSec is the movie duration from mvhd.
	DurationSec float64

	// NALLengthSize is the AVCC length prefix size from avcC.
	NALLengthSize int

	SPS []byte
	PPS []byte

	Samples []SampleInfo
}

type box struct {
	typ   BoxType
	start int64 // Offset of the payload.
	size  int64 // Payload size.
}

// Duration reads only the mvhd box and returns the movie duration in
// seconds. Used by the duration prober; cheaper than a full parse.
func Duration(r io.ReadSeeker, size int64) (float64, error) {
	moov, err := findBox(r, 0, size, TypeMoov)
	if err != nil {
		return 0, ErrNoMoov
	}
	mvhd, err := findBox(r, moov.start, moov.size, TypeMvhd)
	if err != nil {
		return 0, fmt.Errorf("no mvhd box: %w", err)
	}
	return parseMvhd(r, mvhd)
}

// Parse reads the container metadata and the video sample tables.
func Parse(r io.ReadSeeker, size int64) (*Info, error) {
	moov, err := findBox(r, 0, size, TypeMoov)
	if err != nil {
		return nil, ErrNoMoov
	}

	info := &Info{NALLengthSize: 4}

	mvhd, err := findBox(r, moov.start, moov.size, TypeMvhd)
	if err != nil {
		return nil, fmt.Errorf("no mvhd box: %w", err)
	}
	info.DurationSec, err = parseMvhd(r, mvhd)
	if err != nil {
		return nil, err
	}

	trak, err := findVideoTrak(r, moov)
	if err != nil {
		return nil, err
	}

	mdia, err := findBox(r, trak.start, trak.size, TypeMdia)
	if err != nil {
		return nil, fmt.Errorf("no mdia box: %w", err)
	}

	mdhd, err := findBox(r, mdia.start, mdia.size, TypeMdhd)
	if err != nil {
		return nil, fmt.Errorf("no mdhd box: %w", err)
	}
	timescale, err := parseMdhdTimescale(r, mdhd)
	if err != nil {
		return nil, err
	}

	minf, err := findBox(r, mdia.start, mdia.size, TypeMinf)
	if err != nil {
		return nil, fmt.Errorf("no minf box: %w", err)
	}
	stbl, err := findBox(r, minf.start, minf.size, TypeStbl)
	if err != nil {
		return nil, fmt.Errorf("no stbl box: %w", err)
	}

	if err := parseStsd(r, stbl, info); err != nil {
		return nil, err
	}
	if err := buildSamples(r, stbl, timescale, info); err != nil {
		return nil, err
	}

	return info, nil
}

func readBoxHeader(r io.ReadSeeker, offset int64) (box, int64, error) {
	var header [8]byte
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return box{}, 0, err
	}
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return box{}, 0, ErrTruncatedBox
	}

	size := int64(binary.BigEndian.Uint32(header[:4]))
	var typ BoxType
	copy(typ[:], header[4:])

	headerSize := int64(8)
	if size == 1 {
		// 64-bit largesize.
		var large [8]byte
		if _, err := io.ReadFull(r, large[:]); err != nil {
			return box{}, 0, ErrTruncatedBox
		}
		size = int64(binary.BigEndian.Uint64(large[:]))
		headerSize = 16
	}
	if size < headerSize {
		return box{}, 0, ErrTruncatedBox
	}

	return box{
		typ:   typ,
		start: offset + headerSize,
		size:  size - headerSize,
	}, size, nil
}

// findBox walks the children of [start, start+size) and returns the
// first box of the wanted type.
func findBox(r io.ReadSeeker, start, size int64, want BoxType) (box, error) {
	offset := start
	end := start + size
	for offset < end {
		b, totalSize, err := readBoxHeader(r, offset)
		if err != nil {
			return box{}, err
		}
		if b.typ == want {
			return b, nil
		}
		offset += totalSize
	}
	return box{}, fmt.Errorf("%v: %w", want, ErrTruncatedBox)
}

// findVideoTrak returns the first trak whose handler type is 'vide'.
func findVideoTrak(r io.ReadSeeker, moov box) (box, error) {
	offset := moov.start
	end := moov.start + moov.size
	for offset < end {
		b, totalSize, err := readBoxHeader(r, offset)
		if err != nil {
			return box{}, err
		}
		if b.typ == TypeTrak {
			isVideo, err := trakIsVideo(r, b)
			if err == nil && isVideo {
				return b, nil
			}
		}
		offset += totalSize
	}
	return box{}, ErrNoVideoTrack
}

func trakIsVideo(r io.ReadSeeker, trak box) (bool, error) {
	mdia, err := findBox(r, trak.start, trak.size, TypeMdia)
	if err != nil {
		return false, err
	}
	hdlr, err := findBox(r, mdia.start, mdia.size, TypeHdlr)
	if err != nil {
		return false, err
	}

	buf, err := readPayload(r, hdlr, 12)
	if err != nil {
		return false, err
	}
	// version+flags, pre_defined, handler_type.
	return string(buf[8:12]) == "vide", nil
}

func parseMvhd(r io.ReadSeeker, mvhd box) (float64, error) {
	buf, err := readPayload(r, mvhd, 32)
	if err != nil {
		return 0, err
	}

	version := buf[0]
	if version == 1 {
		timescale := binary.BigEndian.Uint32(buf[20:])
		duration := binary.BigEndian.Uint64(buf[24:])
		if timescale == 0 {
			return 0, ErrInvalidTables
		}
		return float64(duration) / float64(timescale), nil
	}

	timescale := binary.BigEndian.Uint32(buf[12:])
	duration := binary.BigEndian.Uint32(buf[16:])
	if timescale == 0 {
		return 0, ErrInvalidTables
	}
	return float64(duration) / float64(timescale), nil
}

func parseMdhdTimescale(r io.ReadSeeker, mdhd box) (uint32, error) {
	buf, err := readPayload(r, mdhd, 24)
	if err != nil {
		return 0, err
	}

	var timescale uint32
	if buf[0] == 1 {
		timescale = binary.BigEndian.Uint32(buf[20:])
	} else {
		timescale = binary.BigEndian.Uint32(buf[12:])
	}
	if timescale == 0 {
		return 0, ErrInvalidTables
	}
	return timescale, nil
}

// parseStsd walks stsd → avc1 → avcC for the decoder configuration.
func parseStsd(r io.ReadSeeker, stbl box, info *Info) error {
	stsd, err := findBox(r, stbl.start, stbl.size, TypeStsd)
	if err != nil {
		return fmt.Errorf("no stsd box: %w", err)
	}

	// Skip version+flags and entry_count, then the avc1 sample entry
	// header (78 bytes) to reach its child boxes.
	avc1, err := findBox(r, stsd.start+8, stsd.size-8, TypeAvc1)
	if err != nil {
		return fmt.Errorf("no avc1 box: %w", err)
	}
	avcC, err := findBox(r, avc1.start+78, avc1.size-78, TypeAvcC)
	if err != nil {
		return fmt.Errorf("no avcC box: %w", err)
	}

	buf, err := readPayload(r, avcC, int(avcC.size))
	if err != nil {
		return err
	}
	if len(buf) < 7 {
		return ErrTruncatedBox
	}

	info.NALLengthSize = int(buf[4]&0b11) + 1

	pos := 5
	numSPS := int(buf[pos] & 0b11111)
	pos++
	for i := 0; i < numSPS; i++ {
		if pos+2 > len(buf) {
			return ErrTruncatedBox
		}
		spsLen := int(binary.BigEndian.Uint16(buf[pos:]))
		pos += 2
		if pos+spsLen > len(buf) {
			return ErrTruncatedBox
		}
		if i == 0 {
			info.SPS = buf[pos : pos+spsLen]
		}
		pos += spsLen
	}

	if pos < len(buf) {
		numPPS := int(buf[pos])
		pos++
		for i := 0; i < numPPS; i++ {
			if pos+2 > len(buf) {
				return ErrTruncatedBox
			}
			ppsLen := int(binary.BigEndian.Uint16(buf[pos:]))
			pos += 2
			if pos+ppsLen > len(buf) {
				return ErrTruncatedBox
			}
			if i == 0 {
				info.PPS = buf[pos : pos+ppsLen]
			}
			pos += ppsLen
		}
	}
	return nil
}

// buildSamples combines stts, stsz, stsc and stco into a flat sample
// list with file offsets and presentation times.
func buildSamples(r io.ReadSeeker, stbl box, timescale uint32, info *Info) error {
	deltas, err := parseStts(r, stbl)
	if err != nil {
		return err
	}
	sizes, err := parseStsz(r, stbl)
	if err != nil {
		return err
	}
	chunkOffsets, err := parseChunkOffsets(r, stbl)
	if err != nil {
		return err
	}
	stscEntries, err := parseStsc(r, stbl)
	if err != nil {
		return err
	}

	if len(deltas) != len(sizes) {
		return ErrInvalidTables
	}

	samples := make([]SampleInfo, 0, len(sizes))
	var dts uint64
	sampleIdx := 0

	for chunkIdx := 0; chunkIdx < len(chunkOffsets); chunkIdx++ {
		perChunk := samplesPerChunk(stscEntries, chunkIdx)
		offset := chunkOffsets[chunkIdx]

		for i := 0; i < perChunk && sampleIdx < len(sizes); i++ {
			samples = append(samples, SampleInfo{
				Offset:   offset,
				Size:     sizes[sampleIdx],
				PTSMilli: int64(dts * 1000 / uint64(timescale)),
			})
			offset += int64(sizes[sampleIdx])
			dts += uint64(deltas[sampleIdx])
			sampleIdx++
		}
	}

	if sampleIdx != len(sizes) {
		return ErrInvalidTables
	}

	info.Samples = samples
	return nil
}

func parseStts(r io.ReadSeeker, stbl box) ([]uint32, error) {
	stts, err := findBox(r, stbl.start, stbl.size, TypeStts)
	if err != nil {
		return nil, fmt.Errorf("no stts box: %w", err)
	}
	buf, err := readPayload(r, stts, int(stts.size))
	if err != nil {
		return nil, err
	}
	if len(buf) < 8 {
		return nil, ErrTruncatedBox
	}

	entryCount := int(binary.BigEndian.Uint32(buf[4:]))
	if len(buf) < 8+entryCount*8 {
		return nil, ErrTruncatedBox
	}

	var deltas []uint32
	for i := 0; i < entryCount; i++ {
		count := binary.BigEndian.Uint32(buf[8+i*8:])
		delta := binary.BigEndian.Uint32(buf[12+i*8:])
		for j := uint32(0); j < count; j++ {
			deltas = append(deltas, delta)
		}
	}
	return deltas, nil
}

func parseStsz(r io.ReadSeeker, stbl box) ([]uint32, error) {
	stsz, err := findBox(r, stbl.start, stbl.size, TypeStsz)
	if err != nil {
		return nil, fmt.Errorf("no stsz box: %w", err)
	}
	buf, err := readPayload(r, stsz, int(stsz.size))
	if err != nil {
		return nil, err
	}
	if len(buf) < 12 {
		return nil, ErrTruncatedBox
	}

	uniformSize := binary.BigEndian.Uint32(buf[4:])
	sampleCount := int(binary.BigEndian.Uint32(buf[8:]))

	sizes := make([]uint32, sampleCount)
	if uniformSize != 0 {
		for i := range sizes {
			sizes[i] = uniformSize
		}
		return sizes, nil
	}

	if len(buf) < 12+sampleCount*4 {
		return nil, ErrTruncatedBox
	}
	for i := 0; i < sampleCount; i++ {
		sizes[i] = binary.BigEndian.Uint32(buf[12+i*4:])
	}
	return sizes, nil
}

func parseChunkOffsets(r io.ReadSeeker, stbl box) ([]int64, error) {
	if stco, err := findBox(r, stbl.start, stbl.size, TypeStco); err == nil {
		buf, err := readPayload(r, stco, int(stco.size))
		if err != nil {
			return nil, err
		}
		if len(buf) < 8 {
			return nil, ErrTruncatedBox
		}
		count := int(binary.BigEndian.Uint32(buf[4:]))
		if len(buf) < 8+count*4 {
			return nil, ErrTruncatedBox
		}
		offsets := make([]int64, count)
		for i := 0; i < count; i++ {
			offsets[i] = int64(binary.BigEndian.Uint32(buf[8+i*4:]))
		}
		return offsets, nil
	}

	co64, err := findBox(r, stbl.start, stbl.size, TypeCo64)
	if err != nil {
		return nil, fmt.Errorf("no stco or co64 box: %w", err)
	}
	buf, err := readPayload(r, co64, int(co64.size))
	if err != nil {
		return nil, err
	}
	if len(buf) < 8 {
		return nil, ErrTruncatedBox
	}
	count := int(binary.BigEndian.Uint32(buf[4:]))
	if len(buf) < 8+count*8 {
		return nil, ErrTruncatedBox
	}
	offsets := make([]int64, count)
	for i := 0; i < count; i++ {
		offsets[i] = int64(binary.BigEndian.Uint64(buf[8+i*8:]))
	}
	return offsets, nil
}

type stscEntry struct {
	firstChunk      uint32
	samplesPerChunk uint32
}

func parseStsc(r io.ReadSeeker, stbl box) ([]stscEntry, error) {
	stsc, err := findBox(r, stbl.start, stbl.size, TypeStsc)
	if err != nil {
		return nil, fmt.Errorf("no stsc box: %w", err)
	}
	buf, err := readPayload(r, stsc, int(stsc.size))
	if err != nil {
		return nil, err
	}
	if len(buf) < 8 {
		return nil, ErrTruncatedBox
	}

	count := int(binary.BigEndian.Uint32(buf[4:]))
	if len(buf) < 8+count*12 {
		return nil, ErrTruncatedBox
	}

	entries := make([]stscEntry, count)
	for i := 0; i < count; i++ {
		entries[i] = stscEntry{
			firstChunk:      binary.BigEndian.Uint32(buf[8+i*12:]),
			samplesPerChunk: binary.BigEndian.Uint32(buf[12+i*12:]),
		}
	}
	return entries, nil
}

// samplesPerChunk resolves the stsc run covering chunkIdx (0-based).
func samplesPerChunk(entries []stscEntry, chunkIdx int) int {
	chunkNum := uint32(chunkIdx + 1)
	per := 0
	for _, entry := range entries {
		if entry.firstChunk > chunkNum {
			break
		}
		per = int(entry.samplesPerChunk)
	}
	return per
}

func readPayload(r io.ReadSeeker, b box, n int) ([]byte, error) {
	if int64(n) > b.size {
		return nil, ErrTruncatedBox
	}
	if _, err := r.Seek(b.start, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrTruncatedBox
	}
	return buf, nil
}
