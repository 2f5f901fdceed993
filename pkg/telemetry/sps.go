// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"bytes"

	"github.com/icza/bitio"
)

// frameRate extracts the nominal frame rate from a sequence parameter
// set, walking the header until the VUI timing info. Used to derive
// frame times when an encoder writes a degenerate time-to-sample
// table. ok is false when the SPS carries no timing info.
func frameRate(sps []byte) (float64, bool) {
	if len(sps) < 4 {
		return 0, false
	}

	// Strip the NAL header byte and emulation prevention.
	br := bitio.NewReader(bytes.NewReader(stripEmulationPrevention(sps[1:])))

	profileIdc, err := br.ReadBits(8)
	if err != nil {
		return 0, false
	}
	// constraint_set flags + level_idc.
	if _, err := br.ReadBits(16); err != nil {
		return 0, false
	}
	if _, err := readGolombUnsigned(br); err != nil { // seq_parameter_set_id
		return 0, false
	}

	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		if !skipChromaInfo(br) {
			return 0, false
		}
	}

	if ok := skipToVUI(br); !ok {
		return 0, false
	}

	vuiPresent, err := readFlag(br)
	if err != nil || !vuiPresent {
		return 0, false
	}

	return readVUITiming(br)
}

func skipChromaInfo(br *bitio.Reader) bool {
	chromaFormatIdc, err := readGolombUnsigned(br)
	if err != nil {
		return false
	}
	if chromaFormatIdc == 3 {
		if _, err := readFlag(br); err != nil { // separate_colour_plane_flag
			return false
		}
	}
	if _, err := readGolombUnsigned(br); err != nil { // bit_depth_luma_minus8
		return false
	}
	if _, err := readGolombUnsigned(br); err != nil { // bit_depth_chroma_minus8
		return false
	}
	if _, err := readFlag(br); err != nil { // qpprime_y_zero_transform_bypass_flag
		return false
	}

	scalingMatrixPresent, err := readFlag(br)
	if err != nil {
		return false
	}
	if scalingMatrixPresent {
		count := 8
		if chromaFormatIdc == 3 {
			count = 12
		}
		for i := 0; i < count; i++ {
			present, err := readFlag(br)
			if err != nil {
				return false
			}
			if !present {
				continue
			}
			size := 16
			if i >= 6 {
				size = 64
			}
			if !skipScalingList(br, size) {
				return false
			}
		}
	}
	return true
}

func skipScalingList(br *bitio.Reader, size int) bool {
	lastScale := int32(8)
	nextScale := int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			deltaScale, err := readGolombSigned(br)
			if err != nil {
				return false
			}
			nextScale = (lastScale + deltaScale + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return true
}

// skipToVUI discards the remaining header fields up to the
// vui_parameters_present_flag.
func skipToVUI(br *bitio.Reader) bool { //nolint:gocognit
	if _, err := readGolombUnsigned(br); err != nil { // log2_max_frame_num_minus4
		return false
	}

	picOrderCntType, err := readGolombUnsigned(br)
	if err != nil {
		return false
	}
	switch picOrderCntType {
	case 0:
		if _, err := readGolombUnsigned(br); err != nil {
			return false
		}
	case 1:
		if _, err := readFlag(br); err != nil {
			return false
		}
		if _, err := readGolombSigned(br); err != nil {
			return false
		}
		if _, err := readGolombSigned(br); err != nil {
			return false
		}
		numRefFrames, err := readGolombUnsigned(br)
		if err != nil {
			return false
		}
		for i := uint32(0); i < numRefFrames; i++ {
			if _, err := readGolombSigned(br); err != nil {
				return false
			}
		}
	}

	if _, err := readGolombUnsigned(br); err != nil { // max_num_ref_frames
		return false
	}
	if _, err := readFlag(br); err != nil { // gaps_in_frame_num_value_allowed_flag
		return false
	}
	if _, err := readGolombUnsigned(br); err != nil { // pic_width_in_mbs_minus1
		return false
	}
	if _, err := readGolombUnsigned(br); err != nil { // pic_height_in_map_units_minus1
		return false
	}

	frameMbsOnly, err := readFlag(br)
	if err != nil {
		return false
	}
	if !frameMbsOnly {
		if _, err := readFlag(br); err != nil { // mb_adaptive_frame_field_flag
			return false
		}
	}
	if _, err := readFlag(br); err != nil { // direct_8x8_inference_flag
		return false
	}

	cropping, err := readFlag(br)
	if err != nil {
		return false
	}
	if cropping {
		for i := 0; i < 4; i++ {
			if _, err := readGolombUnsigned(br); err != nil {
				return false
			}
		}
	}
	return true
}

// readVUITiming walks the VUI up to the timing info.
func readVUITiming(br *bitio.Reader) (float64, bool) {
	aspectPresent, err := readFlag(br)
	if err != nil {
		return 0, false
	}
	if aspectPresent {
		idc, err := br.ReadBits(8)
		if err != nil {
			return 0, false
		}
		if idc == 255 { // Extended_SAR
			if _, err := br.ReadBits(32); err != nil {
				return 0, false
			}
		}
	}

	overscanPresent, err := readFlag(br)
	if err != nil {
		return 0, false
	}
	if overscanPresent {
		if _, err := readFlag(br); err != nil {
			return 0, false
		}
	}

	signalPresent, err := readFlag(br)
	if err != nil {
		return 0, false
	}
	if signalPresent {
		if _, err := br.ReadBits(4); err != nil { // video_format + full_range
			return 0, false
		}
		colourPresent, err := readFlag(br)
		if err != nil {
			return 0, false
		}
		if colourPresent {
			if _, err := br.ReadBits(24); err != nil {
				return 0, false
			}
		}
	}

	chromaLocPresent, err := readFlag(br)
	if err != nil {
		return 0, false
	}
	if chromaLocPresent {
		if _, err := readGolombUnsigned(br); err != nil {
			return 0, false
		}
		if _, err := readGolombUnsigned(br); err != nil {
			return 0, false
		}
	}

	timingPresent, err := readFlag(br)
	if err != nil || !timingPresent {
		return 0, false
	}

	numUnitsInTick, err := br.ReadBits(32)
	if err != nil || numUnitsInTick == 0 {
		return 0, false
	}
	timeScale, err := br.ReadBits(32)
	if err != nil || timeScale == 0 {
		return 0, false
	}

	// A tick is half a frame interval.
	return float64(timeScale) / (2 * float64(numUnitsInTick)), true
}

func readGolombUnsigned(br *bitio.Reader) (uint32, error) {
	leadingZeroBits := uint32(0)

	for {
		b, err := br.ReadBits(1)
		if err != nil {
			return 0, err
		}
		if b != 0 {
			break
		}
		leadingZeroBits++
	}

	codeNum := uint32(0)
	for n := leadingZeroBits; n > 0; n-- {
		b, err := br.ReadBits(1)
		if err != nil {
			return 0, err
		}
		codeNum |= uint32(b) << (n - 1)
	}

	return (1 << leadingZeroBits) - 1 + codeNum, nil
}

func readGolombSigned(br *bitio.Reader) (int32, error) {
	v, err := readGolombUnsigned(br)
	if err != nil {
		return 0, err
	}
	vi := int32(v)
	if (vi & 0x01) != 0 {
		return (vi + 1) / 2, nil
	}
	return -vi / 2, nil
}

func readFlag(br *bitio.Reader) (bool, error) {
	tmp, err := br.ReadBits(1)
	if err != nil {
		return false, err
	}
	return tmp == 1, nil
}
