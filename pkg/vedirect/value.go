package vedirect

import (
	"math"
)

func validWidth(width int) bool {
	return width == 1 || width == 2 || width == 4
}

// DecodeValue reads raw as a little-endian unsigned integer and applies scale.
func DecodeValue(raw []byte, scale float64) (float64, error) {
	if !validWidth(len(raw)) {
		return 0, &InvalidLengthError{Length: len(raw)}
	}
	var n uint32
	for i := len(raw) - 1; i >= 0; i-- {
		n = n<<8 | uint32(raw[i])
	}
	return float64(n) * scale, nil
}

// EncodeValue converts an engineering value to a little-endian raw value of
// width bytes. Values that do not fit are rejected, never clamped.
func EncodeValue(value float64, scale float64, width int) ([]byte, error) {
	if !validWidth(width) {
		return nil, &InvalidLengthError{Length: width}
	}
	maxRaw := float64(uint64(1)<<(8*width) - 1)
	if math.IsNaN(value) || math.IsInf(value, 0) || scale <= 0 {
		return nil, &OutOfRangeError{Value: value, Min: 0, Max: maxRaw * scale}
	}
	raw := math.Round(value / scale)
	if raw < 0 || raw > maxRaw {
		return nil, &OutOfRangeError{Value: value, Min: 0, Max: maxRaw * scale}
	}
	n := uint32(raw)
	out := make([]byte, width)
	for i := range out {
		out[i] = byte(n >> (8 * i))
	}
	return out, nil
}
