package vedirect

import "math"

// Register describes how a device register is encoded.
type Register struct {
	Address RegisterAddress
	Name    string
	Width   int
	Scale   float64
	Unit    string
}

// ChargeCurrentLimit is the volatile charge current limit (un16, 0.1 A).
// It is meant for frequent writes, unlike the flash backed 0xEDF0.
var ChargeCurrentLimit = Register{
	Address: 0x2015,
	Name:    "charge_current_limit",
	Width:   2,
	Scale:   0.1,
	Unit:    "A",
}

func (r Register) Decode(raw []byte) (float64, error) {
	if len(raw) != r.Width {
		return 0, &InvalidLengthError{Length: len(raw)}
	}
	return DecodeValue(raw, r.Scale)
}

func (r Register) Encode(value float64) ([]byte, error) {
	return EncodeValue(value, r.Scale, r.Width)
}

// MaxValue is the largest value representable by the register.
func (r Register) MaxValue() float64 {
	return float64(uint64(1)<<(8*r.Width)-1) * r.Scale
}

// Decimals returns the number of decimals needed to print a value at the
// register resolution.
func (r Register) Decimals() uint {
	if r.Scale >= 1 || r.Scale <= 0 {
		return 0
	}
	return uint(math.Ceil(-math.Log10(r.Scale) - 1e-9))
}
