package timeline

import (
	"fmt"

	"github.com/voltlab/banksia/internal/store"
)

// Pow10ToWatts scales a raw value by 10^pow10 and truncates toward zero.
// (123, -1) is 12; (129, -1) is 12; (123, 2) is 12300.
func Pow10ToWatts(value, pow10 int64) int64 {
	switch {
	case pow10 > 0:
		for ; pow10 > 0; pow10-- {
			value *= 10
		}
		return value
	case pow10 < 0:
		// Go integer division truncates toward zero, which is exactly the
		// semantics wanted for both signs.
		for ; pow10 < 0; pow10++ {
			value /= 10
		}
		return value
	default:
		return value
	}
}

// DecimalToWatts truncates a decimal watt quantity toward zero. nil passes
// through.
func DecimalToWatts(value *float64) *int64 {
	if value == nil {
		return nil
	}
	w := int64(*value)
	return &w
}

// ReadingToWatts scales a raw reading by its type's power-of-ten
// multiplier. The type list must contain the reading's type.
func ReadingToWatts(types []store.ReadingType, reading store.Reading) (int64, error) {
	for _, rt := range types {
		if rt.ID == reading.ReadingTypeID {
			return Pow10ToWatts(reading.Value, rt.PowerOfTenMultiplier), nil
		}
	}
	return 0, fmt.Errorf("reading %d references unknown reading type %d",
		reading.ID, reading.ReadingTypeID)
}
