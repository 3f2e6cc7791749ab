package codec

import (
	"fmt"
	"strconv"
)

// Uint64 is a uint64 that encodes as a decimal JSON string. Canonical JSON
// renders numbers as IEEE doubles, so amounts and ids never travel as JSON
// numbers. Scalar fields use the ",string" tag option; slices use Uint64.
type Uint64 uint64

func (u Uint64) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(u), 10)), nil
}

func (u *Uint64) UnmarshalText(b []byte) error {
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("codec: invalid uint64 %q: %w", b, err)
	}
	*u = Uint64(n)
	return nil
}
