package codec

import (
	"fmt"
	"strconv"
)

// Int64 stores integers as decimal ASCII. This is the representation every
// backend uses for counters (it is what Redis INCR reads and writes), so
// values produced by Backend.Increment decode with this codec.
type Int64 struct{}

func (Int64) Encode(v int64) ([]byte, error) {
	return strconv.AppendInt(nil, v, 10), nil
}

func (Int64) Decode(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("codec: not an integer: %w", err)
	}
	return n, nil
}
