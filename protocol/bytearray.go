package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ByteArray marshals as a JSON array of integers 0-255 rather than Go's
// default base64 string encoding, trading compactness for legibility on
// the wire at the size this protocol operates at.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%d", v)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("protocol: byte array element %d out of range 0-255", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
