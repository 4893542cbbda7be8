package dtype

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/robert-malhotra/h5coro/internal/message"
)

// The functions below read host-order element bytes, as produced by
// ToHost.

var host = binary.NativeEndian

// Int64 returns element i of integer or enum data as an int64.
func Int64(dt *message.Datatype, data []byte, i int) (int64, bool) {
	if dt.Class == message.ClassEnum && dt.BaseType != nil {
		return Int64(dt.BaseType, data, i)
	}
	if dt.Class != message.ClassFixedPoint {
		return 0, false
	}
	size := int(dt.Size)
	b := data[i*size : (i+1)*size]
	switch size {
	case 1:
		if dt.Signed {
			return int64(int8(b[0])), true
		}
		return int64(b[0]), true
	case 2:
		if dt.Signed {
			return int64(int16(host.Uint16(b))), true
		}
		return int64(host.Uint16(b)), true
	case 4:
		if dt.Signed {
			return int64(int32(host.Uint32(b))), true
		}
		return int64(host.Uint32(b)), true
	case 8:
		return int64(host.Uint64(b)), true
	}
	return 0, false
}

// Uint64 returns element i of integer data as a uint64.
func Uint64(dt *message.Datatype, data []byte, i int) (uint64, bool) {
	if dt.Class == message.ClassFixedPoint && !dt.Signed && dt.Size == 8 {
		return host.Uint64(data[8*i:]), true
	}
	v, ok := Int64(dt, data, i)
	return uint64(v), ok
}

// Float64 returns element i of numeric data as a float64.
func Float64(dt *message.Datatype, data []byte, i int) (float64, bool) {
	switch dt.Class {
	case message.ClassFloatPoint:
		switch dt.Size {
		case 4:
			return float64(math.Float32frombits(host.Uint32(data[4*i:]))), true
		case 8:
			return math.Float64frombits(host.Uint64(data[8*i:])), true
		}
		return 0, false
	case message.ClassFixedPoint:
		if !dt.Signed && dt.Size == 8 {
			return float64(host.Uint64(data[8*i:])), true
		}
		v, ok := Int64(dt, data, i)
		return float64(v), ok
	}
	return 0, false
}

// String returns element i of fixed-length string data. The stored bytes,
// including padding, are returned unchanged.
func String(dt *message.Datatype, data []byte, i int) (string, bool) {
	if dt.Class != message.ClassString {
		return "", false
	}
	size := int(dt.Size)
	return string(data[i*size : (i+1)*size]), true
}

// TrimString strips the padding a fixed-length string type declares.
func TrimString(dt *message.Datatype, s string) string {
	switch dt.StringPadding {
	case message.PadNullTerm, message.PadNullPad:
		if i := strings.IndexByte(s, 0); i >= 0 {
			return s[:i]
		}
	case message.PadSpacePad:
		end := len(s)
		for end > 0 && (s[end-1] == ' ' || s[end-1] == 0) {
			end--
		}
		return s[:end]
	}
	return s
}

// Value returns element i as a Go value: int64 or uint64 for integers,
// float32 or float64 for floats, string for strings, the enum name for
// enums, and the raw element bytes for everything else.
func Value(dt *message.Datatype, data []byte, i int) any {
	switch dt.Class {
	case message.ClassFixedPoint:
		if !dt.Signed {
			v, _ := Uint64(dt, data, i)
			return v
		}
		v, _ := Int64(dt, data, i)
		return v
	case message.ClassFloatPoint:
		if dt.Size == 4 {
			return math.Float32frombits(host.Uint32(data[4*i:]))
		}
		v, _ := Float64(dt, data, i)
		return v
	case message.ClassString:
		s, _ := String(dt, data, i)
		return TrimString(dt, s)
	case message.ClassEnum:
		if name, ok := EnumName(dt, data, i); ok {
			return name
		}
	}
	size := int(dt.Size)
	return append([]byte(nil), data[i*size:(i+1)*size]...)
}

// EnumName returns the member name of enum element i.
func EnumName(dt *message.Datatype, data []byte, i int) (string, bool) {
	size := int(dt.Size)
	b := data[i*size : (i+1)*size]
	for j, v := range dt.EnumValues {
		if bytes.Equal(v, b) && j < len(dt.EnumNames) {
			return dt.EnumNames[j], true
		}
	}
	return "", false
}

// Member returns the compound member called name.
func Member(dt *message.Datatype, name string) (message.CompoundMember, error) {
	for _, m := range dt.Members {
		if m.Name == name {
			return m, nil
		}
	}
	return message.CompoundMember{}, fmt.Errorf("compound has no member %q", name)
}
