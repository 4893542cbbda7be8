// Package dtype interprets element bytes described by a datatype message:
// type names, conversion to host byte order, numeric and string views,
// and dereferencing of variable-length elements.
package dtype

import (
	"encoding/binary"
	"fmt"

	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/message"
)

// Type names reported in dataset metadata.
const (
	NameInt8      = "INT8"
	NameInt16     = "INT16"
	NameInt32     = "INT32"
	NameInt64     = "INT64"
	NameUint8     = "UINT8"
	NameUint16    = "UINT16"
	NameUint32    = "UINT32"
	NameUint64    = "UINT64"
	NameFloat     = "FLOAT"
	NameDouble    = "DOUBLE"
	NameString    = "STRING"
	NameCompound  = "COMPOUND"
	NameArray     = "ARRAY"
	NameVlen      = "VLEN"
	NameReference = "REFERENCE"
	NameEnum      = "ENUM"
	NameBitfield  = "BITFIELD"
	NameOpaque    = "OPAQUE"
	NameTime      = "TIME"
	NameUnknown   = "UNKNOWN"
)

// Name returns the metadata name of dt. Integers of unusual widths report
// the nearest standard name that holds them.
func Name(dt *message.Datatype) string {
	if dt == nil {
		return NameUnknown
	}
	switch dt.Class {
	case message.ClassFixedPoint:
		names := [...]string{NameUint8, NameUint16, NameUint32, NameUint64}
		if dt.Signed {
			names = [...]string{NameInt8, NameInt16, NameInt32, NameInt64}
		}
		switch {
		case dt.Size <= 1:
			return names[0]
		case dt.Size <= 2:
			return names[1]
		case dt.Size <= 4:
			return names[2]
		}
		return names[3]
	case message.ClassFloatPoint:
		if dt.Size == 4 {
			return NameFloat
		}
		return NameDouble
	case message.ClassString:
		return NameString
	case message.ClassVarLen:
		if dt.IsVarLenString {
			return NameString
		}
		return NameVlen
	case message.ClassCompound:
		return NameCompound
	case message.ClassArray:
		return NameArray
	case message.ClassReference:
		return NameReference
	case message.ClassEnum:
		return NameEnum
	case message.ClassBitfield:
		return NameBitfield
	case message.ClassOpaque:
		return NameOpaque
	case message.ClassTime:
		return NameTime
	}
	return NameUnknown
}

// ByteOrder returns the byte order of an atomic datatype.
func ByteOrder(dt *message.Datatype) binary.ByteOrder {
	if dt.ByteOrder == message.OrderBE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// IsNumeric reports whether dt is an integer or floating point type.
func IsNumeric(dt *message.Datatype) bool {
	return dt.Class == message.ClassFixedPoint || dt.Class == message.ClassFloatPoint
}

var hostBigEndian = binary.NativeEndian.Uint16([]byte{0, 1}) == 1

// needsSwap reports whether an atomic element of dt must be reversed to
// reach host order.
func needsSwap(dt *message.Datatype) bool {
	if dt.Size <= 1 {
		return false
	}
	switch dt.Class {
	case message.ClassFixedPoint, message.ClassFloatPoint, message.ClassTime:
		return (dt.ByteOrder == message.OrderBE) != hostBigEndian
	}
	return false
}

// ToHost converts numeric fields of the elements in data to host byte
// order in place, descending into compound members, arrays and enums.
// Strings, bitfields, opaque data, references and variable-length
// descriptors are left as stored.
func ToHost(dt *message.Datatype, data []byte) error {
	if dt.Size == 0 {
		return fmt.Errorf("zero-size datatype: %w", h5err.ErrCorruptMetadata)
	}
	if dt.ByteOrder == message.OrderVAX && IsNumeric(dt) {
		return fmt.Errorf("VAX byte order: %w", h5err.ErrUnsupportedVersion)
	}
	size := int(dt.Size)
	for off := 0; off+size <= len(data); off += size {
		if err := elementToHost(dt, data[off:off+size]); err != nil {
			return err
		}
	}
	return nil
}

func elementToHost(dt *message.Datatype, b []byte) error {
	switch dt.Class {
	case message.ClassCompound:
		for _, m := range dt.Members {
			end := int(m.ByteOffset) + int(m.Type.Size)
			if end > len(b) {
				return fmt.Errorf("compound member %q ends at %d past %d: %w", m.Name, end, len(b), h5err.ErrCorruptMetadata)
			}
			if err := ToHost(m.Type, b[m.ByteOffset:end]); err != nil {
				return err
			}
		}
	case message.ClassArray, message.ClassEnum:
		if dt.BaseType == nil {
			return fmt.Errorf("%s without base type: %w", Name(dt), h5err.ErrCorruptMetadata)
		}
		return ToHost(dt.BaseType, b)
	default:
		if needsSwap(dt) {
			for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
				b[i], b[j] = b[j], b[i]
			}
		}
	}
	return nil
}
