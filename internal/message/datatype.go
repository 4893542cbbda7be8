package message

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// DatatypeClass represents the class of an HDF5 datatype.
type DatatypeClass uint8

const (
	ClassFixedPoint DatatypeClass = 0  // Integers
	ClassFloatPoint DatatypeClass = 1  // Floating-point
	ClassTime       DatatypeClass = 2  // Time
	ClassString     DatatypeClass = 3  // Fixed-length strings
	ClassBitfield   DatatypeClass = 4  // Bitfields
	ClassOpaque     DatatypeClass = 5  // Opaque data
	ClassCompound   DatatypeClass = 6  // Compound types (structs)
	ClassReference  DatatypeClass = 7  // References to objects/regions
	ClassEnum       DatatypeClass = 8  // Enumerated types
	ClassVarLen     DatatypeClass = 9  // Variable-length data
	ClassArray      DatatypeClass = 10 // Fixed-size arrays
)

// ByteOrder represents the byte order of numeric types.
type ByteOrder uint8

const (
	OrderLE   ByteOrder = 0
	OrderBE   ByteOrder = 1
	OrderVAX  ByteOrder = 2
	OrderNone ByteOrder = 3
)

// StringPadding represents how strings are padded.
type StringPadding uint8

const (
	PadNullTerm StringPadding = 0
	PadNullPad  StringPadding = 1
	PadSpacePad StringPadding = 2
)

// CharacterSet represents the character encoding.
type CharacterSet uint8

const (
	CharsetASCII CharacterSet = 0
	CharsetUTF8  CharacterSet = 1
)

// Datatype is a decoded datatype message. Class selects which of the
// class-specific fields are meaningful.
type Datatype struct {
	Class     DatatypeClass
	Version   uint8
	ClassBits uint32
	Size      uint32
	ByteOrder ByteOrder

	// Fixed point, bitfield, float and time.
	BitOffset    uint16
	BitPrecision uint16
	Signed       bool

	// Float.
	SignLocation uint8
	ExpLocation  uint8
	ExpSize      uint8
	MantLocation uint8
	MantSize     uint8
	ExpBias      uint32

	// Fixed-length and variable-length strings.
	StringPadding StringPadding
	CharSet       CharacterSet

	Members []CompoundMember

	// Array dimensions; BaseType is the element type of arrays, enums
	// and variable-length sequences.
	ArrayDims []uint32
	BaseType  *Datatype

	IsVarLenString bool

	EnumNames  []string
	EnumValues [][]byte

	ReferenceKind uint8
	OpaqueTag     string
}

// CompoundMember represents a member of a compound datatype.
type CompoundMember struct {
	Name       string
	ByteOffset uint32
	Type       *Datatype
}

func (m *Datatype) Type() Type { return TypeDatatype }

// IsInteger returns true if this is an integer type.
func (m *Datatype) IsInteger() bool {
	return m.Class == ClassFixedPoint
}

// IsFloat returns true if this is a floating-point type.
func (m *Datatype) IsFloat() bool {
	return m.Class == ClassFloatPoint
}

// IsString returns true if this is a string type (fixed or variable-length).
func (m *Datatype) IsString() bool {
	return m.Class == ClassString || (m.Class == ClassVarLen && m.IsVarLenString)
}

// IsVarLen returns true if this is a variable-length type.
func (m *Datatype) IsVarLen() bool {
	return m.Class == ClassVarLen
}

// HasVarLen reports whether any part of the type is variable-length.
func (m *Datatype) HasVarLen() bool {
	switch m.Class {
	case ClassVarLen:
		return true
	case ClassArray:
		return m.BaseType != nil && m.BaseType.HasVarLen()
	case ClassCompound:
		for _, mem := range m.Members {
			if mem.Type.HasVarLen() {
				return true
			}
		}
	}
	return false
}

func parseDatatype(c *binpkg.Reader) (*Datatype, error) {
	hdr, err := c.ReadBytes(8)
	if err != nil {
		return nil, err
	}
	dt := &Datatype{
		Class:     DatatypeClass(hdr[0] & 0x0F),
		Version:   hdr[0] >> 4,
		ClassBits: uint32(hdr[1]) | uint32(hdr[2])<<8 | uint32(hdr[3])<<16,
		Size:      uint32(hdr[4]) | uint32(hdr[5])<<8 | uint32(hdr[6])<<16 | uint32(hdr[7])<<24,
		ByteOrder: OrderNone,
	}
	if dt.Version < 1 || dt.Version > 5 {
		return nil, fmt.Errorf("datatype version %d: %w", dt.Version, h5err.ErrUnsupportedVersion)
	}
	bits := dt.ClassBits

	switch dt.Class {
	case ClassFixedPoint, ClassBitfield:
		dt.ByteOrder = ByteOrder(bits & 0x01)
		dt.Signed = dt.Class == ClassFixedPoint && bits&0x08 != 0
		err = readBitField(c, dt)

	case ClassTime:
		dt.ByteOrder = ByteOrder(bits & 0x01)
		dt.BitPrecision, err = c.ReadUint16()

	case ClassFloatPoint:
		dt.ByteOrder = ByteOrder(bits & 0x01)
		if bits&0x40 != 0 {
			dt.ByteOrder = OrderVAX
		}
		dt.SignLocation = uint8(bits >> 8)
		dt.Signed = true
		err = readFloatProps(c, dt)

	case ClassString:
		dt.StringPadding = StringPadding(bits & 0x0F)
		dt.CharSet = CharacterSet((bits >> 4) & 0x0F)

	case ClassOpaque:
		dt.OpaqueTag, err = readCString(c, int(bits&0xFF))

	case ClassReference:
		dt.ReferenceKind = uint8(bits & 0x0F)

	case ClassCompound:
		err = readCompound(c, dt)

	case ClassEnum:
		err = readEnum(c, dt)

	case ClassVarLen:
		dt.IsVarLenString = bits&0x0F == 1
		dt.StringPadding = StringPadding((bits >> 4) & 0x0F)
		dt.CharSet = CharacterSet((bits >> 8) & 0x0F)
		dt.BaseType, err = parseDatatype(c)

	case ClassArray:
		err = readArray(c, dt)

	default:
		return nil, corrupt("datatype class %d", dt.Class)
	}
	if err != nil {
		return nil, err
	}
	return dt, nil
}

func readBitField(c *binpkg.Reader, dt *Datatype) error {
	var err error
	if dt.BitOffset, err = c.ReadUint16(); err != nil {
		return err
	}
	dt.BitPrecision, err = c.ReadUint16()
	return err
}

func readFloatProps(c *binpkg.Reader, dt *Datatype) error {
	if err := readBitField(c, dt); err != nil {
		return err
	}
	b, err := c.ReadBytes(4)
	if err != nil {
		return err
	}
	dt.ExpLocation, dt.ExpSize, dt.MantLocation, dt.MantSize = b[0], b[1], b[2], b[3]
	dt.ExpBias, err = c.ReadUint32()
	return err
}

func readCompound(c *binpkg.Reader, dt *Datatype) error {
	n := int(dt.ClassBits & 0xFFFF)
	dt.Members = make([]CompoundMember, 0, n)
	for i := 0; i < n; i++ {
		var mem CompoundMember
		start := c.Pos()
		name, err := readNulTerminated(c)
		if err != nil {
			return err
		}
		mem.Name = name
		if dt.Version < 3 {
			c.Align(start, 8)
		}

		switch {
		case dt.Version >= 3:
			off, err := c.ReadUintN(memberOffsetSize(dt.Size))
			if err != nil {
				return err
			}
			mem.ByteOffset = uint32(off)
		default:
			if mem.ByteOffset, err = c.ReadUint32(); err != nil {
				return err
			}
		}
		if dt.Version == 1 {
			// Dimensionality, reserved, permutation, reserved, four
			// dimension sizes; superseded by array member types.
			c.Skip(1 + 3 + 4 + 4 + 16)
		}

		if mem.Type, err = parseDatatype(c); err != nil {
			return fmt.Errorf("compound member %q: %w", name, err)
		}
		if uint64(mem.ByteOffset)+uint64(mem.Type.Size) > uint64(dt.Size) {
			return corrupt("compound member %q at %d overruns size %d", name, mem.ByteOffset, dt.Size)
		}
		dt.Members = append(dt.Members, mem)
	}
	return nil
}

// memberOffsetSize is the width of a v3 compound member offset.
func memberOffsetSize(size uint32) int {
	switch {
	case size < 1<<8:
		return 1
	case size < 1<<16:
		return 2
	case size < 1<<24:
		return 3
	}
	return 4
}

func readEnum(c *binpkg.Reader, dt *Datatype) error {
	base, err := parseDatatype(c)
	if err != nil {
		return err
	}
	dt.BaseType = base
	dt.ByteOrder = base.ByteOrder
	dt.Signed = base.Signed
	n := int(dt.ClassBits & 0xFFFF)
	dt.EnumNames = make([]string, n)
	for i := range dt.EnumNames {
		start := c.Pos()
		if dt.EnumNames[i], err = readNulTerminated(c); err != nil {
			return err
		}
		if dt.Version < 3 {
			c.Align(start, 8)
		}
	}
	dt.EnumValues = make([][]byte, n)
	for i := range dt.EnumValues {
		if dt.EnumValues[i], err = c.ReadBytes(int(base.Size)); err != nil {
			return err
		}
	}
	return nil
}

func readArray(c *binpkg.Reader, dt *Datatype) error {
	rank, err := c.ReadUint8()
	if err != nil {
		return err
	}
	if dt.Version < 3 {
		c.Skip(3)
	}
	dt.ArrayDims = make([]uint32, rank)
	for i := range dt.ArrayDims {
		if dt.ArrayDims[i], err = c.ReadUint32(); err != nil {
			return err
		}
	}
	if dt.Version < 3 {
		c.Skip(4 * int64(rank)) // permutation indices
	}
	if dt.BaseType, err = parseDatatype(c); err != nil {
		return err
	}
	n := uint64(1)
	for _, d := range dt.ArrayDims {
		n *= uint64(d)
	}
	if n*uint64(dt.BaseType.Size) != uint64(dt.Size) {
		return corrupt("array of %d x %d bytes declared size %d", n, dt.BaseType.Size, dt.Size)
	}
	return nil
}
