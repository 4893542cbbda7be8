package hdf5

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/btree"
	"github.com/robert-malhotra/h5coro/internal/heap"
	"github.com/robert-malhotra/h5coro/internal/message"
	"github.com/robert-malhotra/h5coro/internal/metrics"
	"github.com/robert-malhotra/h5coro/internal/object"
)

// ReadAttribute returns the whole value of the attribute name attached to
// the object at objPath.
func (f *File) ReadAttribute(ctx context.Context, objPath, name string) (*Array, Meta, error) {
	start := time.Now()
	arr, meta, err := f.readAttributeCtx(ctx, objPath, name)
	n := 0
	if arr != nil {
		n = arr.Size()
	}
	metrics.ObserveRead("attribute", time.Since(start), n, err)
	if err != nil {
		return nil, Meta{}, err
	}
	return arr, meta, nil
}

func (f *File) readAttributeCtx(ctx context.Context, objPath, name string) (*Array, Meta, error) {
	if err := f.check(); err != nil {
		return nil, Meta{}, err
	}
	return f.readAttribute(f.reader(ctx), CleanPath(objPath), name)
}

// Attributes lists the attribute names of the object at path.
func (f *File) Attributes(ctx context.Context, path string) ([]string, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	r := f.reader(ctx)
	n, err := f.resolve(r, path)
	if err != nil {
		return nil, err
	}
	var names []string
	err = f.attributes(r, n, "", func(a *message.Attribute) bool {
		names = append(names, a.Name)
		return true
	})
	return names, err
}

func (f *File) readAttribute(r *binary.Reader, objPath, name string) (*Array, Meta, error) {
	a, err := f.attribute(r, objPath, name)
	if err != nil {
		return nil, Meta{}, err
	}
	where := JoinAttrPath(objPath, name)
	if a.Datatype == nil {
		return nil, Meta{}, fmt.Errorf("%s: no datatype: %w", where, ErrCorruptMetadata)
	}
	meta := metaFor(a.Dataspace, a.Datatype)
	var shape []uint64
	if a.Dataspace != nil && !a.Dataspace.IsScalar() {
		shape = append(shape, a.Dataspace.Dimensions...)
	}
	if meta.DataSize > uint64(len(a.Data)) {
		return nil, Meta{}, fmt.Errorf("%s: %d bytes of value for %d elements: %w",
			where, len(a.Data), meta.Elements, ErrCorruptMetadata)
	}
	// Header messages are shared between calls; decode a copy.
	raw := append([]byte(nil), a.Data[:meta.DataSize]...)
	arr, err := decode(r, a.Datatype, shape, raw)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("%s: %w", where, err)
	}
	return arr, meta, nil
}

// attribute finds one attribute of the object at objPath.
func (f *File) attribute(r *binary.Reader, objPath, name string) (*message.Attribute, error) {
	n, err := f.resolve(r, objPath)
	if err != nil {
		return nil, err
	}
	var found *message.Attribute
	err = f.attributes(r, n, name, func(a *message.Attribute) bool {
		if a.Name == name {
			found = a
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%s: %w", JoinAttrPath(objPath, name), ErrPathNotFound)
	}
	return found, nil
}

// attributes visits the attributes of n until fn returns false: those in
// the header first, then those in the dense attribute heap. A non-empty
// name skips dense records whose name hash differs from it.
func (f *File) attributes(r *binary.Reader, n *node, name string, fn func(*message.Attribute) bool) error {
	for _, a := range n.header.Attributes() {
		if !fn(a) {
			return nil
		}
	}
	ai := n.header.AttributeInfo()
	if ai == nil || r.IsUndefinedOffset(ai.FractalHeapAddress) {
		return nil
	}
	var hash uint32
	if name != "" {
		hash = binary.Lookup3Checksum([]byte(name))
	}
	if err := f.denseAttributes(r, ai, hash, fn); err != nil {
		return fmt.Errorf("%s attributes: %w", n.path, err)
	}
	return nil
}

func (f *File) denseAttributes(r *binary.Reader, ai *message.AttributeInfo, hash uint32, fn func(*message.Attribute) bool) error {
	fh, err := heap.ReadFractal(r, ai.FractalHeapAddress)
	if err != nil {
		return fmt.Errorf("attribute heap: %w", err)
	}
	tree, err := btree.ReadV2(r, ai.NameIndexAddress)
	if err != nil {
		return fmt.Errorf("attribute name index: %w", err)
	}
	if tree.Type != btreeAttributeName {
		return fmt.Errorf("attribute name index of type %d: %w", tree.Type, ErrCorruptMetadata)
	}
	err = tree.Records(func(rec []byte) error {
		nr, err := btree.ParseAttributeName(rec)
		if err != nil {
			return err
		}
		if hash != 0 && nr.Hash != hash {
			return nil
		}
		obj, err := fh.Get(nr.HeapID)
		if err != nil {
			return err
		}
		a, err := message.ParseAttribute(obj, r.Config())
		if err != nil {
			return err
		}
		if a.SharedDatatype != nil && a.Datatype == nil && !a.SharedDatatype.InHeap() {
			committed, err := object.Read(r, a.SharedDatatype.Address)
			if err != nil {
				return fmt.Errorf("attribute %q datatype: %w", a.Name, err)
			}
			a.Datatype = committed.Datatype()
		}
		if !fn(a) {
			return errStopVisit
		}
		return nil
	})
	if errors.Is(err, errStopVisit) {
		return nil
	}
	return err
}
