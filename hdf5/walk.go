package hdf5

import (
	"context"
	"errors"
	"path"

	"github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/message"
	"github.com/robert-malhotra/h5coro/internal/object"
)

// Object kinds reported by Walk.
const (
	KindGroup    = "group"
	KindDataset  = "dataset"
	KindDatatype = "datatype"
	KindSoftLink = "softlink"
	KindExternal = "external"
	KindUnknown  = "unknown"
)

// Object is one member of the hierarchy.
type Object struct {
	Path string `yaml:"path" json:"path"`
	Kind string `yaml:"kind" json:"kind"`
	// Meta is set for datasets.
	Meta *Meta `yaml:"meta,omitempty" json:"meta,omitempty"`
	// Attrs lists attribute names of groups and datasets.
	Attrs []string `yaml:"attrs,omitempty,flow" json:"attrs,omitempty"`
	// Target is the destination of a soft or external link.
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
}

// WalkFunc is called for each object during traversal. err is any error
// met decoding the object; obj.Path is always set. Return nil to continue,
// ErrStopWalk to stop without error, or any other error to abort.
type WalkFunc func(obj Object, err error) error

// ErrStopWalk can be returned from a WalkFunc or WalkAttrsFunc to stop
// walking without an error.
var ErrStopWalk = errors.New("walk stopped")

// Walk visits every object of the file, as WalkFrom(ctx, "/", fn).
func (f *File) Walk(ctx context.Context, fn WalkFunc) error {
	return f.WalkFrom(ctx, "/", fn)
}

// WalkFrom visits root and every object below it, parents before children.
// Soft and external links are reported but not followed, and a group
// reached twice through hard links is visited once.
//
// Example:
//
//	f.Walk(ctx, func(obj hdf5.Object, err error) error {
//	    if err != nil {
//	        return nil // skip
//	    }
//	    if obj.Kind == hdf5.KindDataset {
//	        fmt.Println(obj.Path, obj.Meta.NumRows)
//	    }
//	    return nil
//	})
func (f *File) WalkFrom(ctx context.Context, root string, fn WalkFunc) error {
	if err := f.check(); err != nil {
		return err
	}
	r := f.reader(ctx)
	n, err := f.resolve(r, root)
	if err != nil {
		return err
	}
	w := &walker{f: f, r: r, ctx: ctx, fn: fn, seen: map[uint64]bool{}}
	err = w.visit(n)
	if errors.Is(err, ErrStopWalk) {
		return nil
	}
	return err
}

type walker struct {
	f    *File
	r    *binary.Reader
	ctx  context.Context
	fn   WalkFunc
	seen map[uint64]bool
}

func (w *walker) visit(n *node) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	obj := Object{Path: n.path, Kind: kindName(n.header.Kind())}
	var attrErr error
	obj.Attrs, attrErr = w.attrNames(n)

	kind := n.header.Kind()
	if kind == object.KindDataset {
		d, err := newDataset(n)
		if err != nil {
			return w.fn(obj, err)
		}
		m := d.meta()
		obj.Meta = &m
	}
	if err := w.fn(obj, attrErr); err != nil {
		return err
	}
	if kind != object.KindGroup || w.seen[n.addr] {
		return nil
	}
	w.seen[n.addr] = true

	links, err := w.f.links(w.r, n)
	if err != nil {
		return w.fn(Object{Path: n.path, Kind: KindGroup}, err)
	}
	for _, l := range links {
		p := path.Join(n.path, l.name)
		switch l.kind {
		case linkSoft:
			if err := w.fn(Object{Path: p, Kind: KindSoftLink, Target: l.target}, nil); err != nil {
				return err
			}
			continue
		case linkExternal:
			if err := w.fn(Object{Path: p, Kind: KindExternal, Target: l.target}, nil); err != nil {
				return err
			}
			continue
		}
		child, err := w.f.child(w.r, p, l.addr)
		if err != nil {
			if err := w.fn(Object{Path: p, Kind: KindUnknown}, err); err != nil {
				return err
			}
			continue
		}
		if err := w.visit(child); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) attrNames(n *node) ([]string, error) {
	var names []string
	err := w.f.attributes(w.r, n, "", func(a *message.Attribute) bool {
		names = append(names, a.Name)
		return true
	})
	return names, err
}

// child returns the memoized node for p, reading its header at addr when
// it has not been resolved before.
func (f *File) child(r *binary.Reader, p string, addr uint64) (*node, error) {
	if n, ok := f.nodes.Load(p); ok {
		return n.(*node), nil
	}
	hdr, err := object.Read(r, addr)
	if err != nil {
		return nil, err
	}
	actual, _ := f.nodes.LoadOrStore(p, &node{path: p, addr: addr, header: hdr})
	return actual.(*node), nil
}

func kindName(k object.Kind) string {
	switch k {
	case object.KindGroup:
		return KindGroup
	case object.KindDataset:
		return KindDataset
	case object.KindDatatype:
		return KindDatatype
	}
	return KindUnknown
}

// AttrInfo describes one attribute during WalkAttrs.
type AttrInfo struct {
	// Path is the full attribute path, e.g. "/group/dataset/@units".
	Path string
	// ObjectPath is the path of the object holding the attribute.
	ObjectPath string
	// ObjectType is "group" or "dataset".
	ObjectType string
	Name       string
	// Value is the decoded attribute, nil when Err is set.
	Value *Array
	Meta  Meta
	Err   error
}

// WalkAttrsFunc is called for each attribute by WalkAttrs.
type WalkAttrsFunc func(info AttrInfo) error

// WalkAttrs visits every attribute of every group and dataset in the file.
func (f *File) WalkAttrs(ctx context.Context, fn WalkAttrsFunc) error {
	r := f.reader(ctx)
	return f.Walk(ctx, func(obj Object, err error) error {
		if err != nil || (obj.Kind != KindGroup && obj.Kind != KindDataset) {
			return nil
		}
		for _, name := range obj.Attrs {
			info := AttrInfo{
				Path:       JoinAttrPath(obj.Path, name),
				ObjectPath: obj.Path,
				ObjectType: obj.Kind,
				Name:       name,
			}
			info.Value, info.Meta, info.Err = f.readAttribute(r, obj.Path, name)
			if err := fn(info); err != nil {
				return err
			}
		}
		return nil
	})
}
