package hdf5

import (
	"errors"
	"fmt"
	"path"

	"github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/btree"
	"github.com/robert-malhotra/h5coro/internal/heap"
	"github.com/robert-malhotra/h5coro/internal/message"
	"github.com/robert-malhotra/h5coro/internal/object"
)

// link is one named member of a group.
type link struct {
	name string
	kind linkKind
	addr uint64
	// target is the path of a soft link or the file:path of an external
	// link.
	target string
}

type linkKind uint8

const (
	linkHard linkKind = iota
	linkSoft
	linkExternal
)

// Version 2 B-tree record types of dense group and attribute indexes.
const (
	btreeLinkName      = 5
	btreeAttributeName = 8
)

var errStopVisit = errors.New("stop visiting records")

// resolve returns the object at the absolute path p, following soft links.
func (f *File) resolve(r *binary.Reader, p string) (*node, error) {
	return f.resolveDepth(r, CleanPath(p), 0)
}

func (f *File) resolveDepth(r *binary.Reader, p string, depth int) (*node, error) {
	if n, ok := f.nodes.Load(p); ok {
		return n.(*node), nil
	}
	parts := SplitPath(p)
	cur, _ := f.nodes.Load("/")
	parent := cur.(*node)
	for i, name := range parts {
		childPath := "/" + path.Join(parts[:i+1]...)
		if n, ok := f.nodes.Load(childPath); ok {
			parent = n.(*node)
			continue
		}
		l, err := f.findLink(r, parent, name)
		if err != nil {
			return nil, err
		}

		var child *node
		switch l.kind {
		case linkHard:
			hdr, err := object.Read(r, l.addr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", childPath, err)
			}
			child = &node{path: childPath, addr: l.addr, header: hdr}
		case linkSoft:
			if depth >= MaxLinkDepth {
				return nil, fmt.Errorf("%s: more than %d soft links: %w", childPath, MaxLinkDepth, ErrPathNotFound)
			}
			target := l.target
			if !path.IsAbs(target) {
				target = path.Join(parent.path, target)
			}
			n, err := f.resolveDepth(r, CleanPath(target), depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s -> %s: %w", childPath, target, err)
			}
			child = &node{path: childPath, addr: n.addr, header: n.header}
		case linkExternal:
			return nil, fmt.Errorf("%s: external link to %s not followed: %w", childPath, l.target, ErrPathNotFound)
		}
		actual, _ := f.nodes.LoadOrStore(childPath, child)
		parent = actual.(*node)
	}
	return parent, nil
}

// findLink looks up one member of the group n.
func (f *File) findLink(r *binary.Reader, n *node, name string) (link, error) {
	h := n.header
	for _, l := range h.Links() {
		if l.Name == name {
			return fromMessage(l), nil
		}
	}
	if li := h.LinkInfo(); li != nil && !r.IsUndefinedOffset(li.FractalHeapAddress) {
		var found *link
		err := f.denseLinks(r, li, binary.Lookup3Checksum([]byte(name)), func(l link) bool {
			if l.name == name {
				found = &l
				return false
			}
			return true
		})
		if err != nil {
			return link{}, fmt.Errorf("%s: %w", n.path, err)
		}
		if found != nil {
			return *found, nil
		}
	}
	if st := f.symbolTable(n); st != nil {
		entries, err := readSymbolTable(r, st)
		if err != nil {
			return link{}, fmt.Errorf("%s: %w", n.path, err)
		}
		for _, e := range entries {
			if e.Name == name {
				return fromEntry(e), nil
			}
		}
	}
	return link{}, fmt.Errorf("%s: %w", path.Join(n.path, name), ErrPathNotFound)
}

// links lists every member of the group n in storage order.
func (f *File) links(r *binary.Reader, n *node) ([]link, error) {
	h := n.header
	var out []link
	for _, l := range h.Links() {
		out = append(out, fromMessage(l))
	}
	if li := h.LinkInfo(); li != nil && !r.IsUndefinedOffset(li.FractalHeapAddress) {
		err := f.denseLinks(r, li, 0, func(l link) bool {
			out = append(out, l)
			return true
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.path, err)
		}
	}
	if st := f.symbolTable(n); st != nil {
		entries, err := readSymbolTable(r, st)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.path, err)
		}
		for _, e := range entries {
			out = append(out, fromEntry(e))
		}
	}
	return out, nil
}

// denseLinks visits the links stored in a group's fractal heap until fn
// returns false. A nonzero hash skips records whose name hash differs.
func (f *File) denseLinks(r *binary.Reader, li *message.LinkInfo, hash uint32, fn func(link) bool) error {
	fh, err := heap.ReadFractal(r, li.FractalHeapAddress)
	if err != nil {
		return fmt.Errorf("link heap: %w", err)
	}
	tree, err := btree.ReadV2(r, li.NameIndexAddress)
	if err != nil {
		return fmt.Errorf("link name index: %w", err)
	}
	if tree.Type != btreeLinkName {
		return fmt.Errorf("link name index of type %d: %w", tree.Type, ErrCorruptMetadata)
	}
	err = tree.Records(func(rec []byte) error {
		nr, err := btree.ParseLinkName(rec)
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
		msg, err := message.ParseLink(obj, r.Config())
		if err != nil {
			return err
		}
		if !fn(fromMessage(msg)) {
			return errStopVisit
		}
		return nil
	})
	if errors.Is(err, errStopVisit) {
		return nil
	}
	return err
}

// symbolTable returns the old-style group table of n. The root group may
// only be described by the superblock's cached entry.
func (f *File) symbolTable(n *node) *message.SymbolTable {
	if st := n.header.SymbolTable(); st != nil {
		return st
	}
	if n.path == "/" && f.sb.HasRootCache() && len(n.header.Links()) == 0 && n.header.LinkInfo() == nil {
		return &message.SymbolTable{
			BTreeAddress:     f.sb.RootGroupBTreeAddress,
			LocalHeapAddress: f.sb.RootGroupLocalHeapAddress,
		}
	}
	return nil
}

func readSymbolTable(r *binary.Reader, st *message.SymbolTable) ([]btree.GroupEntry, error) {
	names, err := heap.ReadLocal(r, st.LocalHeapAddress)
	if err != nil {
		return nil, fmt.Errorf("group name heap: %w", err)
	}
	return btree.ReadGroup(r, st.BTreeAddress, names)
}

func fromMessage(l *message.Link) link {
	switch {
	case l.IsSoft():
		return link{name: l.Name, kind: linkSoft, target: l.SoftLinkValue}
	case l.IsExternal():
		return link{name: l.Name, kind: linkExternal, target: l.ExternalFile + ":" + l.ExternalPath}
	}
	return link{name: l.Name, kind: linkHard, addr: l.ObjectAddress}
}

func fromEntry(e btree.GroupEntry) link {
	if e.IsSoft() {
		return link{name: e.Name, kind: linkSoft, target: e.SoftLinkValue}
	}
	return link{name: e.Name, kind: linkHard, addr: e.ObjectAddress}
}
