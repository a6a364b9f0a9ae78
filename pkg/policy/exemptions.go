package policy

import (
	"github.com/derekparker/trie"
)

// Exemption describes compiler or runtime synthesized symbols that may
// legitimately appear without a source location. A demangled name matches
// if it starts with Name, or with any of Prefixes immediately followed by
// Name.
type Exemption struct {
	Name     string
	Prefixes []string
}

// DefaultExemptions are the well known artifacts of GCC's libstdc++ and
// of Qt's metatype machinery.
var DefaultExemptions = []Exemption{
	{Name: "std::", Prefixes: []string{"vtable for ", "typeinfo for ", "typeinfo name for "}},
	{Name: "QMetaType::registerMutableView<", Prefixes: []string{"typeinfo for ", "typeinfo name for "}},
	{Name: "QMetaType::registerMutableViewImpl<", Prefixes: []string{"guard variable for "}},
	{Name: "QMetaType::registerConverter<", Prefixes: []string{"typeinfo for ", "typeinfo name for "}},
	{Name: "QMetaType::registerConverterImpl<", Prefixes: []string{"guard variable for "}},
	{Name: "typeinfo for QSharedData"},
	{Name: "typeinfo name for QSharedData"},
	{Name: "QtPrivate::QMetaTypeForType<"},
	{Name: "QtPrivate::QMetaTypeInterfaceWrapper<"},
	{Name: "QMetaSequence::MetaSequence<"},
	{Name: "QtPrivate::QSequentialIterableMutableViewFunctor<"},
	{Name: "QtPrivate::QSequentialIterableConvertFunctor<"},
}

// Exemptions is a compiled exemption table.
type Exemptions struct {
	entries []Exemption
	t       *trie.Trie
}

// NewExemptions compiles entries into a prefix trie.
func NewExemptions(entries []Exemption) *Exemptions {
	x := &Exemptions{entries: entries, t: trie.New()}
	for _, e := range entries {
		if e.Name != "" {
			x.t.Add(e.Name, e)
		}
		for _, p := range e.Prefixes {
			x.t.Add(p+e.Name, e)
		}
	}
	return x
}

// Entries returns the table NewExemptions was called with.
func (x *Exemptions) Entries() []Exemption {
	return x.entries
}

// Match returns the entry matching the shortest prefix of demangled.
func (x *Exemptions) Match(demangled string) (Exemption, bool) {
	if x == nil {
		return Exemption{}, false
	}
	node := x.t.Root()
	for _, r := range demangled {
		if e, ok := terminal(node); ok {
			return e, true
		}
		child, ok := node.Children()[r]
		if !ok {
			return Exemption{}, false
		}
		node = child
	}
	return terminal(node)
}

// terminal returns the exemption of the key ending at n, if any.
func terminal(n *trie.Node) (Exemption, bool) {
	end, ok := n.Children()[0]
	if !ok || !end.Terminating() {
		return Exemption{}, false
	}
	e, ok := end.Meta().(Exemption)
	return e, ok
}
