// Package elfsym reads the dynamic symbol table of an ELF object together
// with its GNU symbol versioning sections (.gnu.version, .gnu.version_d and
// .gnu.version_r).
package elfsym

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/tuiwidgets/abicheck/pkg/logflags"
)

const (
	// verNdxLocal and verNdxGlobal are the reserved version indexes meaning
	// "no version".
	verNdxLocal  = 0
	verNdxGlobal = 1

	verNdxHidden = 0x8000

	verFlgBase = 0x1

	// STB_GNU_UNIQUE shares its value with STB_LOOS.
	BindGNUUnique = elf.STB_LOOS
)

// FormatError is returned when the ELF object is malformed or uses a
// layout that is not supported.
type FormatError struct {
	Path string
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: unsupported or malformed ELF: %s", e.Path, e.Msg)
}

// SymbolRecord is one entry of the dynamic symbol table.
type SymbolRecord struct {
	// Index is the position in the dynamic symbol table.
	Index   int
	Name    string
	Bind    elf.SymBind
	Kind    elf.SymType
	Defined bool
	Value   uint64
	Size    uint64

	// Version is the name of the version definition (or requirement, for
	// undefined symbols) the symbol is bound to. Only meaningful when
	// HasVersion is set.
	Version    string
	HasVersion bool
	// Hidden is set for non default versions (name@VERSION as opposed to
	// name@@VERSION).
	Hidden bool
}

// VersionString returns the version or "<unversioned>".
func (s *SymbolRecord) VersionString() string {
	if !s.HasVersion {
		return "<unversioned>"
	}
	return s.Version
}

// VersionDefinition is an entry of the version definition table.
type VersionDefinition struct {
	Index uint16
	Name  string
	Flags uint16
	// Base is set for the definition naming the object itself.
	Base bool
}

// VersionNeed is a version required from another object.
type VersionNeed struct {
	Index uint16
	Name  string
	File  string
}

// Table is the result of reading an ELF object.
type Table struct {
	Path        string
	Symbols     []SymbolRecord
	Definitions []VersionDefinition
	Needs       []VersionNeed
}

// Undefined returns the names of the undefined, non local symbols. This is
// what `nm --dynamic --extern-only --undefined-only` lists.
func (t *Table) Undefined() map[string]struct{} {
	r := make(map[string]struct{})
	for i := range t.Symbols {
		sym := &t.Symbols[i]
		if sym.Defined || sym.Bind == elf.STB_LOCAL {
			continue
		}
		r[sym.Name] = struct{}{}
	}
	return r
}

// Option configures Read.
type Option func(*options)

type options struct {
	allowMissingVerdef bool
}

// AllowMissingVerdef accepts objects without a version definition section.
// Executables usually only carry version requirements.
func AllowMissingVerdef() Option {
	return func(o *options) {
		o.allowMissingVerdef = true
	}
}

// Read opens path and reads its dynamic symbols and version tables.
func Read(path string, opts ...Option) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		var ferr *elf.FormatError
		if errors.As(err, &ferr) {
			return nil, &FormatError{Path: path, Msg: ferr.Error()}
		}
		return nil, err
	}
	defer f.Close()
	return ReadFile(path, f, opts...)
}

// ReadFile is like Read but works on an already opened file. Path is only
// used for error messages.
func ReadFile(path string, f *elf.File, opts ...Option) (*Table, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := logflags.SymbolsLogger()

	var dynsyms []*elf.Section
	var versym, verdef, verneed *elf.Section
	for _, sec := range f.Sections {
		switch sec.Type {
		case elf.SHT_DYNSYM:
			dynsyms = append(dynsyms, sec)
		case elf.SHT_GNU_VERSYM:
			versym = sec
		case elf.SHT_GNU_VERDEF:
			verdef = sec
		case elf.SHT_GNU_VERNEED:
			verneed = sec
		}
	}

	switch {
	case len(dynsyms) == 0:
		return nil, &FormatError{path, "no dynamic symbol table"}
	case len(dynsyms) > 1:
		return nil, &FormatError{path, fmt.Sprintf("%d dynamic symbol tables, multiple symbol tables are not supported", len(dynsyms))}
	case versym == nil:
		return nil, &FormatError{path, "GNU version symbol section (.gnu.version) missing"}
	case verdef == nil && !o.allowMissingVerdef:
		return nil, &FormatError{path, "GNU version definition section (.gnu.version_d) missing"}
	}

	tab := &Table{Path: path}
	names := make(map[uint16]string)

	if verdef != nil {
		defs, err := readVerdef(f, verdef)
		if err != nil {
			return nil, &FormatError{path, err.Error()}
		}
		tab.Definitions = defs
		for _, d := range defs {
			names[d.Index] = d.Name
		}
	}
	if verneed != nil {
		needs, err := readVerneed(f, verneed)
		if err != nil {
			return nil, &FormatError{path, err.Error()}
		}
		tab.Needs = needs
		for _, n := range needs {
			names[n.Index] = n.Name
		}
	}

	syms, err := f.DynamicSymbols()
	if err != nil {
		return nil, &FormatError{path, fmt.Sprintf("could not read dynamic symbols: %v", err)}
	}

	vs, err := versym.Data()
	if err != nil {
		return nil, &FormatError{path, fmt.Sprintf("could not read .gnu.version: %v", err)}
	}
	// DynamicSymbols drops the null symbol at index 0, .gnu.version does not.
	if len(vs)/2 < len(syms)+1 {
		return nil, &FormatError{path, fmt.Sprintf(".gnu.version has %d entries for %d symbols", len(vs)/2, len(syms)+1)}
	}

	for i := range syms {
		sym := &syms[i]
		idx := i + 1
		kind := elf.ST_TYPE(sym.Info)
		if kind == elf.STT_FILE || kind == elf.STT_SECTION {
			continue
		}

		rec := SymbolRecord{
			Index:   idx,
			Name:    sym.Name,
			Bind:    elf.ST_BIND(sym.Info),
			Kind:    kind,
			Defined: sym.Section != elf.SHN_UNDEF,
			Value:   sym.Value,
			Size:    sym.Size,
		}

		ndx := f.ByteOrder.Uint16(vs[2*idx:])
		rec.Hidden = ndx&verNdxHidden != 0
		ndx &^= verNdxHidden
		if ndx != verNdxLocal && ndx != verNdxGlobal {
			name, ok := names[ndx]
			if !ok {
				return nil, &FormatError{path, fmt.Sprintf("version index %d of symbol %s out of range", ndx, sym.Name)}
			}
			rec.Version = name
			rec.HasVersion = true
		}

		tab.Symbols = append(tab.Symbols, rec)
	}

	logger.Debugf("%s: %d dynamic symbols, %d version definitions, %d version requirements", path, len(tab.Symbols), len(tab.Definitions), len(tab.Needs))
	return tab, nil
}

// Lookup returns the first symbol called name.
func (t *Table) Lookup(name string) (*SymbolRecord, bool) {
	for i := range t.Symbols {
		if t.Symbols[i].Name == name {
			return &t.Symbols[i], true
		}
	}
	return nil, false
}
