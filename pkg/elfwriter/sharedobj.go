package elfwriter

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
)

// DynSym describes a dynamic symbol of a synthesized shared object.
type DynSym struct {
	Name    string
	Bind    elf.SymBind
	Type    elf.SymType
	Defined bool
	Value   uint64
	Size    uint64
	// Versym is the raw .gnu.version entry of the symbol, including the
	// hidden bit.
	Versym uint16
}

// VersionNeed lists the versions required from File.
type VersionNeed struct {
	File  string
	Names []string
}

// SharedObject describes the dynamic linking metadata of a shared object.
// Version definition indexes are assigned in order: Soname gets index 1
// (the base definition), Definitions[i] gets index i+2. Version
// requirement indexes continue after the definitions.
type SharedObject struct {
	Machine     elf.Machine
	Soname      string
	Symbols     []DynSym
	Definitions []string
	Needs       []VersionNeed
	BuildID     []byte

	// OmitVersym and OmitVerdef drop the respective sections.
	OmitVersym bool
	OmitVerdef bool
	// DuplicateDynsym emits a second SHT_DYNSYM section.
	DuplicateDynsym bool
}

type strtab struct {
	buf bytes.Buffer
	off map[string]uint32
}

func newStrtab() *strtab {
	t := &strtab{off: make(map[string]uint32)}
	t.buf.WriteByte(0)
	return t
}

func (t *strtab) add(s string) uint32 {
	if off, ok := t.off[s]; ok {
		return off
	}
	off := uint32(t.buf.Len())
	t.buf.WriteString(s)
	t.buf.WriteByte(0)
	t.off[s] = off
	return off
}

// elfHash is the SysV hash function used by vd_hash and vna_hash.
func elfHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
		}
		h &^= 0xf0000000
	}
	return h
}

// WriteSharedObjectFile writes so to path.
func WriteSharedObjectFile(path string, so *SharedObject) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSharedObject(fh, so); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

// WriteSharedObject writes a minimal ELF64 little endian shared object
// containing so's dynamic symbols and version tables. The object has no
// code and cannot be loaded, it is only meant to be inspected.
func WriteSharedObject(out WriteCloserSeeker, so *SharedObject) error {
	machine := so.Machine
	if machine == elf.EM_NONE {
		machine = elf.EM_X86_64
	}
	w := New(out, &elf.FileHeader{
		Class:   elf.ELFCLASS64,
		Data:    elf.ELFDATA2LSB,
		Version: elf.EV_CURRENT,
		OSABI:   elf.ELFOSABI_NONE,
		Type:    elf.ET_DYN,
		Machine: machine,
	})

	le := binary.LittleEndian
	str := newStrtab()

	text := w.WriteSection(&elf.SectionHeader{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addralign: 16}, make([]byte, 16))

	dynsym := make([]byte, elf.Sym64Size)
	versym := make([]byte, 2)
	for _, sym := range so.Symbols {
		var ent [elf.Sym64Size]byte
		le.PutUint32(ent[0:], str.add(sym.Name))
		ent[4] = elf.ST_INFO(sym.Bind, sym.Type)
		if sym.Defined {
			le.PutUint16(ent[6:], uint16(text))
		}
		le.PutUint64(ent[8:], sym.Value)
		le.PutUint64(ent[16:], sym.Size)
		dynsym = append(dynsym, ent[:]...)
		versym = le.AppendUint16(versym, sym.Versym)
	}

	var verdef []byte
	if so.Soname != "" || len(so.Definitions) > 0 {
		names := append([]string{so.Soname}, so.Definitions...)
		for i, name := range names {
			var flags uint16
			if i == 0 {
				flags = 1 // VER_FLG_BASE
			}
			var next uint32
			if i != len(names)-1 {
				next = 20 + 8
			}
			verdef = le.AppendUint16(verdef, 1) // vd_version
			verdef = le.AppendUint16(verdef, flags)
			verdef = le.AppendUint16(verdef, uint16(i+1))
			verdef = le.AppendUint16(verdef, 1) // vd_cnt
			verdef = le.AppendUint32(verdef, elfHash(name))
			verdef = le.AppendUint32(verdef, 20) // vd_aux
			verdef = le.AppendUint32(verdef, next)
			verdef = le.AppendUint32(verdef, str.add(name)) // vda_name
			verdef = le.AppendUint32(verdef, 0)             // vda_next
		}
	}

	var verneed []byte
	ndx := uint16(len(so.Definitions) + 2)
	for i, need := range so.Needs {
		var next uint32
		if i != len(so.Needs)-1 {
			next = uint32(16 + 16*len(need.Names))
		}
		verneed = le.AppendUint16(verneed, 1) // vn_version
		verneed = le.AppendUint16(verneed, uint16(len(need.Names)))
		verneed = le.AppendUint32(verneed, str.add(need.File))
		verneed = le.AppendUint32(verneed, 16) // vn_aux
		verneed = le.AppendUint32(verneed, next)
		for j, name := range need.Names {
			var anext uint32
			if j != len(need.Names)-1 {
				anext = 16
			}
			verneed = le.AppendUint32(verneed, elfHash(name))
			verneed = le.AppendUint16(verneed, 0) // vna_flags
			verneed = le.AppendUint16(verneed, ndx)
			verneed = le.AppendUint32(verneed, str.add(name))
			verneed = le.AppendUint32(verneed, anext)
			ndx++
		}
	}

	dynstr := w.WriteSection(&elf.SectionHeader{Name: ".dynstr", Type: elf.SHT_STRTAB, Flags: elf.SHF_ALLOC, Addralign: 1}, str.buf.Bytes())
	dynsymSec := w.WriteSection(&elf.SectionHeader{Name: ".dynsym", Type: elf.SHT_DYNSYM, Flags: elf.SHF_ALLOC, Link: uint32(dynstr), Info: 1, Addralign: 8, Entsize: elf.Sym64Size}, dynsym)
	if so.DuplicateDynsym {
		w.WriteSection(&elf.SectionHeader{Name: ".dynsym2", Type: elf.SHT_DYNSYM, Flags: elf.SHF_ALLOC, Link: uint32(dynstr), Info: 1, Addralign: 8, Entsize: elf.Sym64Size}, dynsym)
	}
	if !so.OmitVersym {
		w.WriteSection(&elf.SectionHeader{Name: ".gnu.version", Type: elf.SHT_GNU_VERSYM, Flags: elf.SHF_ALLOC, Link: uint32(dynsymSec), Addralign: 2, Entsize: 2}, versym)
	}
	if verdef != nil && !so.OmitVerdef {
		w.WriteSection(&elf.SectionHeader{Name: ".gnu.version_d", Type: elf.SHT_GNU_VERDEF, Flags: elf.SHF_ALLOC, Link: uint32(dynstr), Info: uint32(len(so.Definitions) + 1), Addralign: 8}, verdef)
	}
	if verneed != nil {
		w.WriteSection(&elf.SectionHeader{Name: ".gnu.version_r", Type: elf.SHT_GNU_VERNEED, Flags: elf.SHF_ALLOC, Link: uint32(dynstr), Info: uint32(len(so.Needs)), Addralign: 8}, verneed)
	}
	if so.BuildID != nil {
		w.WriteNotes(".note.gnu.build-id", []Note{{Type: elf.NType(3), Name: "GNU\x00", Data: so.BuildID}})
	}

	w.WriteSectionHeaders()
	return w.Err
}
