// elfwriter is a package to write ELF files without having their entire
// contents in memory at any one time.
// This package is incomplete, only features needed to synthesize shared
// objects for symbol table analysis are implemented, notably missing:
// - program headers
// - big endian and 32bit objects

package elfwriter

import (
	"debug/elf"
	"encoding/binary"
	"io"
)

// WriteCloserSeeker is the union of io.Writer, io.Closer and io.Seeker.
type WriteCloserSeeker interface {
	io.Writer
	io.Seeker
	io.Closer
}

// Writer writes ELF files.
type Writer struct {
	w        WriteCloserSeeker
	Err      error
	Sections []*elf.SectionHeader

	seekSectionHeader int64
	seekSectionNum    int64
}

type Note struct {
	Type elf.NType
	Name string
	Data []byte
}

const (
	ehsize    = 64
	shentsize = 64
)

// New creates a new Writer.
func New(w WriteCloserSeeker, fhdr *elf.FileHeader) *Writer {
	if seek, _ := w.Seek(0, io.SeekCurrent); seek != 0 {
		panic("can't write halfway through a file")
	}

	r := &Writer{w: w}

	if fhdr.Class != elf.ELFCLASS64 {
		panic("unsupported")
	}

	if fhdr.Data != elf.ELFDATA2LSB {
		panic("unsupported")
	}

	// e_ident
	r.Write([]byte{0x7f, 'E', 'L', 'F', byte(fhdr.Class), byte(fhdr.Data), byte(fhdr.Version), byte(fhdr.OSABI), byte(fhdr.ABIVersion), 0, 0, 0, 0, 0, 0, 0})

	r.u16(uint16(fhdr.Type))    // e_type
	r.u16(uint16(fhdr.Machine)) // e_machine
	r.u32(uint32(fhdr.Version)) // e_version
	r.u64(0)                    // e_entry
	r.u64(0)                    // e_phoff
	r.seekSectionHeader = r.Here()
	r.u64(0)         // e_shoff
	r.u32(0)         // e_flags
	r.u16(ehsize)    // e_ehsize
	r.u16(0)         // e_phentsize
	r.u16(0)         // e_phnum
	r.u16(shentsize) // e_shentsize
	r.seekSectionNum = r.Here()
	r.u16(0)                     // e_shnum
	r.u16(uint16(elf.SHN_UNDEF)) // e_shstrndx

	// Sanity check, size of file header should be the same as ehsize
	if sz, _ := w.Seek(0, io.SeekCurrent); sz != ehsize {
		panic("internal error, ELF header size")
	}

	return r
}

// WriteSection writes data at the current location, aligned to
// sh.Addralign, and records sh. The returned value is the section index
// the section will have in the final file.
func (w *Writer) WriteSection(sh *elf.SectionHeader, data []byte) elf.SectionIndex {
	if sh.Addralign > 1 {
		w.Align(int64(sh.Addralign))
	}
	sh.Offset = uint64(w.Here())
	sh.Size = uint64(len(data))
	sh.FileSize = sh.Size
	w.Write(data)
	w.Sections = append(w.Sections, sh)
	// index 0 is the null section
	return elf.SectionIndex(len(w.Sections))
}

// WriteNotes writes notes as a SHT_NOTE section called name.
func (w *Writer) WriteNotes(name string, notes []Note) elf.SectionIndex {
	w.Align(4)
	h := &elf.SectionHeader{
		Name:      name,
		Type:      elf.SHT_NOTE,
		Flags:     elf.SHF_ALLOC,
		Addralign: 4,
		Offset:    uint64(w.Here()),
	}
	for i := range notes {
		note := &notes[i]
		w.Align(4)
		w.u32(uint32(len(note.Name)))
		w.u32(uint32(len(note.Data)))
		w.u32(uint32(note.Type))
		w.Write([]byte(note.Name))
		w.Align(4)
		w.Write(note.Data)
	}
	h.Size = uint64(w.Here()) - h.Offset
	h.FileSize = h.Size
	w.Sections = append(w.Sections, h)
	return elf.SectionIndex(len(w.Sections))
}

// WriteSectionHeaders writes the section name string table and the section
// header table at the current location and patches the file header
// accordingly. It must be the last call on w.
func (w *Writer) WriteSectionHeaders() {
	shstrtab := []byte{0}
	nameOff := make([]uint32, 0, len(w.Sections)+1)
	addName := func(name string) {
		nameOff = append(nameOff, uint32(len(shstrtab)))
		shstrtab = append(shstrtab, name...)
		shstrtab = append(shstrtab, 0)
	}
	for _, sh := range w.Sections {
		addName(sh.Name)
	}
	addName(".shstrtab")
	shstrndx := w.WriteSection(&elf.SectionHeader{Name: ".shstrtab", Type: elf.SHT_STRTAB, Addralign: 1}, shstrtab)

	w.Align(8)
	shoff := w.Here()

	// Patch File Header
	w.w.Seek(w.seekSectionHeader, io.SeekStart)
	w.u64(uint64(shoff))
	w.w.Seek(w.seekSectionNum, io.SeekStart)
	w.u16(uint16(len(w.Sections) + 1))
	w.u16(uint16(shstrndx))
	w.w.Seek(0, io.SeekEnd)

	w.Write(make([]byte, shentsize)) // null section
	for i, sh := range w.Sections {
		w.u32(nameOff[i])
		w.u32(uint32(sh.Type))
		w.u64(uint64(sh.Flags))
		w.u64(sh.Addr)
		w.u64(sh.Offset)
		w.u64(sh.Size)
		w.u32(sh.Link)
		w.u32(sh.Info)
		w.u64(sh.Addralign)
		w.u64(sh.Entsize)
	}
}

// Here returns the current seek offset from the start of the file.
func (w *Writer) Here() int64 {
	r, err := w.w.Seek(0, io.SeekCurrent)
	if err != nil && w.Err == nil {
		w.Err = err
	}
	return r
}

// Align writes as many padding bytes as needed to make the current file
// offset a multiple of align.
func (w *Writer) Align(align int64) {
	off := w.Here()
	alignOff := (off + (align - 1)) &^ (align - 1)
	if alignOff-off > 0 {
		w.Write(make([]byte, alignOff-off))
	}
}

func (w *Writer) Write(buf []byte) {
	_, err := w.w.Write(buf)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u16(n uint16) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u32(n uint32) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u64(n uint64) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}
