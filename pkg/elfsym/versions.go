package elfsym

import (
	"bytes"
	"debug/elf"
	"fmt"
)

const (
	verdefSize  = 20 // Elf{32,64}_Verdef
	verdauxSize = 8  // Elf{32,64}_Verdaux
	verneedSize = 16 // Elf{32,64}_Verneed
	vernauxSize = 16 // Elf{32,64}_Vernaux
)

func linkedStrtab(f *elf.File, sec *elf.Section) ([]byte, error) {
	if sec.Link == 0 || int(sec.Link) >= len(f.Sections) {
		return nil, fmt.Errorf("%s has invalid string table link %d", sec.Name, sec.Link)
	}
	str := f.Sections[sec.Link]
	if str.Type != elf.SHT_STRTAB {
		return nil, fmt.Errorf("%s links to %s which is not a string table", sec.Name, str.Name)
	}
	return str.Data()
}

func cstring(strtab []byte, off uint32) (string, bool) {
	if int(off) >= len(strtab) {
		return "", false
	}
	s := strtab[off:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		return string(s[:i]), true
	}
	return "", false
}

// readVerdef walks the version definition chain. sh_info holds the number
// of entries; the chain ends early when vd_next is zero.
func readVerdef(f *elf.File, sec *elf.Section) ([]VersionDefinition, error) {
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %v", sec.Name, err)
	}
	strtab, err := linkedStrtab(f, sec)
	if err != nil {
		return nil, err
	}
	bo := f.ByteOrder

	var defs []VersionDefinition
	off := 0
	for n := uint32(0); n < sec.Info; n++ {
		if off < 0 || off+verdefSize > len(data) {
			return nil, fmt.Errorf("version definition %d at offset %#x outside of %s", n, off, sec.Name)
		}
		ent := data[off:]
		version := bo.Uint16(ent[0:])
		flags := bo.Uint16(ent[2:])
		ndx := bo.Uint16(ent[4:])
		cnt := bo.Uint16(ent[6:])
		aux := bo.Uint32(ent[12:])
		next := bo.Uint32(ent[16:])

		if version != 1 {
			return nil, fmt.Errorf("unknown version definition revision %d", version)
		}
		if cnt == 0 {
			return nil, fmt.Errorf("version definition %d has no name", ndx)
		}

		// The first auxiliary entry names the version, the others name its
		// parents.
		auxoff := off + int(aux)
		if auxoff < 0 || auxoff+verdauxSize > len(data) {
			return nil, fmt.Errorf("version definition %d auxiliary entry outside of %s", ndx, sec.Name)
		}
		name, ok := cstring(strtab, bo.Uint32(data[auxoff:]))
		if !ok {
			return nil, fmt.Errorf("version definition %d has bad name offset", ndx)
		}

		defs = append(defs, VersionDefinition{
			Index: ndx &^ verNdxHidden,
			Name:  name,
			Flags: flags,
			Base:  flags&verFlgBase != 0,
		})

		if next == 0 {
			break
		}
		off += int(next)
	}
	return defs, nil
}

// readVerneed walks the version requirement chain, flattening the
// auxiliary entries of every needed file.
func readVerneed(f *elf.File, sec *elf.Section) ([]VersionNeed, error) {
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %v", sec.Name, err)
	}
	strtab, err := linkedStrtab(f, sec)
	if err != nil {
		return nil, err
	}
	bo := f.ByteOrder

	var needs []VersionNeed
	off := 0
	for n := uint32(0); n < sec.Info; n++ {
		if off < 0 || off+verneedSize > len(data) {
			return nil, fmt.Errorf("version requirement %d at offset %#x outside of %s", n, off, sec.Name)
		}
		ent := data[off:]
		version := bo.Uint16(ent[0:])
		cnt := bo.Uint16(ent[2:])
		fileoff := bo.Uint32(ent[4:])
		aux := bo.Uint32(ent[8:])
		next := bo.Uint32(ent[12:])

		if version != 1 {
			return nil, fmt.Errorf("unknown version requirement revision %d", version)
		}
		file, ok := cstring(strtab, fileoff)
		if !ok {
			return nil, fmt.Errorf("version requirement %d has bad file name offset", n)
		}

		auxoff := off + int(aux)
		for j := uint16(0); j < cnt; j++ {
			if auxoff < 0 || auxoff+vernauxSize > len(data) {
				return nil, fmt.Errorf("version requirement of %s outside of %s", file, sec.Name)
			}
			a := data[auxoff:]
			other := bo.Uint16(a[6:])
			name, ok := cstring(strtab, bo.Uint32(a[8:]))
			if !ok {
				return nil, fmt.Errorf("version requirement %d of %s has bad name offset", other, file)
			}
			needs = append(needs, VersionNeed{Index: other &^ verNdxHidden, Name: name, File: file})
			anext := bo.Uint32(a[12:])
			if anext == 0 {
				break
			}
			auxoff += int(anext)
		}

		if next == 0 {
			break
		}
		off += int(next)
	}
	return needs, nil
}
