package locator

import (
	"bytes"
	"context"
	"debug/dwarf"
	"debug/elf"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tuiwidgets/abicheck/pkg/elfsym"
	"github.com/tuiwidgets/abicheck/pkg/locator/debuginfod"
	"github.com/tuiwidgets/abicheck/pkg/logflags"
)

const ntGNUBuildID = 3

// DWARF resolves symbols in process by reading the line table of the
// binary or of its separate debug information file.
type DWARF struct {
	classifier *Classifier
	// DebugInfoDirectories are searched for <dir>/xx/yyyy.debug where
	// xxyyyy is the build id of the binary.
	DebugInfoDirectories []string
	// Debuginfod enables downloading debug information with
	// debuginfod-find.
	Debuginfod bool

	tables map[string]*lineTable
}

type lineTable struct {
	data  *dwarf.Data
	units []*dwarf.Entry
}

// NewDWARF returns a DWARF locator.
func NewDWARF(c *Classifier, debugInfoDirs []string, useDebuginfod bool) *DWARF {
	return &DWARF{
		classifier:           c,
		DebugInfoDirectories: debugInfoDirs,
		Debuginfod:           useDebuginfod,
		tables:               make(map[string]*lineTable),
	}
}

func (d *DWARF) Locate(ctx context.Context, binary string, sym elfsym.SymbolRecord) (Classification, error) {
	lt, err := d.load(ctx, binary)
	if err != nil {
		return Classification{}, &ResolutionError{Binary: binary, Symbol: sym.Name, Err: err}
	}
	path, line := lt.find(sym.Value)
	r := d.classifier.Classify(path, line)
	logflags.LocatorLogger().Debugf("%s: %s (%s)", sym.Name, r, r.Origin)
	return r, nil
}

func (d *DWARF) load(ctx context.Context, binary string) (*lineTable, error) {
	if lt, ok := d.tables[binary]; ok {
		return lt, nil
	}
	f, err := elf.Open(binary)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := loadDWARF(f)
	if err != nil {
		logflags.LocatorLogger().Debugf("%s: %v, looking for separate debug info", binary, err)
		data, err = d.loadSeparate(ctx, f)
		if err != nil {
			return nil, err
		}
	}

	lt := &lineTable{data: data}
	rdr := data.Reader()
	for {
		e, err := rdr.Next()
		if err != nil {
			return nil, fmt.Errorf("could not read debug info: %w", err)
		}
		if e == nil {
			break
		}
		if e.Tag == dwarf.TagCompileUnit {
			lt.units = append(lt.units, e)
		}
		rdr.SkipChildren()
	}
	d.tables[binary] = lt
	return lt, nil
}

func loadDWARF(f *elf.File) (*dwarf.Data, error) {
	if f.Section(".debug_info") == nil && f.Section(".zdebug_info") == nil {
		return nil, errors.New("no debug info")
	}
	return f.DWARF()
}

func (d *DWARF) loadSeparate(ctx context.Context, f *elf.File) (*dwarf.Data, error) {
	id, err := buildID(f)
	if err != nil {
		return nil, err
	}
	if len(id) < 2 {
		return nil, errors.New("build id too short")
	}

	var candidates []string
	for _, dir := range d.DebugInfoDirectories {
		candidates = append(candidates, filepath.Join(dir, id[:2], id[2:]+".debug"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		data, err := openDWARF(p)
		if err == nil {
			return data, nil
		}
		logflags.LocatorLogger().Debugf("%s: %v", p, err)
	}
	if d.Debuginfod {
		p, err := debuginfod.GetDebuginfo(ctx, id)
		if err == nil {
			return openDWARF(p)
		}
		logflags.LocatorLogger().Debugf("debuginfod: %v", err)
	}
	return nil, fmt.Errorf("no debug info found for build id %s", id)
}

func openDWARF(path string) (*dwarf.Data, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return loadDWARF(f)
}

// buildID returns the hex encoded GNU build id note of f.
func buildID(f *elf.File) (string, error) {
	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_NOTE {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return "", err
		}
		for len(data) >= 12 {
			namesz := f.ByteOrder.Uint32(data[0:])
			descsz := f.ByteOrder.Uint32(data[4:])
			typ := f.ByteOrder.Uint32(data[8:])
			nameEnd := 12 + align4(namesz)
			descEnd := nameEnd + align4(descsz)
			if nameEnd > uint64(len(data)) || nameEnd+uint64(descsz) > uint64(len(data)) {
				break
			}
			name := data[12 : 12+namesz]
			if typ == ntGNUBuildID && bytes.Equal(name, []byte("GNU\x00")) {
				return hex.EncodeToString(data[nameEnd : nameEnd+uint64(descsz)]), nil
			}
			if descEnd > uint64(len(data)) {
				break
			}
			data = data[descEnd:]
		}
	}
	return "", errors.New("no build id")
}

func align4(n uint32) uint64 {
	return (uint64(n) + 3) &^ 3
}

// find returns the source position of pc, or an empty path.
func (lt *lineTable) find(pc uint64) (string, int) {
	if pc == 0 {
		return "", 0
	}
	for _, cu := range lt.units {
		lr, err := lt.data.LineReader(cu)
		if err != nil || lr == nil {
			continue
		}
		var le dwarf.LineEntry
		if err := lr.SeekPC(pc, &le); err != nil {
			continue
		}
		if le.File == nil {
			continue
		}
		return le.File.Name, le.Line
	}
	return "", 0
}
