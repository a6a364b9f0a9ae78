package elfwriter

import (
	"debug/elf"
	"path/filepath"
	"testing"
)

func TestWriteSharedObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libtest.so")
	so := &SharedObject{
		Soname:      "libtest.so.1",
		Definitions: []string{"test_1.0"},
		Needs:       []VersionNeed{{File: "libc.so.6", Names: []string{"GLIBC_2.2.5"}}},
		Symbols: []DynSym{
			{Name: "free", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Versym: 3},
			{Name: "test_fn", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Defined: true, Value: 0x1000, Size: 16, Versym: 2},
		},
		BuildID: []byte{0xab, 0xcd, 0xef, 0x01},
	}
	if err := WriteSharedObjectFile(path, so); err != nil {
		t.Fatalf("WriteSharedObjectFile: %v", err)
	}

	f, err := elf.Open(path)
	if err != nil {
		t.Fatalf("written file does not parse: %v", err)
	}
	defer f.Close()

	if f.Type != elf.ET_DYN || f.Machine != elf.EM_X86_64 {
		t.Errorf("unexpected header %v %v", f.Type, f.Machine)
	}
	for _, name := range []string{".text", ".dynstr", ".dynsym", ".gnu.version", ".gnu.version_d", ".gnu.version_r", ".note.gnu.build-id", ".shstrtab"} {
		if f.Section(name) == nil {
			t.Errorf("missing section %s", name)
		}
	}

	syms, err := f.DynamicSymbols()
	if err != nil {
		t.Fatalf("DynamicSymbols: %v", err)
	}
	if len(syms) != 2 {
		t.Fatalf("expected 2 dynamic symbols, got %d", len(syms))
	}
	if syms[0].Name != "free" || syms[0].Section != elf.SHN_UNDEF {
		t.Errorf("unexpected first symbol %#v", syms[0])
	}
	if syms[1].Name != "test_fn" || syms[1].Section == elf.SHN_UNDEF || syms[1].Value != 0x1000 {
		t.Errorf("unexpected second symbol %#v", syms[1])
	}
	if elf.ST_TYPE(syms[1].Info) != elf.STT_FUNC || elf.ST_BIND(syms[1].Info) != elf.STB_GLOBAL {
		t.Errorf("unexpected symbol info %#x", syms[1].Info)
	}
}

func TestElfHash(t *testing.T) {
	// Reference values from the System V ABI hash function.
	tests := map[string]uint32{
		"":            0,
		"GLIBC_2.2.5": 0x09691a75,
	}
	for in, want := range tests {
		if got := elfHash(in); got != want {
			t.Errorf("elfHash(%q) = %#x, want %#x", in, got, want)
		}
	}
}
