package elfsym

import (
	"debug/elf"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuiwidgets/abicheck/pkg/elfwriter"
)

func writeObject(t *testing.T, so *elfwriter.SharedObject) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "libprobe.so")
	require.NoError(t, elfwriter.WriteSharedObjectFile(path, so))
	return path
}

func libraryObject() *elfwriter.SharedObject {
	return &elfwriter.SharedObject{
		Soname:      "libtuiwidgets.so.0a",
		Definitions: []string{"tuiwidgets_0.2"},
		Needs:       []elfwriter.VersionNeed{{File: "libc.so.6", Names: []string{"GLIBC_2.2.5"}}},
		Symbols: []elfwriter.DynSym{
			{Name: "free", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Versym: 3},
			{Name: "_ZN3Tui2v07ZWidgetC1EPS1_", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Defined: true, Value: 0x1000, Size: 64, Versym: 2},
			{Name: "crtstuff.c", Bind: elf.STB_LOCAL, Type: elf.STT_FILE, Versym: 0},
			{Name: "_ZTVSt9exception", Bind: elf.STB_WEAK, Type: elf.STT_OBJECT, Defined: true, Value: 0x2000, Size: 40, Versym: 1},
			{Name: "_ZN3Tui2v07ZWidget4oldEv", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Defined: true, Value: 0x1040, Size: 8, Versym: 0x8002},
			{Name: "__gmon_start__", Bind: elf.STB_WEAK, Type: elf.STT_NOTYPE, Versym: 0},
		},
	}
}

func TestRead(t *testing.T) {
	path := writeObject(t, libraryObject())

	tab, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, path, tab.Path)

	require.Equal(t, []VersionDefinition{
		{Index: 1, Name: "libtuiwidgets.so.0a", Flags: 1, Base: true},
		{Index: 2, Name: "tuiwidgets_0.2"},
	}, tab.Definitions)
	require.Equal(t, []VersionNeed{{Index: 3, Name: "GLIBC_2.2.5", File: "libc.so.6"}}, tab.Needs)

	// the STT_FILE symbol is skipped
	require.Len(t, tab.Symbols, 5)

	free := tab.Symbols[0]
	require.Equal(t, "free", free.Name)
	require.Equal(t, 1, free.Index)
	require.False(t, free.Defined)
	require.True(t, free.HasVersion)
	require.Equal(t, "GLIBC_2.2.5", free.Version)

	ctor := tab.Symbols[1]
	require.Equal(t, "_ZN3Tui2v07ZWidgetC1EPS1_", ctor.Name)
	require.True(t, ctor.Defined)
	require.Equal(t, elf.STB_GLOBAL, ctor.Bind)
	require.Equal(t, elf.STT_FUNC, ctor.Kind)
	require.Equal(t, uint64(0x1000), ctor.Value)
	require.Equal(t, "tuiwidgets_0.2", ctor.VersionString())
	require.False(t, ctor.Hidden)

	vtable, ok := tab.Lookup("_ZTVSt9exception")
	require.True(t, ok)
	require.Equal(t, 4, vtable.Index)
	require.False(t, vtable.HasVersion, "VER_NDX_GLOBAL means no version")
	require.Equal(t, "<unversioned>", vtable.VersionString())
	require.Equal(t, elf.STB_WEAK, vtable.Bind)

	old, ok := tab.Lookup("_ZN3Tui2v07ZWidget4oldEv")
	require.True(t, ok)
	require.True(t, old.Hidden)
	require.Equal(t, "tuiwidgets_0.2", old.Version)

	require.Equal(t, map[string]struct{}{"free": {}, "__gmon_start__": {}}, tab.Undefined())
}

func TestReadFormatErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(so *elfwriter.SharedObject)
		opts   []Option
		msg    string
	}{
		{
			name:   "missing versym",
			modify: func(so *elfwriter.SharedObject) { so.OmitVersym = true },
			msg:    ".gnu.version) missing",
		},
		{
			name:   "missing verdef",
			modify: func(so *elfwriter.SharedObject) { so.OmitVerdef = true },
			msg:    ".gnu.version_d) missing",
		},
		{
			name:   "multiple symbol tables",
			modify: func(so *elfwriter.SharedObject) { so.DuplicateDynsym = true },
			msg:    "multiple symbol tables are not supported",
		},
		{
			name: "version index out of range",
			modify: func(so *elfwriter.SharedObject) {
				so.Symbols[1].Versym = 7
			},
			msg: "version index 7 of symbol _ZN3Tui2v07ZWidgetC1EPS1_ out of range",
		},
		{
			name: "hidden version index out of range",
			modify: func(so *elfwriter.SharedObject) {
				so.Symbols[1].Versym = 0x8004
			},
			msg: "version index 4 of symbol",
		},
		{
			name: "index only defined by verdef",
			modify: func(so *elfwriter.SharedObject) {
				so.OmitVerdef = true
				so.Symbols[1].Versym = 2
			},
			opts: []Option{AllowMissingVerdef()},
			msg:  "version index 2 of symbol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			so := libraryObject()
			tt.modify(so)
			path := writeObject(t, so)

			_, err := Read(path, tt.opts...)
			require.Error(t, err)
			var ferr *FormatError
			require.True(t, errors.As(err, &ferr), "expected a FormatError, got %T: %v", err, err)
			require.Contains(t, ferr.Error(), tt.msg)
		})
	}
}

func TestReadExecutableWithoutVerdef(t *testing.T) {
	so := libraryObject()
	so.OmitVerdef = true
	so.Symbols = []elfwriter.DynSym{
		{Name: "_ZN6WidgetC1Ev", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Versym: 3},
		{Name: "_ZN6WidgetD2Ev", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Versym: 1},
		{Name: "main", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Defined: true, Value: 0x1000, Versym: 1},
	}
	path := writeObject(t, so)

	tab, err := Read(path, AllowMissingVerdef())
	require.NoError(t, err)
	require.Empty(t, tab.Definitions)
	require.Equal(t, map[string]struct{}{"_ZN6WidgetC1Ev": {}, "_ZN6WidgetD2Ev": {}}, tab.Undefined())
}

func TestReadNotELF(t *testing.T) {
	_, err := Read(filepath.Join("testdata", "does-not-exist.so"))
	require.Error(t, err)
	var ferr *FormatError
	require.False(t, errors.As(err, &ferr))
}
