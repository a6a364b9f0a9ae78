package demangle

import (
	"errors"
	"testing"

	"github.com/ianlancetaylor/demangle"
)

func TestDemangle(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"_ZTVSt9exception", "vtable for std::exception"},
		{"_ZTISt9exception", "typeinfo for std::exception"},
		{"_ZTSSt9exception", "typeinfo name for std::exception"},
		{"_ZN6WidgetC1Ev", "Widget::Widget()"},
		{"_ZN6WidgetD2Ev", "Widget::~Widget()"},
		{"_ZN3Tui2v07ZWidgetC1EPS1_", "Tui::v0::ZWidget::ZWidget(Tui::v0::ZWidget*)"},
	}
	d, err := New(16)
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		got, err := d.Demangle(tt.in)
		if err != nil {
			t.Errorf("Demangle(%q): %v", tt.in, err)
			continue
		}
		if got != tt.out {
			t.Errorf("Demangle(%q) = %q, want %q", tt.in, got, tt.out)
		}
	}
}

func TestDemangleIsDeterministic(t *testing.T) {
	// a cache of one entry forces evictions between the calls
	d, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	names := []string{"_ZN3Tui2v07ZWidgetC1EPS1_", "_ZTVSt9exception", "_ZN3Tui2v07ZWidgetC1EPS1_", "_ZTVSt9exception"}
	seen := map[string]string{}
	for i := 0; i < 3; i++ {
		for _, name := range names {
			got, err := d.Demangle(name)
			if err != nil {
				t.Fatal(err)
			}
			if prev, ok := seen[name]; ok && prev != got {
				t.Fatalf("Demangle(%q) returned %q and then %q", name, prev, got)
			}
			seen[name] = got
			if pkg, _ := Demangle(name); pkg != got {
				t.Fatalf("package level Demangle(%q) = %q, want %q", name, pkg, got)
			}
		}
	}
}

func TestDemangleError(t *testing.T) {
	for _, in := range []string{"main", "_Z", "not mangled at all"} {
		_, err := Demangle(in)
		var derr *DemangleError
		if !errors.As(err, &derr) {
			t.Fatalf("Demangle(%q): expected a DemangleError, got %v", in, err)
		}
		if derr.Name != in {
			t.Errorf("DemangleError.Name = %q, want %q", derr.Name, in)
		}
	}

	_, err := Demangle("main")
	if !errors.Is(err, demangle.ErrNotMangledName) {
		t.Errorf("expected the underlying error to be ErrNotMangledName, got %v", err)
	}
}

func TestDemangleOptions(t *testing.T) {
	d, err := New(0, NoParams...)
	if err != nil {
		t.Fatal(err)
	}
	got, err := d.Demangle("_ZN3Tui2v07ZWidgetC1EPS1_")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Tui::v0::ZWidget::ZWidget" {
		t.Errorf("unexpected simplified name %q", got)
	}
}
