package probe

import (
	"fmt"
	"io"
	"text/template"

	"github.com/tuiwidgets/abicheck/pkg/config"
)

// GenClass is a class exercised by a generated probe.
type GenClass struct {
	// Name is the fully qualified C++ name.
	Name string
	Kind Kind
	// SelfRef is the substitution index the class itself has in the
	// mangled parameter list of its copy and move members. It is "1" for
	// most classes; nested classes whose mangled name needs an extra
	// substitution use "2".
	SelfRef string
	// DestructorArgs, when set, are the constructor arguments used to
	// instantiate the class for referencing its virtual destructor, for
	// classes that have neither a nullptr nor a default constructor.
	DestructorArgs string
}

// GenConfig describes a probe translation unit.
type GenConfig struct {
	Headers []string
	Classes []GenClass
	// WidgetBase, QObjectBase and EventBase, when set, make the probe
	// cross check the declared kind of every class against its base
	// classes and report mismatches as ERROR records.
	WidgetBase  string
	QObjectBase string
	EventBase   string
}

type genData struct {
	GenConfig
	Kinds []Kind
}

var probeTemplate = template.Must(template.New("probe").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`// Generated by abicheck probe-gen. DO NOT EDIT.
//
// Prints a CLASS record for every probed class followed by one EXPECT
// record per compiler generated special member and a CLASS-SIG summary.
// Referencing the members makes them undefined symbols of the probe
// executable if the library defines them out of line.

#include <stdio.h>
#include <stdlib.h>

#include <cstddef>
#include <string>
#include <type_traits>
#include <typeinfo>
#include <utility>
#include <cxxabi.h>
{{range .Headers}}
#include <{{.}}>
{{- end}}

// Detects actual move operations, a copy operation also satisfies
// std::is_move_constructible.
template<typename P>
struct M
{
    operator P const&();
    operator P&&();
};

template<typename T>
constexpr bool has_move_ctor = std::is_move_constructible_v<T> && !std::is_constructible_v<T, M<T>>;

template<typename T>
constexpr bool has_move_assign = std::is_move_assignable_v<T> && !std::is_assignable_v<T, M<T>>;

// Constructing a derived class references the complete object destructor
// of T through the derived destructor. Deleting through a pointer to T only
// calls the virtual deleting destructor.
template <typename T>
class DestructorReference : public T {
    using T::T;
};

template <typename T>
void destructorReference(bool run) {
    if constexpr (std::is_abstract_v<T>) {
        (void)run;
    } else if constexpr (std::is_constructible_v<T, std::nullptr_t>) {
        if (run) {
            DestructorReference<T> x(nullptr);
        }
    } else if constexpr (std::is_default_constructible_v<T>) {
        if (run) {
            DestructorReference<T> x;
        }
    } else {
        (void)run;
    }
}
{{range .Classes}}{{if .DestructorArgs}}
template <>
void destructorReference<{{.Name}}>(bool run) {
    if (run) {
        DestructorReference<{{.Name}}> x({{.DestructorArgs}});
    }
}
{{end}}{{end}}
enum class Kind {
{{- range $i, $k := .Kinds}}
    {{$k}} = {{inc $i}},
{{- end}}
};

static const char *kindToString(Kind kind) {
    switch (kind) {
{{- range .Kinds}}
        case Kind::{{.}}: return "{{.}}";
{{- end}}
    }
    return "unknown";
}

static void expectLinkage(const std::string &expected, const std::string &descr) {
    printf("EXPECT _Z%s %s\n", expected.c_str(), descr.c_str());
}

template <typename T>
void testInner(Kind kind, bool run, const std::string &selfref, T *a, T *b) {
    auto classMangled = std::string(typeid(T).name());
    auto classMangledWithoutE = classMangled.substr(0, classMangled.size() - 1);

    int status;
    char *demangled = abi::__cxa_demangle(classMangled.c_str(), nullptr, nullptr, &status);
    auto className = std::string(demangled ? demangled : classMangled.c_str());
    free(demangled);
    const char *kindName = kindToString(kind);

    printf("CLASS %s kind=%s\n", className.c_str(), kindName);
{{- if .WidgetBase}}

    if (std::is_base_of_v<{{.WidgetBase}}, T>) {
        if (kind != Kind::Widget) {
            printf("ERROR %s is a widget but has kind %s\n", className.c_str(), kindName);
        }
    } else if (kind == Kind::Widget) {
        printf("ERROR %s is not a widget\n", className.c_str());
    }
{{- end}}
{{- if .QObjectBase}}

    bool qobjectKind = kind == Kind::Widget || kind == Kind::Facet || kind == Kind::Layout
        || kind == Kind::QObject_Intree || kind == Kind::QObject_Other;
    if (std::is_base_of_v<{{.QObjectBase}}, T>) {
        if (!qobjectKind) {
            printf("ERROR %s is a QObject but has kind %s\n", className.c_str(), kindName);
        }
    } else if (qobjectKind && kind != Kind::Widget) {
        printf("ERROR %s is not a %s\n", className.c_str(), kindName);
    }
{{- end}}
{{- if .EventBase}}

    if (std::is_base_of_v<{{.EventBase}}, T>) {
        if (kind != Kind::Event) {
            printf("ERROR %s is a ZEvent but has kind %s\n", className.c_str(), kindName);
        }
    } else if (kind == Kind::Event) {
        printf("ERROR %s is not a ZEvent\n", className.c_str());
    }
{{- end}}

    std::string ops;

    if constexpr (std::is_default_constructible_v<T>) {
        if (run) {
            [[maybe_unused]] T c;
        }
        expectLinkage(classMangledWithoutE + "C1Ev", className + "#default ctor");
        ops += "D";
    } else {
        ops += "-";
    }

    if constexpr (std::is_copy_constructible_v<T>) {
        if (run) {
            [[maybe_unused]] T c = *b;
        }
        expectLinkage(classMangledWithoutE + "C1ERKS" + selfref + "_", className + "#copy ctor");
        ops += "C";
    } else {
        ops += "-";
    }

    if constexpr (has_move_ctor<T>) {
        if (run) {
            [[maybe_unused]] T c = std::move(*b);
        }
        expectLinkage(classMangledWithoutE + "C1EOS" + selfref + "_", className + "#copy ctor&&");
        ops += "M";
    } else {
        ops += "-";
    }

    if constexpr (std::is_copy_assignable_v<T>) {
        if (run) {
            *a = *b;
        }
        expectLinkage(classMangledWithoutE + "aSERKS" + selfref + "_", className + "#operator=");
        ops += "c";
    } else {
        ops += "-";
    }

    if constexpr (has_move_assign<T>) {
        if (run) {
            *a = std::move(*b);
        }
        expectLinkage(classMangledWithoutE + "aSEOS" + selfref + "_", className + "#operator=&&");
        ops += "m";
    } else {
        ops += "-";
    }

    if constexpr (std::is_destructible_v<T>) {
        if (run) {
            delete a;
        }
        expectLinkage(classMangledWithoutE + "D1Ev", className + "#dtor");
        if constexpr (std::has_virtual_destructor_v<T>) {
            ops += "v";
            destructorReference<T>(run);
        } else {
            ops += "d";
        }
    } else {
        ops += "-";
    }

    printf("CLASS-SIG %s %s\n", ops.c_str(), className.c_str());
}

static void *a_buff = malloc(1024);
static void *b_buff = malloc(1024);

// The pointers are never dereferenced: run is false unless the probe gets
// more than 100 arguments, which the optimizer cannot rule out.
template <typename T>
void test(Kind kind, bool run, const char *selfref) {
    testInner(kind, run, selfref, reinterpret_cast<T*>(a_buff), reinterpret_cast<T*>(b_buff));
}

int main(int argc, char *argv[]) {
    (void)argv;
    bool run = argc > 100;
{{range .Classes}}
    test<{{.Name}}>(Kind::{{.Kind}}, run, "{{.SelfRef}}");
{{- end}}
    return 0;
}
`))

// Generate writes the C++ source of a probe for conf to w.
func Generate(w io.Writer, conf GenConfig) error {
	if len(conf.Classes) == 0 {
		return fmt.Errorf("no classes to probe")
	}
	data := genData{GenConfig: conf, Kinds: Kinds}
	data.Classes = make([]GenClass, len(conf.Classes))
	for i, c := range conf.Classes {
		if c.Name == "" {
			return fmt.Errorf("class %d has no name", i)
		}
		if !c.Kind.Valid() {
			return fmt.Errorf("class %s has unknown kind %q", c.Name, c.Kind)
		}
		if c.SelfRef == "" {
			c.SelfRef = "1"
		}
		data.Classes[i] = c
	}
	return probeTemplate.Execute(w, data)
}

// GenConfigFromConfig returns the probe description of conf.
func GenConfigFromConfig(conf *config.ProbeConfig) GenConfig {
	gc := GenConfig{
		Headers:     conf.Headers,
		WidgetBase:  conf.WidgetBase,
		QObjectBase: conf.QObjectBase,
		EventBase:   conf.EventBase,
	}
	for _, c := range conf.Classes {
		gc.Classes = append(gc.Classes, GenClass{
			Name:           c.Name,
			Kind:           Kind(c.Kind),
			SelfRef:        c.SelfRef,
			DestructorArgs: c.DestructorArgs,
		})
	}
	return gc
}
