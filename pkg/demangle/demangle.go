// Package demangle turns Itanium C++ ABI mangled names into declarations.
package demangle

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ianlancetaylor/demangle"
)

var (
	// Full prints the complete declaration, like __cxa_demangle.
	Full []demangle.Option = nil
	// NoParams drops function parameters and template arguments.
	NoParams = []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams, demangle.NoTemplateParams}
)

// DefaultCacheSize is the number of names memoized by New when size is 0.
const DefaultCacheSize = 4096

// DemangleError is returned for names that are not validly mangled.
type DemangleError struct {
	Name string
	Err  error
}

func (e *DemangleError) Error() string {
	return fmt.Sprintf("could not demangle %q: %v", e.Name, e.Err)
}

func (e *DemangleError) Unwrap() error {
	return e.Err
}

// Demangler demangles names, remembering recent results. Demangling is a
// pure function so cached and fresh results are identical.
type Demangler struct {
	cache *lru.Cache
	opts  []demangle.Option
}

// New returns a Demangler memoizing up to size names.
func New(size int, opts ...demangle.Option) (*Demangler, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Demangler{cache: cache, opts: opts}, nil
}

// Demangle returns the declaration encoded by mangled.
func (d *Demangler) Demangle(mangled string) (string, error) {
	if v, ok := d.cache.Get(mangled); ok {
		return v.(string), nil
	}
	s, err := demangle.ToString(mangled, d.opts...)
	if err != nil {
		return "", &DemangleError{Name: mangled, Err: err}
	}
	d.cache.Add(mangled, s)
	return s, nil
}

var defaultDemangler *Demangler

func init() {
	var err error
	defaultDemangler, err = New(DefaultCacheSize)
	if err != nil {
		panic(err)
	}
}

// Demangle demangles mangled with a shared default Demangler.
func Demangle(mangled string) (string, error) {
	return defaultDemangler.Demangle(mangled)
}
