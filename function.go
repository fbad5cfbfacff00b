package formula

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Function is a formula function. args are already evaluated: scalars are
// Primitives and range arguments are *RangeValue. a returned
// *SpreadsheetError, whether as the value or as err, becomes the cell's
// error; any other error becomes #VALUE!.
type Function func(ctx Context, args ...Value) (Value, error)

// FunctionOption tunes how a registered function is called
type FunctionOption func(*registeredFunction)

// Volatile marks a function whose result changes without any input
// changing (NOW, RAND). cells calling it are recomputed on every batch.
func Volatile() FunctionOption {
	return func(f *registeredFunction) {
		f.volatile = true
	}
}

// AcceptsErrors lets error values reach the function as arguments instead
// of short-circuiting the call. IFERROR and the IS* family need this.
func AcceptsErrors() FunctionOption {
	return func(f *registeredFunction) {
		f.acceptsErrors = true
	}
}

type registeredFunction struct {
	name          string
	call          Function
	volatile      bool
	acceptsErrors bool
}

// Registry maps uppercase function names to implementations. each engine
// owns its own registry.
type Registry struct {
	functions map[string]*registeredFunction
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{functions: make(map[string]*registeredFunction)}
}

// NewBuiltinRegistry returns a registry pre-seeded with the built-in
// function library
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	NewDefaultBuiltInFunctions().RegisterAll(r)
	return r
}

// Register adds or replaces a function. names are case-insensitive and the
// last registration wins, which is how built-ins are overridden.
func (r *Registry) Register(name string, fn Function, opts ...FunctionOption) error {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return NewApplicationError(InvalidArgument, "function name must not be empty")
	}
	if fn == nil {
		return NewApplicationError(InvalidArgument, "function "+name+" has no implementation")
	}
	entry := &registeredFunction{name: name, call: fn}
	for _, opt := range opts {
		opt(entry)
	}
	r.functions[name] = entry
	return nil
}

// Unregister removes a function. it reports whether the name was present.
func (r *Registry) Unregister(name string) bool {
	name = strings.ToUpper(name)
	_, ok := r.functions[name]
	delete(r.functions, name)
	return ok
}

// Lookup finds a function by name, case-insensitively
func (r *Registry) Lookup(name string) (Function, bool) {
	f, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return f.call, true
}

func (r *Registry) lookup(name string) (*registeredFunction, bool) {
	f, ok := r.functions[strings.ToUpper(name)]
	return f, ok
}

// IsVolatile reports whether name is registered as volatile
func (r *Registry) IsVolatile(name string) bool {
	f, ok := r.lookup(name)
	return ok && f.volatile
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone copies the registry so it can be extended independently
func (r *Registry) Clone() *Registry {
	out := NewRegistry()
	for name, f := range r.functions {
		copied := *f
		out.functions[name] = &copied
	}
	return out
}

// Suggest returns the registered name closest to an unknown one, or "" when
// nothing is close. prefixes ("SUMI" -> SUMIF) and typos with extra letters
// ("SUMM" -> SUM) are both covered.
func (r *Registry) Suggest(name string) string {
	candidates := r.Names()
	if len(candidates) == 0 || name == "" {
		return ""
	}

	ranks := fuzzy.RankFindFold(name, candidates)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}

	best, bestDistance := "", -1
	for _, candidate := range candidates {
		if len(candidate) < 2 {
			continue
		}
		distance := fuzzy.RankMatchFold(candidate, name)
		if distance < 0 || distance > 2 {
			continue
		}
		if bestDistance < 0 || distance < bestDistance {
			best, bestDistance = candidate, distance
		}
	}
	return best
}
