package domain

import "strings"

// AttributeField is one argument of a custom attribute. Constructor
// arguments have an empty Name; named field and property arguments carry
// their member name.
type AttributeField struct {
	Name  string
	Value any
}

// Attribute is a custom attribute as read from binary metadata.
type Attribute struct {
	// Name is the fully qualified attribute type name in reflection form,
	// e.g. "NUnit.Framework.CategoryAttribute".
	Name string
	// Bases names the base types of the attribute type in the same form,
	// nearest first. Bases defined in unavailable binaries end the list.
	Bases  []string
	Fields []AttributeField
	// Err is set when the attribute value blob could not be decoded. Fields
	// then holds whatever was decoded before the failure.
	Err error
}

// Is reports whether the attribute type is name or derives from it.
func (a Attribute) Is(name string) bool {
	if a.Name == name {
		return true
	}
	for _, b := range a.Bases {
		if b == name {
			return true
		}
	}
	return false
}

// ShortName returns the attribute type name without namespace, enclosing
// types or the "Attribute" suffix, e.g. "Unit" for "Tests.UnitAttribute".
func (a Attribute) ShortName() string {
	name := a.Name
	if i := strings.LastIndexAny(name, ".+"); i >= 0 {
		name = name[i+1:]
	}
	if trimmed := strings.TrimSuffix(name, "Attribute"); trimmed != "" {
		name = trimmed
	}
	return name
}

// Arg returns the i-th constructor argument.
func (a Attribute) Arg(i int) (any, bool) {
	n := 0
	for _, f := range a.Fields {
		if f.Name != "" {
			continue
		}
		if n == i {
			return f.Value, true
		}
		n++
	}
	return nil, false
}

// Field returns the value of a named field or property argument.
func (a Attribute) Field(name string) (any, bool) {
	for _, f := range a.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// TypeHandle identifies a declared type within a MetadataProvider.
type TypeHandle struct {
	ID   int
	Name string
}

// MethodHandle identifies a method within a MetadataProvider.
type MethodHandle struct {
	ID   int
	Name string
}

// MetadataProvider gives read access to the declarative metadata of one
// loaded binary.
type MetadataProvider interface {
	BinaryAttributes() ([]Attribute, error)
	Types() ([]TypeHandle, error)
	TypeAttributes(t TypeHandle) ([]Attribute, error)
	// Methods lists every method of the type across all visibility and
	// static/instance combinations, in declaration order.
	Methods(t TypeHandle) ([]MethodHandle, error)
	MethodAttributes(m MethodHandle) ([]Attribute, error)
}

// AssemblyReference is a link-time dependency declared by a binary.
type AssemblyReference struct {
	Name    string  `json:"name"`
	Version Version `json:"version"`
}

// Binary is a loaded binary.
type Binary interface {
	MetadataProvider
	Name() string
	Path() string
	References() []AssemblyReference
	Close() error
}

// BinaryLocator enumerates candidate binaries in a directory.
type BinaryLocator interface {
	Locate(dir string) ([]string, error)
}

// BinaryLoader opens a binary. Failures are reported as *LoadError.
type BinaryLoader interface {
	Load(path string) (Binary, error)
}

// Validator inspects an AssemblyResult and appends violations to it.
type Validator interface {
	Validate(result *AssemblyResult)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(result *AssemblyResult)

// Validate calls f(result).
func (f ValidatorFunc) Validate(result *AssemblyResult) { f(result) }

// Reporter renders validated results. Report is called once per binary in
// scan order; Finish is called once with the total violation count.
type Reporter interface {
	Report(result *AssemblyResult) error
	Finish(total int) error
}

// ConfigLoader loads the run configuration.
type ConfigLoader interface {
	Load(dir string) (Config, error)
}
