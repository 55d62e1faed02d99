package validation

import "github.com/rendis/jobflow/pkg/schema"

// Validator checks job definitions before they are built and launch
// parameters before a run starts.
type Validator interface {
	ValidateDocument(doc *schema.Document) error
	ValidateParams(schemaJSON []byte, params map[string]string) error
}

// Lookup answers whether a name is known: a registered action or decider, an
// expression engine, or a job or flow loaded earlier.
type Lookup interface {
	Has(name string) bool
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(name string) bool

func (f LookupFunc) Has(name string) bool { return f(name) }

// Lookups are the name spaces a document is resolved against. A nil field
// skips the corresponding existence check.
type Lookups struct {
	Actions  Lookup
	Deciders Lookup
	Engines  Lookup
	Jobs     Lookup
	Flows    Lookup
}
