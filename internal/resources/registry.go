package resources

import (
	"sort"
)

// Factory builds an adapter variant for one case.
type Factory func(env Env) Adapter

type variant struct {
	commands map[string]struct{}
	factory  Factory
}

// Registry is the closed set of named adapter variants. Names are resolved
// at step-execution time; an unknown name is a configuration error at the
// caller.
type Registry struct {
	variants map[string]variant
}

func NewRegistry() *Registry {
	return &Registry{variants: make(map[string]variant)}
}

// Register adds a variant under its name with the data commands it supports.
func (r *Registry) Register(name string, commands []string, factory Factory) {
	set := make(map[string]struct{}, len(commands))
	for _, command := range commands {
		set[command] = struct{}{}
	}
	r.variants[name] = variant{commands: set, factory: factory}
}

// Lookup resolves a variant factory by name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	v, ok := r.variants[name]
	if !ok {
		return nil, false
	}
	return v.factory, true
}

// Supports reports whether the named variant handles the given command.
func (r *Registry) Supports(name, command string) bool {
	v, ok := r.variants[name]
	if !ok {
		return false
	}
	_, ok = v.commands[command]
	return ok
}

// Names returns all registered variant names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.variants))
	for name := range r.variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns the registry with every built-in variant.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("PostgreSQL", []string{"load", "load_sql_schema"}, func(env Env) Adapter {
		return NewPostgreSQL(env)
	})
	r.Register("MySQL", []string{"load"}, func(env Env) Adapter {
		return NewMySQL(env)
	})
	r.Register("RMLMapper", []string{"execute_mapping"}, func(env Env) Adapter {
		return NewRMLMapper(env)
	})
	r.Register("Fuseki", []string{"load"}, func(env Env) Adapter {
		return NewFuseki(env)
	})
	r.Register("Virtuoso", []string{"load"}, func(env Env) Adapter {
		return NewVirtuoso(env)
	})
	r.Register("Query", []string{"execute_and_save", "execute_from_file_and_save"}, func(env Env) Adapter {
		return NewQuery(env)
	})
	return r
}
