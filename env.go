package unx

import (
	"iter"
	"log/slog"
	"os"
	"strings"
)

// Env is an ordered mapping of environment variable names to values.
// The zero value is an empty environment ready to use.
type Env struct {
	names  []string
	values map[string]string
}

// ParseEnv builds an Env from NAME=value pairs.  Later pairs override
// earlier ones but keep the position of the first occurrence.
func ParseEnv(vars ...string) *Env {
	env := new(Env)
	for _, s := range vars {
		name, value, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			slog.Warn("ignored unparsable environment variable",
				"var", s)
			continue
		}

		env.Set(name, value)
	}

	return env
}

// Inherit returns a copy of the current process environment.
func Inherit() *Env {
	return ParseEnv(os.Environ()...)
}

func (env *Env) Set(name, value string) {
	if env.values == nil {
		env.values = make(map[string]string)
	}

	if _, ok := env.values[name]; !ok {
		env.names = append(env.names, name)
	}
	env.values[name] = value
}

func (env *Env) Get(name string) (value string, ok bool) {
	if env != nil {
		value, ok = env.values[name]
	}
	return
}

func (env *Env) Unset(name string) {
	if env == nil {
		return
	}

	if _, ok := env.values[name]; !ok {
		return
	}

	delete(env.values, name)
	for i, n := range env.names {
		if n == name {
			env.names = append(env.names[:i], env.names[i+1:]...)
			break
		}
	}
}

func (env *Env) Len() int {
	if env == nil {
		return 0
	}
	return len(env.names)
}

// Names returns variable names in insertion order.
func (env *Env) Names() []string {
	if env == nil {
		return nil
	}
	return append([]string(nil), env.names...)
}

// Environ renders the mapping as NAME=value strings, in order.
func (env *Env) Environ() []string {
	if env == nil {
		return nil
	}

	vars := make([]string, 0, len(env.names))
	for _, name := range env.names {
		vars = append(vars, name+"="+env.values[name])
	}
	return vars
}

// All iterates over the variables in order.
func (env *Env) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, name := range env.Names() {
			if !yield(name, env.values[name]) {
				return
			}
		}
	}
}
