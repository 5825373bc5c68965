// Package interceptor provides the ordered chain of prompt context
// transforms applied between request assembly and dispatch. Interceptors are
// pure: each receives the previous interceptor's output and returns a new
// context built through the model.PromptContext copy methods.
package interceptor

import (
	"maps"
	"sort"

	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/tools"
)

type (
	// Interceptor transforms a prompt context.
	Interceptor interface {
		Intercept(pc *model.PromptContext) *model.PromptContext
	}

	// Func adapts a function to the Interceptor interface.
	Func func(pc *model.PromptContext) *model.PromptContext

	// Chain applies interceptors in registration order.
	Chain []Interceptor
)

// Intercept calls f.
func (f Func) Intercept(pc *model.PromptContext) *model.PromptContext { return f(pc) }

// Apply runs every interceptor in order, feeding each the output of the
// previous one. A nil interceptor or a nil return leaves the context
// unchanged.
func (c Chain) Apply(pc *model.PromptContext) *model.PromptContext {
	for _, i := range c {
		if i == nil {
			continue
		}
		if next := i.Intercept(pc); next != nil {
			pc = next
		}
	}
	return pc
}

// InjectProperties merges props into the context properties.
func InjectProperties(props map[string]any) Interceptor {
	props = maps.Clone(props)
	return Func(func(pc *model.PromptContext) *model.PromptContext {
		return pc.WithProperties(props)
	})
}

// InjectState stores the value returned by state under key in the memory
// snapshot of every request. It is used to surface world state (clock,
// session, environment) that the backend should see next to memorized
// results.
func InjectState(key string, state func() string) Interceptor {
	return Func(func(pc *model.PromptContext) *model.PromptContext {
		return pc.WithMemoryEntry(key, state())
	})
}

// FilterMemory keeps only the memory entries whose label satisfies keep.
func FilterMemory(keep func(label string) bool) Interceptor {
	return Func(func(pc *model.PromptContext) *model.PromptContext {
		mem := pc.Memory()
		maps.DeleteFunc(mem, func(k, _ string) bool { return !keep(k) })
		return pc.WithMemory(mem)
	})
}

// ExcludeMemory drops the given labels from the memory snapshot.
func ExcludeMemory(labels ...string) Interceptor {
	drop := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		drop[l] = struct{}{}
	}
	return FilterMemory(func(label string) bool {
		_, ok := drop[label]
		return !ok
	})
}

// AddTools appends defs to the advertised tool definitions, skipping names
// that are already advertised.
func AddTools(defs ...tools.Definition) Interceptor {
	return Func(func(pc *model.PromptContext) *model.PromptContext {
		current := pc.Tools()
		seen := make(map[string]struct{}, len(current))
		for _, d := range current {
			seen[d.Name] = struct{}{}
		}
		for _, d := range defs {
			if _, ok := seen[d.Name]; ok {
				continue
			}
			seen[d.Name] = struct{}{}
			current = append(current, d)
		}
		return pc.WithTools(current)
	})
}

// LimitHistory keeps at most the n most recent conversation messages.
func LimitHistory(n int) Interceptor {
	return Func(func(pc *model.PromptContext) *model.PromptContext {
		h := pc.History()
		if n < 0 || len(h) <= n {
			return pc
		}
		return pc.WithHistory(h[len(h)-n:])
	})
}

// LimitMemory enforces a budget on the total size in bytes of memory values.
// Entries are kept in label order until the budget is reached; the remaining
// entries are dropped.
func LimitMemory(maxBytes int) Interceptor {
	return Func(func(pc *model.PromptContext) *model.PromptContext {
		mem := pc.Memory()
		labels := make([]string, 0, len(mem))
		for k := range mem {
			labels = append(labels, k)
		}
		sort.Strings(labels)
		kept := make(map[string]string, len(mem))
		used := 0
		for _, k := range labels {
			size := len(k) + len(mem[k])
			if used+size > maxBytes {
				break
			}
			used += size
			kept[k] = mem[k]
		}
		if len(kept) == len(mem) {
			return pc
		}
		return pc.WithMemory(kept)
	})
}
