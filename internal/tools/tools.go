// Package tools maps declarative tool definitions onto a closed set of
// built-in behaviors and dispatches validated tool calls.
//
// The model never executes arbitrary code: a definition's name selects
// one of the known kinds, the definition's schema drives argument
// validation, and the kind's executor does the work. A definition whose
// name matches no kind is rejected up front, before any model call.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aavetis/memory-poc/internal/fetch"
	"github.com/aavetis/memory-poc/internal/llm"
	"github.com/aavetis/memory-poc/internal/memory"
	"github.com/aavetis/memory-poc/internal/search"
	"github.com/aavetis/memory-poc/internal/toolschema"
)

// Kind identifies a built-in tool behavior.
type Kind int

const (
	KindAddMemory Kind = iota
	KindSearchMemories
	KindGetTime
	KindWebSearch
	KindFetchURL
)

func (k Kind) String() string {
	switch k {
	case KindAddMemory:
		return "add_memory"
	case KindSearchMemories:
		return "search_memories"
	case KindGetTime:
		return "get_time"
	case KindWebSearch:
		return "web_search"
	case KindFetchURL:
		return "fetch_url"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// kindByName maps definition names to kinds.
var kindByName = map[string]Kind{
	"add_memory":      KindAddMemory,
	"search_memories": KindSearchMemories,
	"get_time":        KindGetTime,
	"web_search":      KindWebSearch,
	"fetch_url":       KindFetchURL,
}

// UnsupportedToolError reports a definition whose name matches no
// built-in kind. Index is the definition's position in the request.
type UnsupportedToolError struct {
	Index int
	Name  string
}

func (e *UnsupportedToolError) Error() string {
	return fmt.Sprintf("tool definition %d: unsupported tool %q", e.Index, e.Name)
}

// RunContext carries per-run identity into tool executors.
type RunContext struct {
	// UserID scopes memory operations. Empty means the run is
	// anonymous and memory tools respond with guidance instead of
	// touching the store.
	UserID string

	// RequestID correlates tool activity with the originating request
	// in logs.
	RequestID string

	// SearchFreshness biases web searches toward recent results when
	// set. Values follow the Brave freshness codes ("pd", "pw", "pm").
	SearchFreshness string
}

// Tool is a compiled, dispatchable tool: a definition bound to its
// argument validator and executor.
type Tool struct {
	Kind       Kind
	Definition toolschema.Definition

	validator *toolschema.Validator
	run       executor
}

type executor func(ctx context.Context, rc RunContext, args map[string]any) string

// Execute validates args against the tool's schema and runs it. A
// validation error is returned to the caller and should abort the run;
// executor-level failures are reported in the returned text so the
// model can relay them conversationally.
func (t *Tool) Execute(ctx context.Context, rc RunContext, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := t.validator.Check(args); err != nil {
		return "", err
	}
	return t.run(ctx, rc, args), nil
}

// Spec returns the tool description sent to the model provider.
func (t *Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Definition.Name,
		Description: t.Definition.Description,
		InputSchema: t.Definition.WireSchema(),
	}
}

// Specs converts a tool list to provider specs.
func Specs(list []*Tool) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(list))
	for _, t := range list {
		specs = append(specs, t.Spec())
	}
	return specs
}

// Registry builds dispatchable tools from definitions, binding each
// kind to the backend it needs.
type Registry struct {
	store    *memory.Client
	writer   *memory.Writer
	searcher *search.Manager
	fetcher  *fetch.Fetcher
	logger   *slog.Logger
}

// NewRegistry creates a registry. Backends may be nil; tools that need
// a missing backend respond with a capability message instead of
// failing the run.
func NewRegistry(store *memory.Client, writer *memory.Writer, searcher *search.Manager, fetcher *fetch.Fetcher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    store,
		writer:   writer,
		searcher: searcher,
		fetcher:  fetcher,
		logger:   logger.With("component", "tools"),
	}
}

// Build compiles definitions into dispatchable tools. It fails on the
// first definition whose name matches no kind or whose schema does not
// compile, so a bad request never reaches the model.
func (r *Registry) Build(defs []toolschema.Definition) ([]*Tool, error) {
	list := make([]*Tool, 0, len(defs))
	for i, def := range defs {
		kind, ok := kindByName[def.Name]
		if !ok {
			return nil, &UnsupportedToolError{Index: i, Name: def.Name}
		}
		v, err := toolschema.Compile(def)
		if err != nil {
			return nil, err
		}
		list = append(list, &Tool{
			Kind:       kind,
			Definition: def,
			validator:  v,
			run:        r.executorFor(kind),
		})
	}
	return list, nil
}

// Defaults returns the built-in tool set. Memory and time tools are
// always present; search and fetch appear only when their backends are
// configured.
func (r *Registry) Defaults() []*Tool {
	return r.builtin(func(string) bool { return true })
}

// Named returns the built-in tools selected by definition name. Like
// Defaults, a selected tool whose backend is not configured is left
// out, so callers must not assume every requested name is present.
func (r *Registry) Named(names ...string) []*Tool {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	return r.builtin(func(name string) bool { return want[name] })
}

func (r *Registry) builtin(keep func(name string) bool) []*Tool {
	defs := DefaultDefinitions()
	list := make([]*Tool, 0, len(defs))
	for _, def := range defs {
		if !keep(def.Name) {
			continue
		}
		kind := kindByName[def.Name]
		switch kind {
		case KindWebSearch:
			if r.searcher == nil || !r.searcher.Configured() {
				continue
			}
		case KindFetchURL:
			if r.fetcher == nil {
				continue
			}
		}
		// Built-in definitions always compile.
		v, err := toolschema.Compile(def)
		if err != nil {
			r.logger.Error("built-in tool failed to compile", "tool", def.Name, "error", err)
			continue
		}
		list = append(list, &Tool{
			Kind:       kind,
			Definition: def,
			validator:  v,
			run:        r.executorFor(kind),
		})
	}
	return list
}
