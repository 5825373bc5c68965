package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/ahammer/shimmer/runtime/tools"
)

type (
	// PromptContext is the immutable request handed to adapters. It is built
	// once per invocation by the method assembler and transformed by
	// interceptors through the With* methods, each of which returns a copy.
	// Accessors return copies so callers cannot mutate a context in place.
	PromptContext struct {
		system     string
		invocation string
		method     string
		memory     map[string]string
		properties map[string]any
		tools      []tools.Definition
		history    []Message
	}

	// Prompt lists the fields of a PromptContext. It is the input of
	// NewPromptContext and the output of PromptContext.Prompt.
	Prompt struct {
		SystemInstructions  string
		MethodInvocation    string
		MethodName          string
		Memory              map[string]string
		Properties          map[string]any
		AvailableTools      []tools.Definition
		ConversationHistory []Message
	}

	// Message is a single conversation turn carried in the prompt history.
	Message struct {
		Role        Role           `json:"role"`
		Content     string         `json:"content,omitempty"`
		ToolCalls   []tools.Call   `json:"tool_calls,omitempty"`
		ToolResults []tools.Result `json:"tool_results,omitempty"`
	}

	// Role identifies the author of a conversation message.
	Role string
)

const (
	// RoleSystem marks instructions.
	RoleSystem Role = "system"
	// RoleUser marks caller input.
	RoleUser Role = "user"
	// RoleAssistant marks backend output.
	RoleAssistant Role = "assistant"
	// RoleTool marks tool results fed back to the backend.
	RoleTool Role = "tool"
)

// NewPromptContext builds a context from p. Maps and slices are copied.
func NewPromptContext(p Prompt) *PromptContext {
	return &PromptContext{
		system:     p.SystemInstructions,
		invocation: p.MethodInvocation,
		method:     p.MethodName,
		memory:     cloneMap(p.Memory),
		properties: cloneMap(p.Properties),
		tools:      slices.Clone(p.AvailableTools),
		history:    cloneHistory(p.ConversationHistory),
	}
}

// Prompt returns a deep copy of the context fields.
func (pc *PromptContext) Prompt() Prompt {
	return Prompt{
		SystemInstructions:  pc.system,
		MethodInvocation:    pc.invocation,
		MethodName:          pc.method,
		Memory:              cloneMap(pc.memory),
		Properties:          cloneMap(pc.properties),
		AvailableTools:      slices.Clone(pc.tools),
		ConversationHistory: cloneHistory(pc.history),
	}
}

// SystemInstructions returns the system prompt.
func (pc *PromptContext) SystemInstructions() string { return pc.system }

// MethodInvocation returns the serialized method descriptor and arguments.
func (pc *PromptContext) MethodInvocation() string { return pc.invocation }

// MethodName returns the name of the declared method being invoked.
func (pc *PromptContext) MethodName() string { return pc.method }

// Memory returns a copy of the memory snapshot.
func (pc *PromptContext) Memory() map[string]string { return cloneMap(pc.memory) }

// MemoryValue returns the memory entry stored under key.
func (pc *PromptContext) MemoryValue(key string) (string, bool) {
	v, ok := pc.memory[key]
	return v, ok
}

// Properties returns a copy of the free-form properties.
func (pc *PromptContext) Properties() map[string]any { return cloneMap(pc.properties) }

// Property returns the property stored under key.
func (pc *PromptContext) Property(key string) (any, bool) {
	v, ok := pc.properties[key]
	return v, ok
}

// Tools returns a copy of the tool definitions advertised with the request.
func (pc *PromptContext) Tools() []tools.Definition { return slices.Clone(pc.tools) }

// History returns a copy of the conversation history.
func (pc *PromptContext) History() []Message { return cloneHistory(pc.history) }

// WithSystemInstructions returns a copy with the system prompt replaced.
func (pc *PromptContext) WithSystemInstructions(s string) *PromptContext {
	c := pc.clone()
	c.system = s
	return c
}

// WithMemory returns a copy whose memory snapshot is replaced by m.
func (pc *PromptContext) WithMemory(m map[string]string) *PromptContext {
	c := pc.clone()
	c.memory = cloneMap(m)
	return c
}

// WithMemoryEntry returns a copy with key set to value in memory.
func (pc *PromptContext) WithMemoryEntry(key, value string) *PromptContext {
	c := pc.clone()
	if c.memory == nil {
		c.memory = make(map[string]string, 1)
	}
	c.memory[key] = value
	return c
}

// WithProperty returns a copy with the property key set to value.
func (pc *PromptContext) WithProperty(key string, value any) *PromptContext {
	c := pc.clone()
	if c.properties == nil {
		c.properties = make(map[string]any, 1)
	}
	c.properties[key] = value
	return c
}

// WithProperties returns a copy with props merged over the existing
// properties.
func (pc *PromptContext) WithProperties(props map[string]any) *PromptContext {
	c := pc.clone()
	if c.properties == nil {
		c.properties = make(map[string]any, len(props))
	}
	maps.Copy(c.properties, props)
	return c
}

// WithTools returns a copy advertising defs in place of the current tools.
func (pc *PromptContext) WithTools(defs []tools.Definition) *PromptContext {
	c := pc.clone()
	c.tools = slices.Clone(defs)
	return c
}

// WithHistory returns a copy whose conversation history is replaced.
func (pc *PromptContext) WithHistory(history []Message) *PromptContext {
	c := pc.clone()
	c.history = cloneHistory(history)
	return c
}

// AppendHistory returns a copy with msgs appended to the history.
func (pc *PromptContext) AppendHistory(msgs ...Message) *PromptContext {
	c := pc.clone()
	c.history = append(c.history, cloneHistory(msgs)...)
	return c
}

// CacheKey returns the structural hash of the fields that determine a
// backend response: system instructions, method invocation, memory,
// conversation history and method name. Properties and advertised tools do
// not participate, so two contexts that differ only by properties share a
// key.
func (pc *PromptContext) CacheKey() string {
	mem, history := pc.memory, pc.history
	if len(mem) == 0 {
		mem = nil
	}
	if len(history) == 0 {
		history = nil
	}
	// encoding/json sorts map keys, which makes the document canonical.
	doc, err := json.Marshal(struct {
		System     string            `json:"s"`
		Invocation string            `json:"i"`
		Memory     map[string]string `json:"m"`
		History    []Message         `json:"h"`
		Method     string            `json:"n"`
	}{pc.system, pc.invocation, mem, history, pc.method})
	if err != nil {
		// Only invalid raw tool arguments fail to marshal. fmt prints maps
		// with sorted keys, so the fallback document stays canonical.
		doc = fmt.Appendf(nil, "%q\x00%q\x00%v\x00%+v\x00%q", pc.system, pc.invocation, mem, history, pc.method)
	}
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])
}

func (pc *PromptContext) clone() *PromptContext {
	return &PromptContext{
		system:     pc.system,
		invocation: pc.invocation,
		method:     pc.method,
		memory:     cloneMap(pc.memory),
		properties: cloneMap(pc.properties),
		tools:      slices.Clone(pc.tools),
		history:    cloneHistory(pc.history),
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

func cloneHistory(h []Message) []Message {
	if h == nil {
		return nil
	}
	out := make([]Message, len(h))
	for i, m := range h {
		out[i] = Message{
			Role:        m.Role,
			Content:     m.Content,
			ToolCalls:   slices.Clone(m.ToolCalls),
			ToolResults: slices.Clone(m.ToolResults),
		}
	}
	return out
}
