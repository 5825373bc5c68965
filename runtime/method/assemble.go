package method

import (
	"strings"

	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/tools"
)

// DefaultPreamble opens the system instructions of every assembled request.
const DefaultPreamble = `You implement a declared service method. The user message holds the method
invocation as JSON: the operation, its parameters with their descriptions and
argument values, and the expected result. Use the provided memory and tools
when they help.`

type (
	// Assembler builds prompt contexts from bound descriptors.
	Assembler struct {
		preamble string
	}

	// AssemblerOption configures an Assembler.
	AssemblerOption func(*Assembler)
)

// WithPreamble replaces the opening of the system instructions.
func WithPreamble(p string) AssemblerOption {
	return func(a *Assembler) { a.preamble = p }
}

// NewAssembler returns an Assembler.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{preamble: DefaultPreamble}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Build assembles the prompt context for d. It never blocks; it fails only
// when the descriptor is malformed (unresolvable result shape or arguments
// that cannot be serialized), which is a configuration error.
func (a *Assembler) Build(d Descriptor, memory map[string]string, defs []tools.Definition, history []model.Message) (*model.PromptContext, error) {
	invocation, err := d.Invocation()
	if err != nil {
		return nil, err
	}
	return model.NewPromptContext(model.Prompt{
		SystemInstructions:  a.instructions(d),
		MethodInvocation:    invocation,
		MethodName:          d.Name,
		Memory:              memory,
		AvailableTools:      defs,
		ConversationHistory: history,
	}), nil
}

func (a *Assembler) instructions(d Descriptor) string {
	var b strings.Builder
	b.WriteString(a.preamble)
	b.WriteString("\n\n")
	if _, text := d.Result.New().(*string); text {
		b.WriteString("Answer with plain text only.")
	} else {
		b.WriteString("Answer with a single JSON value of type ")
		b.WriteString(d.Result.Name)
		b.WriteString(" that validates against the result schema. Do not wrap it in prose or code fences.")
	}
	if d.ResponseDescription != "" {
		b.WriteString("\nExpected result: ")
		b.WriteString(d.ResponseDescription)
	}
	return b.String()
}
