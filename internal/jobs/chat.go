package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/reasoning"
)

const chatSystemPreamble = "You are a roofing-design assistant. Use the parameters below when answering; " +
	"ask clarifying questions only when necessary."

// Chat answers a follow-up question about a processed enquiry. The extracted
// parameters and raw text are folded into the system context so the model
// grounds its answer in the job's documents.
func (o *Orchestrator) Chat(ctx context.Context, message string, params map[string]string, extractedText string) (string, error) {
	if len(params) == 0 {
		return "Please process files first to extract parameters.", nil
	}

	var sb strings.Builder
	sb.WriteString(chatSystemPreamble)
	sb.WriteString("\n\n")

	seen := make(map[string]bool, len(params))
	for _, name := range ParameterNames {
		if value, ok := params[name]; ok {
			fmt.Fprintf(&sb, "• **%s**: %s\n", name, value)
			seen[name] = true
		}
	}
	extras := make([]string, 0, len(params))
	for name := range params {
		if !seen[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		fmt.Fprintf(&sb, "• **%s**: %s\n", name, params[name])
	}

	sb.WriteString("\nRaw extracted text from documents:\n")
	sb.WriteString(extractedText)

	return o.params.svc.Generate(ctx, o.params.model, []reasoning.Part{
		reasoning.TextPart(sb.String()),
		reasoning.TextPart(message),
	})
}
