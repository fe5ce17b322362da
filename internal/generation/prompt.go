package generation

import (
	"strings"
	"unicode/utf8"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/providers/ai"
)

// DefaultMaxContentRunes caps the source content embedded in a prompt.
const DefaultMaxContentRunes = 24000

const systemInstruction = `You turn long-form content into a practical habit blueprint.
Respond with a single JSON object and nothing else. Fields:
- "title": short name for the blueprint
- "overview": two or three sentences summarising the source
- "habits": 1 to 12 objects with "name", "description", "cadence" and "steps" (non-empty list of short imperative steps)
- "resources": optional list of {"title", "url", "note"} mentioned in the source
- "action_plan": optional list of {"week", "focus"}
Only use ideas present in the content. If the content cannot be turned into this structure, reply with exactly ` + ai.SchemaDeclinedSentinel + `.`

// PromptBuilder turns user content into provider-ready request data.
type PromptBuilder struct {
	maxContentRunes int
}

func NewPromptBuilder(maxContentRunes int) PromptBuilder {
	if maxContentRunes <= 0 {
		maxContentRunes = DefaultMaxContentRunes
	}
	return PromptBuilder{maxContentRunes: maxContentRunes}
}

// Build returns request data with a system/user split and the flattened
// prompt for providers without role support.
func (b PromptBuilder) Build(title, content string) domain.RequestData {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.RequestData{}
	}
	if utf8.RuneCountInString(content) > b.maxContentRunes {
		content = string([]rune(content)[:b.maxContentRunes])
	}
	var user strings.Builder
	if t := strings.TrimSpace(title); t != "" {
		user.WriteString("Working title: ")
		user.WriteString(t)
		user.WriteString("\n\n")
	}
	user.WriteString("Content:\n")
	user.WriteString(content)

	segments := &domain.PromptSegments{System: systemInstruction, User: user.String()}
	return domain.RequestData{
		Prompt:         segments.System + "\n\n" + segments.User,
		PromptSegments: segments,
	}
}
