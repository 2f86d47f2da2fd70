package translation

import (
	_ "embed"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// PlansPlaceholder marks where the agent's plan list goes in a template.
const PlansPlaceholder = "##AGENT_PLANS##"

//go:embed prompt_template.txt
var defaultTemplate string

// Template is the session-priming prompt.
type Template struct {
	text string
}

// DefaultTemplate returns the built-in template.
func DefaultTemplate() *Template {
	return &Template{text: defaultTemplate}
}

// NewTemplate validates text as a template.
func NewTemplate(text string) (*Template, error) {
	if !strings.Contains(text, PlansPlaceholder) {
		return nil, errors.Errorf("prompt template has no %s placeholder", PlansPlaceholder)
	}
	return &Template{text: text}, nil
}

// LoadTemplate reads a template file; an empty path yields the default.
func LoadTemplate(path string) (*Template, error) {
	if path == "" {
		return DefaultTemplate(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read prompt template")
	}
	tmpl, err := NewTemplate(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "template %s", path)
	}
	return tmpl, nil
}

// Render substitutes the plan list extracted from the agent's reply.
func (t *Template) Render(planReply string) string {
	return strings.ReplaceAll(t.text, PlansPlaceholder, ExtractPlans(planReply))
}

// ExtractPlans returns the text between the first and last double quote of
// a reply such as plans("takeOff up(N) land"). Replies with fewer than two
// quotes are returned trimmed.
func ExtractPlans(reply string) string {
	first := strings.IndexByte(reply, '"')
	last := strings.LastIndexByte(reply, '"')
	if first < 0 || last <= first {
		return strings.TrimSpace(reply)
	}
	return reply[first+1 : last]
}
