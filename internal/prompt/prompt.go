// Package prompt renders the analysis prompt for one conversation.
package prompt

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/topic-analysis/internal/corpus"
	"github.com/sells-group/topic-analysis/internal/extract"
	"github.com/sells-group/topic-analysis/internal/model"
)

// Placeholders recognised in a template.
const (
	PlaceholderSystem       = "{system_content}"
	PlaceholderConversation = "{conversation}"
	PlaceholderFields       = "{fields}"
	PlaceholderCategory     = "{category_field}"
	PlaceholderTags         = "{tags_field}"
	PlaceholderDescription  = "{description_field}"
	PlaceholderMemory       = "{memory_field}"
)

// DefaultTemplate asks for the four-field topic record.
const DefaultTemplate = `You are analysing a conversation between a user and an AI companion.

## Companion setup
{system_content}

## Conversation
{conversation}

Identify the main topic the user talks about and reply with a single JSON
object with exactly these keys: {fields}.

- "{category_field}": one short label for the topic category
- "{tags_field}": an array of 2 to 5 short topic tags
- "{description_field}": one or two sentences describing what was discussed
- "{memory_field}": any personal memory or past experience the user shares, or an empty string

Reply with the JSON object only.`

// File is the YAML shape of a template file. Fields, when set, override the
// reply keys so a template written in another language can use its own.
type File struct {
	Template string         `yaml:"template"`
	Fields   extract.Schema `yaml:"fields"`
}

// LoadFile reads a template file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "prompt: read template %s", path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "prompt: parse template %s", path)
	}
	if strings.TrimSpace(f.Template) == "" {
		return nil, eris.Errorf("prompt: template %s is empty", path)
	}
	return &f, nil
}

// Builder renders prompts from a template and the reply schema.
type Builder struct {
	template string
	schema   extract.Schema
}

// NewBuilder validates the template. An empty template selects DefaultTemplate.
func NewBuilder(template string, schema extract.Schema) (*Builder, error) {
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate
	}
	if !strings.Contains(template, PlaceholderConversation) {
		return nil, eris.Errorf("prompt: template has no %s placeholder", PlaceholderConversation)
	}
	return &Builder{template: template, schema: schema.WithDefaults()}, nil
}

// Build renders the prompt for item.
func (b *Builder) Build(item model.Item) string {
	quoted := make([]string, 0, 4)
	for _, k := range b.schema.Required() {
		quoted = append(quoted, `"`+k+`"`)
	}

	r := strings.NewReplacer(
		PlaceholderSystem, item.Conversation.SystemContent,
		PlaceholderConversation, corpus.FormatConversation(item.Conversation.Messages),
		PlaceholderFields, strings.Join(quoted, ", "),
		PlaceholderCategory, b.schema.Category,
		PlaceholderTags, b.schema.Tags,
		PlaceholderDescription, b.schema.Description,
		PlaceholderMemory, b.schema.RelatedMemory,
	)
	return r.Replace(b.template)
}
