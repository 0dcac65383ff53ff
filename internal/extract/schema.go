package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/topic-analysis/internal/model"
)

// Fields is a decoded reply object keyed by the reply's own field names.
type Fields map[string]any

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Schema names the four reply keys that make up a record.
type Schema struct {
	Category      string `yaml:"category" mapstructure:"category"`
	Tags          string `yaml:"tags" mapstructure:"tags"`
	Description   string `yaml:"description" mapstructure:"description"`
	RelatedMemory string `yaml:"related_memory" mapstructure:"related_memory"`
}

// DefaultSchema returns the English reply keys.
func DefaultSchema() Schema {
	return Schema{
		Category:      "category",
		Tags:          "tags",
		Description:   "description",
		RelatedMemory: "related_memory",
	}
}

// WithDefaults fills blank keys from DefaultSchema.
func (s Schema) WithDefaults() Schema {
	d := DefaultSchema()
	if s.Category == "" {
		s.Category = d.Category
	}
	if s.Tags == "" {
		s.Tags = d.Tags
	}
	if s.Description == "" {
		s.Description = d.Description
	}
	if s.RelatedMemory == "" {
		s.RelatedMemory = d.RelatedMemory
	}
	return s
}

// Required returns the reply keys in schema order.
func (s Schema) Required() []string {
	return []string{s.Category, s.Tags, s.Description, s.RelatedMemory}
}

// Validate reports the required keys absent from fields, in schema order.
// An empty result means the record is valid.
func (s Schema) Validate(fields Fields) []string {
	var missing []string
	for _, key := range s.Required() {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// SchemaError reports a reply object that does not satisfy the schema.
type SchemaError struct {
	Missing []string
	Invalid []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	return "extract: schema: " + strings.Join(parts, "; ")
}

// Decode validates fields and converts them to an Analysis.
func (s Schema) Decode(fields Fields) (model.Analysis, error) {
	if missing := s.Validate(fields); len(missing) > 0 {
		return model.Analysis{}, &SchemaError{Missing: missing}
	}

	var (
		out     model.Analysis
		invalid []string
		ok      bool
	)
	if out.Category, ok = fields[s.Category].(string); !ok {
		invalid = append(invalid, s.Category)
	}
	if out.Tags, ok = stringList(fields[s.Tags]); !ok {
		invalid = append(invalid, s.Tags)
	}
	if out.Description, ok = fields[s.Description].(string); !ok {
		invalid = append(invalid, s.Description)
	}
	if out.RelatedMemory, ok = fields[s.RelatedMemory].(string); !ok {
		invalid = append(invalid, s.RelatedMemory)
	}
	if len(invalid) > 0 {
		return model.Analysis{}, &SchemaError{Invalid: invalid}
	}

	out.RelatedMemory = collapseSpace(out.RelatedMemory)
	return out, nil
}

func stringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

var spaceRun = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// String renders the schema keys for prompts and logs.
func (s Schema) String() string {
	return fmt.Sprintf("%q, %q, %q, %q", s.Category, s.Tags, s.Description, s.RelatedMemory)
}
