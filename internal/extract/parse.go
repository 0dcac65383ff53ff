package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Tier is one strategy in the repair ladder.
type Tier struct {
	Name  string
	Parse func(text string) (Fields, bool)
}

// Tier names.
const (
	TierStrict = "strict"
	TierQuotes = "quotes"
	TierRepair = "repair"
	TierFields = "fields"
)

// Parser tries its tiers in order; the first success wins.
type Parser struct {
	tiers []Tier
}

// ParserOption customizes NewParser.
type ParserOption func(*parserOptions)

type parserOptions struct {
	syntaxRepair bool
}

// WithSyntaxRepair inserts a jsonrepair tier between quote normalization and
// field recovery.
func WithSyntaxRepair(enabled bool) ParserOption {
	return func(o *parserOptions) { o.syntaxRepair = enabled }
}

// NewParser builds the default ladder: strict decode, quote normalization,
// then field-level regex recovery for schema.
func NewParser(schema Schema, opts ...ParserOption) *Parser {
	var o parserOptions
	for _, opt := range opts {
		opt(&o)
	}

	tiers := []Tier{
		{Name: TierStrict, Parse: parseStrict},
		{Name: TierQuotes, Parse: parseNormalizedQuotes},
	}
	if o.syntaxRepair {
		tiers = append(tiers, Tier{Name: TierRepair, Parse: parseRepaired})
	}
	tiers = append(tiers, Tier{Name: TierFields, Parse: fieldRecovery(schema)})

	return &Parser{tiers: tiers}
}

// NewParserWithTiers builds a parser from an explicit ladder.
func NewParserWithTiers(tiers ...Tier) *Parser {
	return &Parser{tiers: tiers}
}

// Parse returns the fields recovered from text and the name of the tier that
// recovered them. ok is false when every tier failed.
func (p *Parser) Parse(text string) (fields Fields, tier string, ok bool) {
	if strings.TrimSpace(text) == "" {
		return nil, "", false
	}
	for _, t := range p.tiers {
		if f, ok := t.Parse(text); ok {
			return f, t.Name, true
		}
	}
	return nil, "", false
}

func parseStrict(text string) (Fields, bool) {
	var f Fields
	if err := json.Unmarshal([]byte(text), &f); err != nil || f == nil {
		return nil, false
	}
	return f, true
}

var quoteReplacer = strings.NewReplacer(
	"\u201c", `"`,
	"\u201d", `"`,
	"\u201e", `"`,
	"\u2033", `"`,
	"\u2018", "'",
	"\u2019", "'",
	"\u201a", "'",
	"\u2032", "'",
)

func parseNormalizedQuotes(text string) (Fields, bool) {
	return parseStrict(quoteReplacer.Replace(text))
}

func parseRepaired(text string) (Fields, bool) {
	repaired, err := jsonrepair.JSONRepair(quoteReplacer.Replace(text))
	if err != nil {
		return nil, false
	}
	return parseStrict(repaired)
}

var quotedString = regexp.MustCompile(`"([^"]*)"`)

// fieldRecovery searches for each schema field independently. It succeeds
// only when all four fields match.
func fieldRecovery(schema Schema) func(string) (Fields, bool) {
	key := func(k string) string { return `"` + regexp.QuoteMeta(k) + `"\s*:\s*` }

	category := regexp.MustCompile(key(schema.Category) + `"([^"]*)"`)
	tags := regexp.MustCompile(`(?s)` + key(schema.Tags) + `\[(.*?)\]`)
	description := regexp.MustCompile(key(schema.Description) + `"([^"]*)"`)
	memory := regexp.MustCompile(`(?s)` + key(schema.RelatedMemory) + `"((?:[^"\\]|\\.)*)"`)

	return func(text string) (Fields, bool) {
		f := Fields{}

		if m := category.FindStringSubmatch(text); m != nil {
			f[schema.Category] = m[1]
		}
		if m := tags.FindStringSubmatch(text); m != nil {
			list := []string{}
			for _, t := range quotedString.FindAllStringSubmatch(m[1], -1) {
				list = append(list, t[1])
			}
			f[schema.Tags] = list
		}
		if m := description.FindStringSubmatch(text); m != nil {
			f[schema.Description] = m[1]
		}
		if m := memory.FindStringSubmatch(text); m != nil {
			f[schema.RelatedMemory] = collapseSpace(m[1])
		}

		if len(schema.Validate(f)) > 0 {
			return nil, false
		}
		return f, true
	}
}
