package corpus

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/topic-analysis/internal/model"
)

// Keys of the JSON envelope some user turns are wrapped in.
const (
	userInputKey  = "[用户输入]"
	backgroundKey = "[聊天提示信息]"
)

// FormatConversation renders the turns as one "[Role]: text" line each.
// Assistant turns lose a leading "[...]" tag. User turns that are a JSON
// envelope are unpacked into [User] and, when present, [Background] lines.
func FormatConversation(msgs []model.Message) string {
	roleTitle := cases.Title(language.Und)
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleAssistant:
			lines = append(lines, "[Assistant]: "+stripTag(m.Content))
		case model.RoleUser:
			lines = append(lines, userLines(m.Content)...)
		default:
			lines = append(lines, "["+roleTitle.String(m.Role)+"]: "+m.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// stripTag drops a leading "[...]" label such as an emotion tag.
func stripTag(content string) string {
	if !strings.HasPrefix(content, "[") {
		return content
	}
	end := strings.IndexByte(content, ']')
	if end <= 0 {
		return content
	}
	return strings.TrimSpace(content[end+1:])
}

func userLines(content string) []string {
	var envelope any
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return []string{"[User]: " + content}
	}
	fields, ok := envelope.(map[string]any)
	if !ok {
		return []string{"[User]: " + content}
	}

	var lines []string
	if v, ok := fields[userInputKey]; ok {
		lines = append(lines, "[User]: "+contentString(v))
	}
	if v, ok := fields[backgroundKey].(string); ok && strings.TrimSpace(v) != "" {
		lines = append(lines, "[Background]: "+v)
	}
	return lines
}
