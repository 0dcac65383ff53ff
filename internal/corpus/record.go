package corpus

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/topic-analysis/internal/model"
)

// ErrNotConversation is returned for files that are not a JSON array of
// messages.
var ErrNotConversation = eris.New("corpus: not a conversation record")

// ReadRecord reads and parses one conversation file.
func ReadRecord(path string) (model.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Conversation{}, eris.Wrapf(err, "corpus: read %s", path)
	}
	return ParseRecord(data)
}

// ParseRecord extracts the system content and the user/assistant turns from
// a JSON array of {role, content} objects. The last system message wins;
// entries that are not objects or have other roles are ignored.
func ParseRecord(data []byte) (model.Conversation, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.Conversation{}, eris.Wrap(err, "corpus: decode record")
	}
	list, ok := raw.([]any)
	if !ok {
		return model.Conversation{}, ErrNotConversation
	}

	conv := model.Conversation{Messages: []model.Message{}}
	for _, item := range list {
		msg, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		content := contentString(msg["content"])

		switch role {
		case model.RoleSystem:
			conv.SystemContent = content
		case model.RoleUser, model.RoleAssistant:
			conv.Messages = append(conv.Messages, model.Message{Role: role, Content: content})
		}
	}
	return conv, nil
}

// contentString renders a message content value as text. Non-string values
// are re-encoded as JSON.
func contentString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
