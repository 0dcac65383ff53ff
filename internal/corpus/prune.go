package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/topic-analysis/internal/fileutil"
	"github.com/sells-group/topic-analysis/internal/model"
)

// ExtractSections keeps only the "# <heading> {...}" blocks of content for
// the given headings, in heading order, one per line. Headings that are not
// found are skipped.
func ExtractSections(content string, headings []string) string {
	var parts []string
	for _, h := range headings {
		re := regexp.MustCompile(`(?s)(# ` + regexp.QuoteMeta(h) + `\s*\{[^}]*\})`)
		if m := re.FindStringSubmatch(content); m != nil {
			parts = append(parts, m[1])
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// PruneFile rewrites the system messages of a conversation file so they hold
// only the given sections. Other messages are written back unchanged. It
// reports whether the file was modified.
func PruneFile(path string, headings []string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, eris.Wrapf(err, "corpus: read %s", path)
	}

	var messages []json.RawMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return false, ErrNotConversation
		}
		return false, eris.Wrapf(err, "corpus: decode %s", path)
	}

	modified := false
	for i, raw := range messages {
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if role, _ := msg["role"].(string); role != model.RoleSystem {
			continue
		}

		original, _ := msg["content"].(string)
		pruned := ExtractSections(original, headings)
		if pruned == original {
			continue
		}

		msg["content"] = pruned
		encoded, err := fileutil.MarshalJSON(msg)
		if err != nil {
			return false, err
		}
		messages[i] = json.RawMessage(bytes.TrimSpace(encoded))
		modified = true
	}

	if !modified {
		return false, nil
	}
	if err := fileutil.WriteJSONAtomic(path, messages); err != nil {
		return false, eris.Wrapf(err, "corpus: write %s", path)
	}
	return true, nil
}
