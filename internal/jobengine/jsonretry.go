package jobengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rakunlabs/shinkai/internal/llm"
)

// maxJSONRetries is the default re-prompt budget for a provider that keeps
// returning malformed JSON, used when a caller doesn't supply its own
// max_iterations cap (spec §4.7 "bounded max_iterations retry").
const maxJSONRetries = 3

// ChatJSON prompts the provider for a JSON object matching into, tolerating
// key-casing drift (snake_case/camelCase/kebab-case) from the model before
// giving up and re-prompting with the parse error appended (spec §4.7
// "JSON-retry prompting"). maxRetries caps the number of attempts; zero or
// negative falls back to maxJSONRetries.
func ChatJSON(ctx context.Context, p llm.Provider, model string, messages []llm.Message, into any, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = maxJSONRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		attemptMessages := messages
		if lastErr != nil {
			attemptMessages = append(append([]llm.Message{}, messages...), llm.Message{
				Role:    "user",
				Content: fmt.Sprintf("Your previous reply was not valid JSON for the requested shape: %v. Reply with JSON only.", lastErr),
			})
		}

		resp, err := p.Chat(ctx, model, attemptMessages, nil)
		if err != nil {
			return fmt.Errorf("jobengine: chat-json attempt %d: %w", attempt+1, err)
		}

		raw := extractJSONObject(resp.Content)
		normalized := normalizeJSONKeys(raw)
		if err := json.Unmarshal([]byte(normalized), into); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("jobengine: chat-json: giving up after %d attempts: %w", maxRetries, lastErr)
}

// extractJSONObject trims surrounding prose/code fences a chat model
// commonly wraps its JSON output in.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	end := strings.LastIndexAny(s, "}]")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// normalizeJSONKeys rewrites snake_case and kebab-case object keys to the
// camelCase Unmarshal expects, so minor model formatting drift doesn't
// trigger a retry round-trip.
func normalizeJSONKeys(raw string) string {
	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return raw
	}
	normalized := normalizeKeysValue(generic)
	out, err := json.Marshal(normalized)
	if err != nil {
		return raw
	}
	return string(out)
}

func normalizeKeysValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[camelCaseKey(k)] = normalizeKeysValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeKeysValue(inner)
		}
		return out
	default:
		return v
	}
}

func camelCaseKey(k string) string {
	sep := func(r rune) bool { return r == '_' || r == '-' }
	fields := strings.FieldsFunc(k, sep)
	if len(fields) <= 1 {
		return k
	}
	var sb strings.Builder
	sb.WriteString(strings.ToLower(fields[0]))
	for _, f := range fields[1:] {
		sb.WriteString(strings.ToUpper(f[:1]))
		sb.WriteString(strings.ToLower(f[1:]))
	}
	return sb.String()
}
