package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSONArray decodes the first JSON array embedded in a model reply,
// tolerating surrounding prose and code fences.
func extractJSONArray(text string, dst any) error {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON array in reply")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), dst); err != nil {
		return fmt.Errorf("decode JSON array: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
