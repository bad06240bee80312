package auth

import (
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// flattenFieldErrors turns a field-keyed error body such as
// {"username": ["taken"], "password": ["too short", "too common"]} into
// "taken too short too common". Field order follows the body.
func flattenFieldErrors(body []byte) string {
	fields := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(body, fields); err != nil {
		return ""
	}

	var parts []string
	for pair := fields.Oldest(); pair != nil; pair = pair.Next() {
		var v any
		if err := json.Unmarshal(pair.Value, &v); err != nil {
			continue
		}
		switch msg := v.(type) {
		case nil:
		case string:
			parts = append(parts, msg)
		case []any:
			for _, item := range msg {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				} else if item != nil {
					parts = append(parts, fmt.Sprint(item))
				}
			}
		default:
			parts = append(parts, fmt.Sprint(msg))
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
