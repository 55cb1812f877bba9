package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Text accepts any JSON value. Strings are kept as-is, everything else is
// kept in its compact JSON form.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return fmt.Errorf("invalid json text: %w", err)
	}
	*t = Text(buf.String())
	return nil
}

func (t Text) String() string { return string(t) }

// TextList accepts a string, a list of strings, or a list of objects with a
// name-like field.
type TextList []string

func (l *TextList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			*l = nil
		} else {
			*l = TextList{s}
		}
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		var t Text
		if err := t.UnmarshalJSON(data); err != nil {
			return err
		}
		*l = TextList{string(t)}
		return nil
	}

	out := make(TextList, 0, len(items))
	for _, item := range items {
		if label := labelOf(item); label != "" {
			out = append(out, label)
		}
	}
	*l = out
	return nil
}

func labelOf(item json.RawMessage) string {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal(item, &obj); err == nil {
		for _, key := range []string{"name", "symptom", "diagnosis", "title", "description"} {
			if v, ok := obj[key].(string); ok && v != "" {
				return v
			}
		}
	}
	var t Text
	if err := t.UnmarshalJSON(item); err == nil {
		return string(t)
	}
	return ""
}

func (l TextList) Join(sep string) string {
	return strings.Join(l, sep)
}
