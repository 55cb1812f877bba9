package llm

import (
	"bytes"
	"encoding/json"
	"reflect"
	"regexp"
	"strings"
)

var (
	fencedObjectPattern  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(\\{.*\\})\\s*```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON returns the JSON object that is either the whole reply or the
// body of a markdown fence, tolerating // comments and trailing commas. An
// object embedded in prose is not extracted. It returns "" when none is found.
func ExtractJSON(content string) string {
	var raw string
	if trimmed := strings.TrimSpace(content); strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		raw = trimmed
	} else if m := fencedObjectPattern.FindStringSubmatch(content); len(m) > 1 {
		raw = m[1]
	}
	if raw == "" {
		return ""
	}

	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString, escaped := false, false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}

// Decoded is the tagged result of reading structured data from model output.
// When OK is false, Value is the zero value and Raw holds the text unchanged.
// An object that sets none of T's fields, or only its confidence, is not OK.
type Decoded[T any] struct {
	Value T
	Raw   string
	OK    bool
}

func Decode[T any](content string) Decoded[T] {
	d := Decoded[T]{Raw: content}

	raw := ExtractJSON(content)
	if raw == "" {
		return d
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return d
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil || !fillsSchema[T](fields) {
		return d
	}

	d.Value = v
	d.OK = true
	return d
}

func fillsSchema[T any](fields map[string]json.RawMessage) bool {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return len(fields) > 0
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-", "confidence":
			continue
		case "":
			name = f.Name
		}
		if v, ok := fields[name]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return true
		}
	}
	return false
}
