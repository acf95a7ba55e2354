package casejson

import (
	"encoding/json"
	"sort"
	"strings"
)

// Attachment is a binary item referenced from a questionnaire.
type Attachment struct {
	Signature string
	Metadata  json.RawMessage
}

// Attachments returns every object in the questionnaire text that carries
// a "signature" string, deduplicated by signature. Object keys are visited
// in sorted order so the result is deterministic.
func Attachments(questionnaire string) ([]Attachment, error) {
	if !looksLikeObject(questionnaire) {
		return nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(questionnaire))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, syntaxErr("level-1: %v", err)
	}

	var out []Attachment
	seen := map[string]struct{}{}
	walk(root, func(obj map[string]any) {
		sig, ok := obj["signature"].(string)
		if !ok || sig == "" {
			return
		}
		if _, dup := seen[sig]; dup {
			return
		}
		seen[sig] = struct{}{}
		a := Attachment{Signature: sig}
		if md, ok := obj["metadata"]; ok && md != nil {
			if b, err := json.Marshal(md); err == nil {
				a.Metadata = b
			}
		}
		out = append(out, a)
	})
	return out, nil
}

// Signatures is Attachments without metadata.
func Signatures(questionnaire string) ([]string, error) {
	items, err := Attachments(questionnaire)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, a := range items {
		out = append(out, a.Signature)
	}
	return out, nil
}

func walk(v any, visit func(map[string]any)) {
	switch t := v.(type) {
	case map[string]any:
		visit(t)
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(t[k], visit)
		}
	case []any:
		for _, e := range t {
			walk(e, visit)
		}
	}
}

// looksLikeObject filters out legacy fixed-width payloads.
func looksLikeObject(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}'
}
