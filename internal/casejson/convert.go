package casejson

import (
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/casesync/internal/vectorclock"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

// Next returns the next case of the array, or io.EOF when done.
func (p *Parser) Next() (*wire.Case, error) {
	v, err := p.NextValue()
	if err != nil {
		return nil, err
	}
	return ToCase(v)
}

// ToCase converts one parsed element into a typed case. Type mismatches
// are validation errors; unknown keys are ignored.
func ToCase(v any) (*wire.Case, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, syntaxErr("case must be an object")
	}

	c := &wire.Case{}
	var err error

	if c.ID, err = stringField(m, "id"); err != nil {
		return nil, err
	}
	if c.CaseIDs, err = stringField(m, "caseids"); err != nil {
		return nil, err
	}
	if c.Label, err = stringField(m, "label"); err != nil {
		return nil, err
	}
	if c.Deleted, err = boolField(m, "deleted"); err != nil {
		return nil, err
	}
	if c.Verified, err = boolField(m, "verified"); err != nil {
		return nil, err
	}

	switch q := m["level-1"].(type) {
	case nil:
	case string:
		c.Questionnaire = q
	case map[string]any:
		b, err := json.Marshal(q)
		if err != nil {
			return nil, syntaxErr("level-1: %v", err)
		}
		c.Questionnaire = string(b)
	default:
		return nil, syntaxErr("level-1 must be a string or an object")
	}

	if raw, ok := m["data"]; ok && raw != nil {
		lines, ok := raw.([]any)
		if !ok {
			return nil, syntaxErr("data must be an array of strings")
		}
		for _, l := range lines {
			s, ok := l.(string)
			if !ok {
				return nil, syntaxErr("data must be an array of strings")
			}
			c.Data = append(c.Data, s)
		}
	}

	if raw, ok := m["partialSave"]; ok && raw != nil {
		ps, ok := raw.(map[string]any)
		if !ok {
			return nil, syntaxErr("partialSave must be an object")
		}
		c.PartialSave = &wire.PartialSave{}
		if c.PartialSave.Mode, err = stringField(ps, "mode"); err != nil {
			return nil, err
		}
		if f, ok := ps["field"]; ok && f != nil {
			ref, err := toFieldRef(f)
			if err != nil {
				return nil, err
			}
			c.PartialSave.Field = ref
		}
	}

	if c.Clock, err = toClock(m["clock"]); err != nil {
		return nil, err
	}

	if raw, ok := m["notes"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return nil, syntaxErr("notes must be an array")
		}
		for _, n := range list {
			note, err := toNote(n)
			if err != nil {
				return nil, err
			}
			c.Notes = append(c.Notes, *note)
		}
	}

	return c, nil
}

func stringField(m map[string]any, key string) (string, error) {
	switch v := m[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", syntaxErr("%s must be a string", key)
	}
}

func intField(m map[string]any, key string) (int, error) {
	switch v := m[key].(type) {
	case nil:
		return 0, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, syntaxErr("%s must be an integer", key)
		}
		return int(n), nil
	default:
		return 0, syntaxErr("%s must be an integer", key)
	}
}

// boolField accepts true/false and the 0/1 integers some devices send.
func boolField(m map[string]any, key string) (bool, error) {
	switch v := m[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case json.Number:
		return v.String() == "1", nil
	default:
		return false, syntaxErr("%s must be a boolean", key)
	}
}

func toFieldRef(v any) (*wire.FieldRef, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, syntaxErr("field must be an object")
	}
	ref := &wire.FieldRef{}
	var err error
	if ref.Name, err = stringField(m, "name"); err != nil {
		return nil, err
	}
	if ref.LevelKey, err = stringField(m, "levelKey"); err != nil {
		return nil, err
	}
	if ref.RecordOccurrence, err = intField(m, "recordOccurrence"); err != nil {
		return nil, err
	}
	if ref.ItemOccurrence, err = intField(m, "itemOccurrence"); err != nil {
		return nil, err
	}
	if ref.SubitemOccurrence, err = intField(m, "subitemOccurrence"); err != nil {
		return nil, err
	}
	return ref, nil
}

func toNote(v any) (*wire.Note, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, syntaxErr("note must be an object")
	}
	n := &wire.Note{}
	var err error
	if n.Content, err = stringField(m, "content"); err != nil {
		return nil, err
	}
	if n.OperatorID, err = stringField(m, "operatorId"); err != nil {
		return nil, err
	}
	ts, err := stringField(m, "modifiedTime")
	if err != nil {
		return nil, err
	}
	if ts != "" {
		if n.ModifiedTime, err = parseTime(ts); err != nil {
			return nil, err
		}
	}
	if f, ok := m["field"]; ok && f != nil {
		ref, err := toFieldRef(f)
		if err != nil {
			return nil, err
		}
		n.Field = *ref
	}
	return n, nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, syntaxErr("modifiedTime %q is not a timestamp", s)
}

// toClock re-encodes the parsed value and lets the clock decoder accept
// either of its wire forms.
func toClock(v any) (vectorclock.Clock, error) {
	if v == nil {
		return vectorclock.Clock{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, syntaxErr("clock: %v", err)
	}
	var c vectorclock.Clock
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, syntaxErr("clock: %v", err)
	}
	return c, nil
}
