// Package casejson reads uploaded case arrays incrementally.
//
// The parser is a push-down automaton over the token stream of a JSON array:
// an explicit stack of partially built containers plus a pending-key
// register per object. Only one top-level element is materialized at a
// time, so memory is bounded by the largest case, not by the upload.
package casejson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/casesync/internal/common"
)

const maxDepth = 256

type frameKind int

const (
	objectFrame frameKind = iota
	arrayFrame
)

type frame struct {
	kind   frameKind
	object map[string]any
	array  []any
	key    string
	hasKey bool
}

// Parser yields the elements of a top-level JSON array one by one.
type Parser struct {
	dec     *json.Decoder
	stack   []*frame
	started bool
	done    bool
}

// NewParser returns a parser reading from r. Numbers are kept as
// json.Number.
func NewParser(r io.Reader) *Parser {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &Parser{dec: dec}
}

func syntaxErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrValidation, fmt.Sprintf(format, args...))
}

// NextValue returns the next array element as map[string]any, []any,
// string, json.Number, bool or nil. It returns io.EOF after the closing
// bracket, or immediately for an empty body.
func (p *Parser) NextValue() (any, error) {
	if p.done {
		return nil, io.EOF
	}

	if !p.started {
		tok, err := p.dec.Token()
		if errors.Is(err, io.EOF) {
			p.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, syntaxErr("%v", err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return nil, syntaxErr("expected array of cases")
		}
		p.started = true
	}

	for {
		tok, err := p.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, syntaxErr("unexpected end of input")
			}
			return nil, syntaxErr("%v", err)
		}

		var (
			value    any
			complete bool
		)

		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{':
				if err := p.push(&frame{kind: objectFrame, object: map[string]any{}}); err != nil {
					return nil, err
				}
				continue
			case '[':
				if err := p.push(&frame{kind: arrayFrame, array: []any{}}); err != nil {
					return nil, err
				}
				continue
			case ']':
				if len(p.stack) == 0 {
					p.done = true
					return nil, io.EOF
				}
				value, complete = p.pop().array, true
			case '}':
				value, complete = p.pop().object, true
			}
		default:
			value, complete = t, true
		}

		if !complete {
			continue
		}

		if len(p.stack) == 0 {
			return value, nil
		}
		p.attach(value)
	}
}

func (p *Parser) push(f *frame) error {
	if len(p.stack) >= maxDepth {
		return syntaxErr("nesting deeper than %d", maxDepth)
	}
	p.stack = append(p.stack, f)
	return nil
}

func (p *Parser) pop() *frame {
	f := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	return f
}

// attach stores a completed value into the container on top of the stack.
// In an object the first string seen is the key register, the next value
// is stored under it.
func (p *Parser) attach(v any) {
	top := p.stack[len(p.stack)-1]
	switch top.kind {
	case arrayFrame:
		top.array = append(top.array, v)
	case objectFrame:
		if !top.hasKey {
			// json.Decoder only yields strings in key position
			top.key, _ = v.(string)
			top.hasKey = true
			return
		}
		top.object[top.key] = v
		top.hasKey = false
	}
}
