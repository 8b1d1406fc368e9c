package stmt

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingIdentifier is a colon in code that is not followed by a name.
	ErrMissingIdentifier = errors.New("missing identifier after ':'")
	// ErrUnknownIdentifier is a placeholder without an input binding.
	ErrUnknownIdentifier = errors.New("unknown identifier")
)

type UnknownIdentifierError struct {
	Name string
}

func (e *UnknownIdentifierError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownIdentifier, e.Name)
}

func (e *UnknownIdentifierError) Is(target error) bool {
	return target == ErrUnknownIdentifier
}

// SubstituteFunc returns the replacement for the index-th (1-based)
// placeholder, which refers to the input binding in.
type SubstituteFunc func(index int, name string, in InputBinding) string

// Rewrite replaces every :name placeholder outside string literals and
// comments with whatever substitute returns, left to right. The rewritten text
// is stored back into the statement and returned. On error the statement is
// left untouched. A statement without input bindings is returned as is.
func (s *Statement) Rewrite(substitute SubstituteFunc) (string, error) {
	if len(s.inputs) == 0 {
		return s.text, nil
	}

	var (
		b     strings.Builder
		last  int
		index int
	)
	b.Grow(len(s.text))

	err := scan(s.text, func(start, end int, name string) error {
		in, ok := s.inputs[name]
		if !ok {
			return &UnknownIdentifierError{Name: name}
		}
		index++
		b.WriteString(s.text[last:start])
		b.WriteString(substitute(index, name, in))
		last = end
		return nil
	})
	if err != nil {
		return "", err
	}
	b.WriteString(s.text[last:])

	s.text = b.String()
	return s.text, nil
}

// Placeholders lists the placeholder names found in text in order of
// appearance, repeats included.
func Placeholders(text string) ([]string, error) {
	var names []string
	err := scan(text, func(_, _ int, name string) error {
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

type scanState int

const (
	stateCode scanState = iota + 1
	stateString
	stateLineComment
	stateBlockComment
)

// scan walks text once and calls found with the byte range [start, end) of
// every placeholder, colon included. Text may end in any state.
func scan(text string, found func(start, end int, name string) error) error {
	state := stateCode

	for i := 0; i < len(text); {
		c := text[i]
		next := byte(0)
		if i+1 < len(text) {
			next = text[i+1]
		}

		switch state {
		case stateString:
			switch c {
			case '\\':
				i += 2
				continue
			case '\'':
				state = stateCode
			}
			i++
		case stateLineComment:
			if c == '\n' {
				state = stateCode
			}
			i++
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateCode
				i += 2
				continue
			}
			i++
		default:
			switch {
			case c == '\'':
				state = stateString
				i++
			case c == '-' && next == '-':
				state = stateLineComment
				i += 2
			case c == '/' && next == '*':
				state = stateBlockComment
				i += 2
			case c == ':' && next == ':':
				i += 2
			case c == ':':
				end := i + 1
				if end < len(text) && isIdentStart(text[end]) {
					for end++; end < len(text) && isIdentChar(text[end]); end++ {
					}
				}
				if end == i+1 {
					return fmt.Errorf("%w at offset %d", ErrMissingIdentifier, i)
				}
				if err := found(i, end, text[i+1:end]); err != nil {
					return err
				}
				i = end
			default:
				i++
			}
		}
	}

	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || ('0' <= c && c <= '9')
}
