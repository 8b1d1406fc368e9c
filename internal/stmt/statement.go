// Package stmt holds a single SQL command together with its bound parameters
// and rewrites :name placeholders into whatever syntax a driver expects.
//
// A Statement is not safe for concurrent use. Use one Statement per
// in-flight execution.
package stmt

import (
	"maps"
	"slices"
	"strings"
)

type InputBinding struct {
	Name  string
	Value any
	Type  TypeTag
	Size  int
}

type OutputBinding struct {
	Name string
	Type TypeTag
	Size int
}

type Statement struct {
	name    string
	text    string
	kind    Kind
	inputs  map[string]InputBinding
	outputs []OutputBinding
}

// New creates an empty statement. Pass Unknown to have the kind derived from
// the text on the first call to Classify.
func New(name string, kind Kind) *Statement {
	return &Statement{
		name:   name,
		kind:   kind,
		inputs: make(map[string]InputBinding),
	}
}

func (s *Statement) Name() string {
	return s.name
}

func (s *Statement) Text() string {
	return s.text
}

// SetText replaces the command text. Bindings are left alone.
func (s *Statement) SetText(sql string) *Statement {
	s.text = sql
	return s
}

// Kind returns the kind as currently known, without classifying.
func (s *Statement) Kind() Kind {
	return s.kind
}

// BindInput binds value to the placeholder name, replacing an earlier binding.
func (s *Statement) BindInput(name string, value any, typ TypeTag, size int) *Statement {
	if s.inputs == nil {
		s.inputs = make(map[string]InputBinding)
	}
	s.inputs[name] = InputBinding{
		Name:  name,
		Value: value,
		Type:  typ,
		Size:  size,
	}
	return s
}

// BindOutput appends an output column. Order matches the result columns and
// duplicate names are kept.
func (s *Statement) BindOutput(name string, typ TypeTag, size int) *Statement {
	s.outputs = append(s.outputs, OutputBinding{
		Name: name,
		Type: typ,
		Size: size,
	})
	return s
}

func (s *Statement) Input(name string) (InputBinding, bool) {
	in, ok := s.inputs[name]
	return in, ok
}

// NumInputs returns the number of input bindings.
func (s *Statement) NumInputs() int {
	return len(s.inputs)
}

func (s *Statement) Inputs() map[string]InputBinding {
	return maps.Clone(s.inputs)
}

func (s *Statement) Outputs() []OutputBinding {
	return slices.Clone(s.outputs)
}

// Classify returns the explicit kind if one was given. Otherwise it looks at
// the first keyword of the text: SELECT is Read, any other keyword is
// ChangeData and text that does not start with a keyword is Unknown. The
// result is remembered.
func (s *Statement) Classify() Kind {
	if s.kind != Unknown {
		return s.kind
	}
	s.kind = classify(s.text)
	return s.kind
}

func classify(text string) Kind {
	text = strings.TrimSpace(text)
	end := strings.IndexFunc(text, func(r rune) bool {
		return r > 0x7f || !isIdentChar(byte(r))
	})
	if end == -1 {
		end = len(text)
	}

	keyword := text[:end]
	if keyword == "" || !isIdentStart(keyword[0]) {
		return Unknown
	}
	if strings.EqualFold(keyword, "SELECT") {
		return Read
	}
	return ChangeData
}

// Inject replaces every occurrence of marker in the text with replacement.
// It is plain text substitution for templated SQL, not parameter binding.
func (s *Statement) Inject(marker, replacement string) *Statement {
	if marker == "" {
		return s
	}
	s.text = strings.ReplaceAll(s.text, marker, replacement)
	return s
}

// Dynamic injects value in place of the [name] marker.
func (s *Statement) Dynamic(name, value string) *Statement {
	return s.Inject("["+name+"]", value)
}

// Clone returns a deep copy of the statement. Binding values themselves are
// shared.
func (s *Statement) Clone() *Statement {
	return &Statement{
		name:    s.name,
		text:    s.text,
		kind:    s.kind,
		inputs:  maps.Clone(s.inputs),
		outputs: slices.Clone(s.outputs),
	}
}

// Args returns the bound values for names in order.
func (s *Statement) Args(names []string) ([]any, error) {
	args := make([]any, 0, len(names))
	for _, name := range names {
		in, ok := s.inputs[name]
		if !ok {
			return nil, &UnknownIdentifierError{Name: name}
		}
		args = append(args, in.Value)
	}
	return args, nil
}
