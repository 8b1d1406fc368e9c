// Package protocol is a small request/response protocol on top of the
// transport package. Every message is a frame: a 4 byte big-endian body
// length followed by a JSON body.
package protocol

import (
	"bytes"
	"encoding/base64"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/RichardKnop/braze/internal/stmt"
)

type RequestType string

const (
	TypePing         RequestType = "ping"
	TypeClassify     RequestType = "classify"
	TypePlaceholders RequestType = "placeholders"
	TypeRewrite      RequestType = "rewrite"
	TypeExec         RequestType = "exec"
)

// Param is an input binding on the wire. Value holds the JSON encoded value
// and is decoded according to Type on the server.
type Param struct {
	Value json.RawMessage `json:"value"`
	Type  string          `json:"type,omitempty"`
	Size  int             `json:"size,omitempty"`
}

type Output struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Size int    `json:"size,omitempty"`
}

type Request struct {
	ID      uuid.UUID         `json:"id"`
	Type    RequestType       `json:"type"`
	Name    string            `json:"name,omitempty"`
	SQL     string            `json:"sql,omitempty"`
	Kind    string            `json:"kind,omitempty"`
	Dialect string            `json:"dialect,omitempty"`
	Dynamic map[string]string `json:"dynamic,omitempty"`
	Params  map[string]Param  `json:"params,omitempty"`
	Outputs []Output          `json:"outputs,omitempty"`
}

type Response struct {
	ID           uuid.UUID `json:"id"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	SQL          string    `json:"sql,omitempty"`
	Names        []string  `json:"names,omitempty"`
	Args         []any     `json:"args,omitempty"`
	Columns      []string  `json:"columns,omitempty"`
	ColumnTypes  []string  `json:"column_types,omitempty"`
	Rows         [][]any   `json:"rows,omitempty"`
	RowsAffected int64     `json:"rows_affected,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// NewRequest describes s on the wire. Dynamic markers are expected to be
// injected into the text already.
func NewRequest(typ RequestType, s *stmt.Statement) (Request, error) {
	req := Request{
		ID:   uuid.New(),
		Type: typ,
		Name: s.Name(),
		SQL:  s.Text(),
	}
	if s.Kind() != stmt.Unknown {
		req.Kind = s.Kind().String()
	}

	if inputs := s.Inputs(); len(inputs) > 0 {
		req.Params = make(map[string]Param, len(inputs))
		for name, in := range inputs {
			value, err := json.Marshal(in.Value)
			if err != nil {
				return Request{}, fmt.Errorf("encode param %q: %w", name, err)
			}
			req.Params[name] = Param{
				Value: value,
				Type:  typeName(in.Type),
				Size:  in.Size,
			}
		}
	}

	for _, out := range s.Outputs() {
		req.Outputs = append(req.Outputs, Output{
			Name: out.Name,
			Type: typeName(out.Type),
			Size: out.Size,
		})
	}

	return req, nil
}

func typeName(t stmt.TypeTag) string {
	if t == stmt.Untyped {
		return ""
	}
	return t.String()
}

// Statement rebuilds the statement a request describes.
func (r Request) Statement() (*stmt.Statement, error) {
	kind, err := stmt.ParseKind(r.Kind)
	if err != nil {
		return nil, err
	}

	name := r.Name
	if name == "" {
		name = string(r.Type)
	}
	s := stmt.New(name, kind).SetText(r.SQL)

	for marker, value := range r.Dynamic {
		s.Dynamic(marker, value)
	}

	for paramName, p := range r.Params {
		typ, err := stmt.ParseTypeTag(p.Type)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", paramName, err)
		}
		value, err := p.decode(typ)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", paramName, err)
		}
		s.BindInput(paramName, value, typ, p.Size)
	}

	for _, out := range r.Outputs {
		typ, err := stmt.ParseTypeTag(out.Type)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", out.Name, err)
		}
		s.BindOutput(out.Name, typ, out.Size)
	}

	return s, nil
}

// decode turns the raw JSON value into the Go type drivers expect for typ.
func (p Param) decode(typ stmt.TypeTag) (any, error) {
	if len(p.Value) == 0 || bytes.Equal(p.Value, []byte("null")) {
		return nil, nil
	}

	switch typ {
	case stmt.Bool:
		var v bool
		err := json.Unmarshal(p.Value, &v)
		return v, err
	case stmt.Int8, stmt.Int16, stmt.Int32, stmt.Int64, stmt.Seq32, stmt.Seq64:
		var v int64
		err := json.Unmarshal(p.Value, &v)
		return v, err
	case stmt.Double:
		var v float64
		err := json.Unmarshal(p.Value, &v)
		return v, err
	case stmt.Bytes:
		var v []byte
		err := json.Unmarshal(p.Value, &v)
		return v, err
	case stmt.JSON:
		// Sent to the driver as JSON text.
		return string(p.Value), nil
	case stmt.Untyped:
		return decodeAny(p.Value)
	default:
		var v string
		err := json.Unmarshal(p.Value, &v)
		return v, err
	}
}

func decodeAny(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		return n.Float64()
	}
	return v, nil
}

// encodeRows tags binary columns so the client can turn their base64 cells
// back into bytes. A column is binary when all its non-NULL cells are
// []byte. Binary cells in other columns are sent as text.
func encodeRows(columns []string, rows [][]any) []string {
	binary := make([]bool, len(columns))
	for i := range columns {
		seen := false
		binary[i] = true
		for _, aRow := range rows {
			if i >= len(aRow) || aRow[i] == nil {
				continue
			}
			seen = true
			if _, ok := aRow[i].([]byte); !ok {
				binary[i] = false
				break
			}
		}
		binary[i] = binary[i] && seen
	}

	var types []string
	for i, isBinary := range binary {
		if !isBinary {
			for _, aRow := range rows {
				if i < len(aRow) {
					if b, ok := aRow[i].([]byte); ok {
						aRow[i] = string(b)
					}
				}
			}
			continue
		}
		if types == nil {
			types = make([]string, len(columns))
		}
		types[i] = stmt.Bytes.String()
	}
	return types
}

// decodeRows restores the binary columns tagged by encodeRows.
func decodeRows(types []string, rows [][]any) error {
	for i, typ := range types {
		if typ != stmt.Bytes.String() {
			continue
		}
		for _, aRow := range rows {
			if i >= len(aRow) {
				continue
			}
			encoded, ok := aRow[i].(string)
			if !ok {
				continue
			}
			b, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return fmt.Errorf("column %d: %w", i, err)
			}
			aRow[i] = b
		}
	}
	return nil
}
