package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RichardKnop/braze/internal/stmt"
)

// parseParam parses name=value or name:type=value. Untyped values become
// int64, float64 or bool when they parse as one, otherwise string.
func parseParam(s string) (string, any, stmt.TypeTag, error) {
	key, raw, ok := strings.Cut(s, "=")
	if !ok {
		return "", nil, stmt.Untyped, fmt.Errorf("invalid param %q: expected name=value", s)
	}

	name, typeName, _ := strings.Cut(key, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, stmt.Untyped, fmt.Errorf("invalid param %q: empty name", s)
	}

	typ, err := stmt.ParseTypeTag(typeName)
	if err != nil {
		return "", nil, stmt.Untyped, fmt.Errorf("invalid param %q: %w", s, err)
	}

	value, err := convertParam(raw, typ)
	if err != nil {
		return "", nil, stmt.Untyped, fmt.Errorf("invalid param %q: %w", s, err)
	}

	return name, value, typ, nil
}

func convertParam(raw string, typ stmt.TypeTag) (any, error) {
	switch typ {
	case stmt.Bool:
		return strconv.ParseBool(raw)
	case stmt.Int8, stmt.Int16, stmt.Int32, stmt.Int64, stmt.Seq32, stmt.Seq64:
		return strconv.ParseInt(raw, 10, 64)
	case stmt.Double:
		return strconv.ParseFloat(raw, 64)
	case stmt.Bytes:
		return []byte(raw), nil
	case stmt.Untyped:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		if b, err := strconv.ParseBool(raw); err == nil {
			return b, nil
		}
		return raw, nil
	default:
		return raw, nil
	}
}

// newStatement builds a statement from the command line pieces shared by
// the rewrite and exec commands.
func newStatement(name, sql string, params, dynamic, outputs []string) (*stmt.Statement, error) {
	if name == "" {
		name = "cli"
	}
	s := stmt.New(name, stmt.Unknown).SetText(sql)

	for _, d := range dynamic {
		marker, value, ok := strings.Cut(d, "=")
		if !ok {
			return nil, fmt.Errorf("invalid dynamic %q: expected name=value", d)
		}
		s.Dynamic(marker, value)
	}

	for _, p := range params {
		name, value, typ, err := parseParam(p)
		if err != nil {
			return nil, err
		}
		s.BindInput(name, value, typ, typ.Width())
	}

	for _, o := range outputs {
		name, typeName, _ := strings.Cut(o, ":")
		typ, err := stmt.ParseTypeTag(typeName)
		if err != nil {
			return nil, fmt.Errorf("invalid output %q: %w", o, err)
		}
		s.BindOutput(name, typ, typ.Width())
	}

	return s, nil
}
