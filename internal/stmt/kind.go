package stmt

import (
	"fmt"
	"strings"
)

type Kind int

const (
	Unknown Kind = iota
	Read
	ChangeData
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "READ"
	case ChangeData:
		return "CHANGE DATA"
	default:
		return "UNKNOWN"
	}
}

// ParseKind accepts what Kind.String returns, case-insensitive, and the
// snake case forms read and change_data. An empty string is Unknown.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "UNKNOWN":
		return Unknown, nil
	case "READ":
		return Read, nil
	case "CHANGE DATA", "CHANGE_DATA":
		return ChangeData, nil
	default:
		return Unknown, fmt.Errorf("unknown statement kind %q", s)
	}
}

// TypeTag describes the database type a bound value maps to.
type TypeTag int

const (
	Untyped TypeTag = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Seq32
	Seq64
	Char
	String
	UUID
	Date
	Time
	DateTime
	Timestamp
	Bytes
	Double
	JSON
)

var typeTagNames = map[TypeTag]string{
	Untyped:   "untyped",
	Bool:      "bool",
	Int8:      "int8",
	Int16:     "int16",
	Int32:     "int32",
	Int64:     "int64",
	Seq32:     "seq32",
	Seq64:     "seq64",
	Char:      "char",
	String:    "string",
	UUID:      "uuid",
	Date:      "date",
	Time:      "time",
	DateTime:  "datetime",
	Timestamp: "timestamp",
	Bytes:     "bytes",
	Double:    "double",
	JSON:      "json",
}

func (t TypeTag) String() string {
	if name, ok := typeTagNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseTypeTag is the inverse of TypeTag.String, case-insensitive. An empty
// string is Untyped.
func ParseTypeTag(s string) (TypeTag, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Untyped, nil
	}
	for tag, name := range typeTagNames {
		if name == s {
			return tag, nil
		}
	}
	return Untyped, fmt.Errorf("unknown type tag %q", s)
}

// Width returns the natural byte size of fixed width types, zero otherwise.
func (t TypeTag) Width() int {
	switch t {
	case Bool, Int8, Char:
		return 1
	case Int16:
		return 2
	case Int32, Seq32:
		return 4
	case Int64, Seq64, Double:
		return 8
	case UUID:
		return 16
	default:
		return 0
	}
}
