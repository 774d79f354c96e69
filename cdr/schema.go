// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package cdr

import (
	"fmt"
	"strings"
)

// Kind is the wire kind of a field's element.
type Kind int

// Field element kinds.
const (
	KindInvalid Kind = iota
	KindBool
	KindByte
	KindChar
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindMessage
)

var kindNames = map[string]Kind{
	"bool":    KindBool,
	"byte":    KindByte,
	"char":    KindChar,
	"int8":    KindInt8,
	"uint8":   KindUint8,
	"int16":   KindInt16,
	"uint16":  KindUint16,
	"int32":   KindInt32,
	"uint32":  KindUint32,
	"int64":   KindInt64,
	"uint64":  KindUint64,
	"float32": KindFloat32,
	"float64": KindFloat64,
	"string":  KindString,
}

func (k Kind) String() string {
	for name, v := range kindNames {
		if v == k {
			return name
		}
	}
	if k == KindMessage {
		return "message"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Size returns the encoded size of a primitive kind, which is also its
// alignment. Strings and messages return 0.
func (k Kind) Size() int {
	switch k {
	case KindBool, KindByte, KindChar, KindInt8, KindUint8:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindInt32, KindUint32, KindFloat32:
		return 4
	case KindInt64, KindUint64, KindFloat64:
		return 8
	default:
		return 0
	}
}

// isByteLike is true for kinds whose arrays decode to []byte.
func (k Kind) isByteLike() bool {
	return k == KindByte || k == KindChar || k == KindUint8
}

// Type describes the type of a single field.
type Type struct {
	// Kind is the element kind.
	Kind Kind
	// Message is the fully qualified type name when Kind is KindMessage.
	Message string

	// ArrayLen, if positive, makes the field a fixed-length array.
	ArrayLen int
	// Sequence makes the field a variable-length sequence.
	Sequence bool
	// Bound is the declared upper bound of a bounded sequence or string. It is
	// informational; decoding does not enforce it.
	Bound int
}

// IsArray returns true if the field holds more than one element.
func (t Type) IsArray() bool { return t.ArrayLen > 0 || t.Sequence }

// Elem returns the element type of an array type.
func (t Type) Elem() Type {
	t.ArrayLen, t.Sequence, t.Bound = 0, false, 0
	return t
}

func (t Type) String() string {
	var sb strings.Builder
	if t.Kind == KindMessage {
		sb.WriteString(t.Message)
	} else {
		sb.WriteString(t.Kind.String())
	}
	switch {
	case t.ArrayLen > 0:
		fmt.Fprintf(&sb, "[%d]", t.ArrayLen)
	case t.Sequence && t.Bound > 0:
		fmt.Fprintf(&sb, "[<=%d]", t.Bound)
	case t.Sequence:
		sb.WriteString("[]")
	}
	return sb.String()
}

// Field is a named, typed member of a Schema.
type Field struct {
	Name string
	Type Type
}

// Constant is a named constant declared by a message definition. Constants
// are not serialized.
type Constant struct {
	Name  string
	Type  Type
	Value string
}

// Schema is the field-order descriptor for a single message type.
type Schema struct {
	// Name is the fully qualified type name, e.g. "std_msgs/msg/Header".
	Name string
	// Fields are the serialized fields in declaration order.
	Fields []Field
	// Constants are the definition's declared constants.
	Constants []Constant

	// Text is the ".msg" source this Schema was parsed from, if any.
	Text string
}

// Struct is the decoded value of a message: field name to value.
//
// Primitive fields hold the matching Go type (bool, int8, uint8, ..., float64,
// string). Arrays of byte, char or uint8 hold []byte; other primitive arrays
// hold a typed slice ([]float64, []string, ...). Nested messages hold Struct
// and arrays of them hold []Struct.
type Struct map[string]interface{}

// NormalizeTypeName converts "pkg/Name" and "pkg/msg/Name" spellings to the
// fully qualified "pkg/msg/Name" form.
func NormalizeTypeName(name string) string {
	parts := strings.Split(name, "/")
	switch len(parts) {
	case 2:
		return parts[0] + "/msg/" + parts[1]
	default:
		return name
	}
}

// packageOf returns the package component of a fully qualified type name.
func packageOf(name string) string {
	if idx := strings.IndexByte(name, '/'); idx > 0 {
		return name[:idx]
	}
	return ""
}
