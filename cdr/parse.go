// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package cdr

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefinitionSeparator separates the concatenated definitions of a message
// type and its dependencies in the "ros2msg" schema encoding.
const DefinitionSeparator = "================================================================================"

// ParseDefinition parses a single ".msg" definition for the fully qualified
// type typeName.
//
// Field types without a package are resolved against typeName's package,
// except for "Header" which always means std_msgs/msg/Header.
func ParseDefinition(typeName, text string) (*Schema, error) {
	typeName = NormalizeTypeName(typeName)
	pkg := packageOf(typeName)

	s := Schema{
		Name: typeName,
		Text: text,
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		typ, rest := splitToken(line)
		if rest == "" {
			return nil, errors.Errorf("%s:%d: missing field name", typeName, lineNo)
		}

		t, err := parseType(pkg, typ)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", typeName, lineNo)
		}

		if name, value, ok := splitConstant(rest); ok {
			if t.Kind != KindString {
				value = stripComment(value)
			}
			s.Constants = append(s.Constants, Constant{Name: name, Type: t, Value: value})
			continue
		}

		// Anything after the field name is a default value, which does not
		// affect the wire layout.
		name, _ := splitToken(stripComment(rest))
		s.Fields = append(s.Fields, Field{Name: name, Type: t})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return &s, nil
}

// SplitDefinitions splits a concatenated "ros2msg" definition into the text of
// each type it contains. The first entry is always typeName.
func SplitDefinitions(typeName, text string) (names []string, texts map[string]string, err error) {
	typeName = NormalizeTypeName(typeName)
	texts = make(map[string]string)

	current := typeName
	var sb strings.Builder
	flush := func() {
		if _, ok := texts[current]; !ok {
			names = append(names, current)
		}
		texts[current] = strings.TrimRight(sb.String(), "\n") + "\n"
		sb.Reset()
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == DefinitionSeparator {
			flush()
			if !sc.Scan() {
				return nil, nil, errors.New("separator without a following MSG: line")
			}
			header := strings.TrimSpace(sc.Text())
			if !strings.HasPrefix(header, "MSG:") {
				return nil, nil, errors.Errorf("expected MSG: header, got %q", header)
			}
			current = NormalizeTypeName(strings.TrimSpace(strings.TrimPrefix(header, "MSG:")))
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	flush()
	return names, texts, nil
}

func parseType(pkg, s string) (Type, error) {
	var t Type

	if idx := strings.IndexByte(s, '['); idx >= 0 {
		if !strings.HasSuffix(s, "]") {
			return t, errors.Errorf("malformed array type %q", s)
		}
		inner := s[idx+1 : len(s)-1]
		s = s[:idx]

		switch {
		case inner == "":
			t.Sequence = true
		case strings.HasPrefix(inner, "<="):
			n, err := strconv.Atoi(inner[2:])
			if err != nil || n <= 0 {
				return t, errors.Errorf("malformed sequence bound %q", inner)
			}
			t.Sequence, t.Bound = true, n
		default:
			n, err := strconv.Atoi(inner)
			if err != nil || n <= 0 {
				return t, errors.Errorf("malformed array length %q", inner)
			}
			t.ArrayLen = n
		}
	}

	// Bounded strings ("string<=10") share the wire format of strings.
	if idx := strings.Index(s, "<="); idx >= 0 {
		s = s[:idx]
	}

	if k, ok := kindNames[s]; ok {
		t.Kind = k
		return t, nil
	}

	t.Kind = KindMessage
	switch {
	case s == "wstring":
		return t, errors.New("wstring is not supported")
	case s == "time":
		t.Message = "builtin_interfaces/msg/Time"
	case s == "duration":
		t.Message = "builtin_interfaces/msg/Duration"
	case s == "Header":
		t.Message = "std_msgs/msg/Header"
	case strings.IndexByte(s, '/') < 0:
		if pkg == "" {
			return t, errors.Errorf("cannot resolve %q without a package", s)
		}
		t.Message = pkg + "/msg/" + s
	default:
		t.Message = NormalizeTypeName(s)
	}
	return t, nil
}

func splitToken(s string) (string, string) {
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}

// splitConstant recognizes "NAME=VALUE" declarations.
func splitConstant(s string) (name, value string, ok bool) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return "", "", false
	}
	name = strings.TrimSpace(s[:idx])
	if name == "" || strings.ContainsAny(name, " \t\"'") {
		return "", "", false
	}
	return name, strings.TrimSpace(s[idx+1:]), true
}

func stripComment(s string) string {
	if idx := strings.IndexByte(s, '#'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
