// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package cdr

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Registry maps fully qualified type names to Schemas.
//
// A Registry is not safe for concurrent mutation. Each open bag owns its own
// Registry so that definitions embedded in one bag do not leak into another.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds s to the Registry, replacing any Schema of the same name.
func (r *Registry) Register(s *Schema) {
	r.schemas[NormalizeTypeName(s.Name)] = s
}

// RegisterDefinition parses and registers a ".msg" definition. text may be a
// concatenated "ros2msg" definition carrying dependent types, all of which are
// registered.
func (r *Registry) RegisterDefinition(typeName, text string) error {
	names, texts, err := SplitDefinitions(typeName, text)
	if err != nil {
		return errors.Wrapf(err, "splitting definition of %s", typeName)
	}

	parsed := make([]*Schema, 0, len(names))
	for _, name := range names {
		s, err := ParseDefinition(name, texts[name])
		if err != nil {
			return err
		}
		parsed = append(parsed, s)
	}
	for _, s := range parsed {
		r.Register(s)
	}
	return nil
}

// Lookup returns the Schema registered for name.
func (r *Registry) Lookup(name string) (*Schema, bool) {
	s, ok := r.schemas[NormalizeTypeName(name)]
	return s, ok
}

// Types returns the sorted names of all registered types.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve confirms that name and every type it references are registered.
func (r *Registry) Resolve(name string) error {
	_, err := r.dependencies(name)
	return err
}

// Definition returns the "ros2msg" encoded definition of name: its own text
// followed by the text of each dependency, separated by DefinitionSeparator.
func (r *Registry) Definition(name string) (string, error) {
	deps, err := r.dependencies(name)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i, s := range deps {
		if i > 0 {
			sb.WriteString(DefinitionSeparator)
			sb.WriteString("\nMSG: ")
			sb.WriteString(strings.Replace(s.Name, "/msg/", "/", 1))
			sb.WriteByte('\n')
		}
		sb.WriteString(s.Text)
		if !strings.HasSuffix(s.Text, "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// dependencies returns name's Schema followed by every Schema it references,
// depth first, each exactly once.
func (r *Registry) dependencies(name string) ([]*Schema, error) {
	var (
		out  []*Schema
		seen = make(map[string]struct{})
		walk func(string) error
	)
	walk = func(n string) error {
		n = NormalizeTypeName(n)
		if _, ok := seen[n]; ok {
			return nil
		}
		seen[n] = struct{}{}

		s, ok := r.schemas[n]
		if !ok {
			return errors.Wrapf(ErrUnknownType, "%s", n)
		}
		out = append(out, s)
		for _, f := range s.Fields {
			if f.Type.Kind == KindMessage {
				if err := walk(f.Type.Message); err != nil {
					return errors.Wrapf(err, "field %s.%s", n, f.Name)
				}
			}
		}
		return nil
	}
	if err := walk(name); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode decodes data, a complete CDR buffer, as a typeName message.
func (r *Registry) Decode(typeName string, data []byte) (Struct, error) {
	s, ok := r.Lookup(typeName)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "%s", typeName)
	}

	d, err := NewDecoder(data)
	if err != nil {
		return nil, err
	}
	return r.decodeStruct(d, s)
}

// Encode encodes v as a little endian typeName message.
func (r *Registry) Encode(typeName string, v Struct) ([]byte, error) {
	return r.EncodeOrder(typeName, v, binary.LittleEndian)
}

// EncodeOrder encodes v as a typeName message in byte order order.
//
// Fields missing from v are encoded as their zero value.
func (r *Registry) EncodeOrder(typeName string, v Struct, order binary.ByteOrder) ([]byte, error) {
	s, ok := r.Lookup(typeName)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "%s", typeName)
	}

	e := NewEncoder(order)
	if err := r.encodeStruct(e, s, v); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}
