// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package cdr

import (
	"reflect"

	"github.com/pkg/errors"
)

// maxDepth bounds message nesting, guarding against recursive definitions.
const maxDepth = 64

func (r *Registry) decodeStruct(d *Decoder, s *Schema) (Struct, error) {
	return r.decodeStructDepth(d, s, 0)
}

func (r *Registry) decodeStructDepth(d *Decoder, s *Schema, depth int) (Struct, error) {
	if depth > maxDepth {
		return nil, errors.Errorf("%s: nesting deeper than %d", s.Name, maxDepth)
	}

	// Empty structures carry a single placeholder byte.
	if len(s.Fields) == 0 {
		if _, err := d.Uint8(); err != nil {
			return nil, errors.Wrapf(err, "%s placeholder", s.Name)
		}
		return Struct{}, nil
	}

	v := make(Struct, len(s.Fields))
	for _, f := range s.Fields {
		fv, err := r.decodeField(d, f.Type, depth)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", s.Name, f.Name)
		}
		v[f.Name] = fv
	}
	return v, nil
}

func (r *Registry) decodeField(d *Decoder, t Type, depth int) (interface{}, error) {
	switch {
	case t.ArrayLen > 0:
		return r.decodeArray(d, t.Elem(), t.ArrayLen, depth)

	case t.Sequence:
		minSize := t.Kind.Size()
		if t.Kind == KindString {
			minSize = 4
		}
		n, err := d.SequenceLength(minSize)
		if err != nil {
			return nil, err
		}
		return r.decodeArray(d, t.Elem(), n, depth)

	default:
		return r.decodeScalar(d, t, depth)
	}
}

func (r *Registry) decodeScalar(d *Decoder, t Type, depth int) (interface{}, error) {
	switch t.Kind {
	case KindBool:
		return d.Bool()
	case KindByte, KindChar, KindUint8:
		return d.Uint8()
	case KindInt8:
		return d.Int8()
	case KindInt16:
		return d.Int16()
	case KindUint16:
		return d.Uint16()
	case KindInt32:
		return d.Int32()
	case KindUint32:
		return d.Uint32()
	case KindInt64:
		return d.Int64()
	case KindUint64:
		return d.Uint64()
	case KindFloat32:
		return d.Float32()
	case KindFloat64:
		return d.Float64()
	case KindString:
		return d.String()
	case KindMessage:
		s, ok := r.Lookup(t.Message)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownType, "%s", t.Message)
		}
		return r.decodeStructDepth(d, s, depth+1)
	default:
		return nil, errors.Errorf("cannot decode kind %s", t.Kind)
	}
}

func decodeSlice[T any](n int, read func() (T, error)) ([]T, error) {
	out := make([]T, n)
	for i := range out {
		v, err := read()
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		out[i] = v
	}
	return out, nil
}

func (r *Registry) decodeArray(d *Decoder, elem Type, n, depth int) (interface{}, error) {
	switch elem.Kind {
	case KindByte, KindChar, KindUint8:
		return d.Bytes(n)
	case KindBool:
		return decodeSlice(n, d.Bool)
	case KindInt8:
		return decodeSlice(n, d.Int8)
	case KindInt16:
		return decodeSlice(n, d.Int16)
	case KindUint16:
		return decodeSlice(n, d.Uint16)
	case KindInt32:
		return decodeSlice(n, d.Int32)
	case KindUint32:
		return decodeSlice(n, d.Uint32)
	case KindInt64:
		return decodeSlice(n, d.Int64)
	case KindUint64:
		return decodeSlice(n, d.Uint64)
	case KindFloat32:
		return decodeSlice(n, d.Float32)
	case KindFloat64:
		return decodeSlice(n, d.Float64)
	case KindString:
		return decodeSlice(n, d.String)
	case KindMessage:
		s, ok := r.Lookup(elem.Message)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownType, "%s", elem.Message)
		}
		return decodeSlice(n, func() (Struct, error) { return r.decodeStructDepth(d, s, depth+1) })
	default:
		return nil, errors.Errorf("cannot decode kind %s", elem.Kind)
	}
}

func (r *Registry) encodeStruct(e *Encoder, s *Schema, v Struct) error {
	return r.encodeStructDepth(e, s, v, 0)
}

func (r *Registry) encodeStructDepth(e *Encoder, s *Schema, v Struct, depth int) error {
	if depth > maxDepth {
		return errors.Errorf("%s: nesting deeper than %d", s.Name, maxDepth)
	}

	if len(s.Fields) == 0 {
		e.Uint8(0)
		return nil
	}

	for _, f := range s.Fields {
		if err := r.encodeField(e, f.Type, v[f.Name], depth); err != nil {
			return errors.Wrapf(err, "%s.%s", s.Name, f.Name)
		}
	}
	return nil
}

func (r *Registry) encodeField(e *Encoder, t Type, v interface{}, depth int) error {
	if !t.IsArray() {
		return r.encodeScalar(e, t, v, depth)
	}

	elem := t.Elem()
	rv := reflect.ValueOf(v)
	n := 0
	if v != nil {
		if k := rv.Kind(); k != reflect.Slice && k != reflect.Array {
			return errors.Errorf("expected array of %s, got %T", elem, v)
		}
		n = rv.Len()
	}

	if t.ArrayLen > 0 {
		if n > t.ArrayLen {
			return errors.Errorf("array holds %d elements, type allows %d", n, t.ArrayLen)
		}
	} else {
		e.SequenceLength(n)
	}

	// Byte arrays take a fast path.
	if b, ok := v.([]byte); ok && elem.Kind.isByteLike() {
		e.RawBytes(b)
		n = len(b)
	} else {
		for i := 0; i < n; i++ {
			if err := r.encodeScalar(e, elem, rv.Index(i).Interface(), depth); err != nil {
				return errors.Wrapf(err, "element %d", i)
			}
		}
	}

	// Short fixed arrays are padded with zero values.
	for i := n; i < t.ArrayLen; i++ {
		if err := r.encodeScalar(e, elem, nil, depth); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) encodeScalar(e *Encoder, t Type, v interface{}, depth int) error {
	switch t.Kind {
	case KindBool:
		b, ok := v.(bool)
		if !ok && v != nil {
			return errors.Errorf("expected bool, got %T", v)
		}
		e.Bool(b)

	case KindByte, KindChar, KindUint8, KindUint16, KindUint32, KindUint64:
		u, err := toUint64(v)
		if err != nil {
			return err
		}
		switch t.Kind.Size() {
		case 1:
			e.Uint8(uint8(u))
		case 2:
			e.Uint16(uint16(u))
		case 4:
			e.Uint32(uint32(u))
		default:
			e.Uint64(u)
		}

	case KindInt8, KindInt16, KindInt32, KindInt64:
		i, err := toInt64(v)
		if err != nil {
			return err
		}
		switch t.Kind.Size() {
		case 1:
			e.Int8(int8(i))
		case 2:
			e.Int16(int16(i))
		case 4:
			e.Int32(int32(i))
		default:
			e.Int64(i)
		}

	case KindFloat32, KindFloat64:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		if t.Kind == KindFloat32 {
			e.Float32(float32(f))
		} else {
			e.Float64(f)
		}

	case KindString:
		s, ok := v.(string)
		if !ok && v != nil {
			return errors.Errorf("expected string, got %T", v)
		}
		e.String(s)

	case KindMessage:
		s, ok := r.Lookup(t.Message)
		if !ok {
			return errors.Wrapf(ErrUnknownType, "%s", t.Message)
		}
		var sv Struct
		switch tv := v.(type) {
		case nil:
		case Struct:
			sv = tv
		case map[string]interface{}:
			sv = Struct(tv)
		default:
			return errors.Errorf("expected %s struct, got %T", t.Message, v)
		}
		return r.encodeStructDepth(e, s, sv, depth+1)

	default:
		return errors.Errorf("cannot encode kind %s", t.Kind)
	}
	return nil
}

func toInt64(v interface{}) (int64, error) {
	if v == nil {
		return 0, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	default:
		return 0, errors.Errorf("expected integer, got %T", v)
	}
}

func toUint64(v interface{}) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(rv.Int()), nil
	default:
		return 0, errors.Errorf("expected unsigned integer, got %T", v)
	}
}

func toFloat64(v interface{}) (float64, error) {
	if v == nil {
		return 0, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	default:
		return 0, errors.Errorf("expected float, got %T", v)
	}
}
