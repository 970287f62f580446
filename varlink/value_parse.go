package varlink

import (
	"github.com/valyala/fastjson"
)

var parserPool fastjson.ParserPool

// ObjectFromJSON parses a JSON text into an Object tree. The top-level
// value must be an object and the text must not carry trailing garbage.
// The returned tree is sealed: mutation fails with ReadOnly.
func ObjectFromJSON(data []byte) (*Object, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, wrapError(ErrInvalidJson, err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, newError(ErrInvalidJson)
	}
	return objectFromValue(v)
}

func objectFromValue(v *fastjson.Value) (*Object, error) {
	fo, err := v.Object()
	if err != nil {
		return nil, wrapError(ErrInvalidJson, err)
	}

	o := NewObject()
	fo.Visit(func(key []byte, fv *fastjson.Value) {
		if err != nil {
			return
		}
		var cv value
		cv, err = valueFromValue(fv)
		if err != nil {
			return
		}
		err = o.setValue(string(key), cv)
	})
	if err != nil {
		o.Unref()
		return nil, err
	}
	o.writable = false
	return o, nil
}

func arrayFromValue(v *fastjson.Value) (*Array, error) {
	fa, err := v.Array()
	if err != nil {
		return nil, wrapError(ErrInvalidJson, err)
	}

	a := NewArray()
	for _, fv := range fa {
		cv, err := valueFromValue(fv)
		if err != nil {
			a.Unref()
			return nil, err
		}
		if err := a.appendValue(cv); err != nil {
			a.Unref()
			return nil, err
		}
	}
	a.writable = false
	return a, nil
}

func valueFromValue(v *fastjson.Value) (value, error) {
	switch v.Type() {
	case fastjson.TypeNull:
		return value{kind: KindNull}, nil

	case fastjson.TypeTrue:
		return value{kind: KindBool, b: true}, nil

	case fastjson.TypeFalse:
		return value{kind: KindBool, b: false}, nil

	case fastjson.TypeNumber:
		// Integer literals stay 64-bit ints, everything else is a float.
		if i, err := v.Int64(); err == nil {
			return value{kind: KindInt, i: i}, nil
		}
		f, err := v.Float64()
		if err != nil {
			return value{}, wrapError(ErrInvalidJson, err)
		}
		return value{kind: KindFloat, f: f}, nil

	case fastjson.TypeString:
		s, err := v.StringBytes()
		if err != nil {
			return value{}, wrapError(ErrInvalidJson, err)
		}
		return value{kind: KindString, s: string(s)}, nil

	case fastjson.TypeArray:
		a, err := arrayFromValue(v)
		if err != nil {
			return value{}, err
		}
		return value{kind: KindArray, arr: a}, nil

	case fastjson.TypeObject:
		o, err := objectFromValue(v)
		if err != nil {
			return value{}, err
		}
		return value{kind: KindObject, obj: o}, nil
	}

	return value{}, newError(ErrInvalidJson)
}
