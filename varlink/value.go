package varlink

import (
	"math"
	"strconv"
	"sync/atomic"

	"github.com/samber/lo"
)

// Kind is the type tag of a value held by an Object field or Array element.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

// value is the tagged union stored inside Object fields and Array elements.
// Scalars are held inline, containers by shared reference.
type value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  *Array
	obj  *Object
}

func (v *value) release() {
	switch v.kind {
	case KindArray:
		v.arr.Unref()
	case KindObject:
		v.obj.Unref()
	}
}

// Object is a shared, reference-counted container mapping field names to
// values. Field insertion order is preserved and determines serialization
// order. Mutation is not synchronized; only the reference count is safe
// to touch from multiple goroutines.
type Object struct {
	refs     atomic.Int32
	writable bool
	fields   []lo.Tuple2[string, value]
}

// NewObject creates a new empty writable object with one reference.
func NewObject() *Object {
	o := &Object{writable: true}
	o.refs.Store(1)
	return o
}

// Ref increments the reference count and returns the same object.
func (o *Object) Ref() *Object {
	o.refs.Add(1)
	return o
}

// Unref decrements the reference count. Dropping the last reference
// releases all owned children transitively. Returns nil.
func (o *Object) Unref() *Object {
	if o == nil {
		return nil
	}
	if o.refs.Add(-1) == 0 {
		for i := range o.fields {
			o.fields[i].B.release()
		}
		o.fields = nil
	}
	return nil
}

func (o *Object) findField(field string) int {
	for i, kv := range o.fields {
		if kv.A == field {
			return i
		}
	}
	return -1
}

// setValue overwrites an existing field or appends a new one. Fields are
// never implicitly deleted.
func (o *Object) setValue(field string, v value) error {
	if !o.writable {
		return newError(ErrReadOnly)
	}
	if i := o.findField(field); i >= 0 {
		o.fields[i].B.release()
		o.fields[i].B = v
		return nil
	}
	o.fields = append(o.fields, lo.Tuple2[string, value]{A: field, B: v})
	return nil
}

// SetNull sets the field to null. An existing field is overwritten, not
// removed.
func (o *Object) SetNull(field string) error {
	return o.setValue(field, value{kind: KindNull})
}

func (o *Object) SetBool(field string, b bool) error {
	return o.setValue(field, value{kind: KindBool, b: b})
}

func (o *Object) SetInt(field string, i int64) error {
	return o.setValue(field, value{kind: KindInt, i: i})
}

func (o *Object) SetFloat(field string, f float64) error {
	return o.setValue(field, value{kind: KindFloat, f: f})
}

func (o *Object) SetString(field string, s string) error {
	return o.setValue(field, value{kind: KindString, s: s})
}

// SetArray stores a shared reference to the given array in the field.
func (o *Object) SetArray(field string, a *Array) error {
	if a == nil {
		return newError(ErrInvalidType)
	}
	if !o.writable {
		return newError(ErrReadOnly)
	}
	a.Ref()
	return o.setValue(field, value{kind: KindArray, arr: a})
}

// SetObject stores a shared reference to the given object in the field.
func (o *Object) SetObject(field string, nested *Object) error {
	if nested == nil {
		return newError(ErrInvalidType)
	}
	if !o.writable {
		return newError(ErrReadOnly)
	}
	nested.Ref()
	return o.setValue(field, value{kind: KindObject, obj: nested})
}

func (o *Object) getValue(field string) (value, error) {
	i := o.findField(field)
	if i < 0 {
		return value{}, newError(ErrUnknownField)
	}
	return o.fields[i].B, nil
}

func (o *Object) GetBool(field string) (bool, error) {
	v, err := o.getValue(field)
	if err != nil {
		return false, err
	}
	if v.kind != KindBool {
		return false, newError(ErrInvalidType)
	}
	return v.b, nil
}

func (o *Object) GetInt(field string) (int64, error) {
	v, err := o.getValue(field)
	if err != nil {
		return 0, err
	}
	if v.kind != KindInt {
		return 0, newError(ErrInvalidType)
	}
	return v.i, nil
}

func (o *Object) GetFloat(field string) (float64, error) {
	v, err := o.getValue(field)
	if err != nil {
		return 0, err
	}
	switch v.kind {
	case KindFloat:
		return v.f, nil
	case KindInt:
		return float64(v.i), nil
	}
	return 0, newError(ErrInvalidType)
}

func (o *Object) GetString(field string) (string, error) {
	v, err := o.getValue(field)
	if err != nil {
		return "", err
	}
	if v.kind != KindString {
		return "", newError(ErrInvalidType)
	}
	return v.s, nil
}

// GetArray returns the array stored in the field. The reference is
// borrowed; call Ref to keep it beyond the parent's lifetime.
func (o *Object) GetArray(field string) (*Array, error) {
	v, err := o.getValue(field)
	if err != nil {
		return nil, err
	}
	if v.kind != KindArray {
		return nil, newError(ErrInvalidType)
	}
	return v.arr, nil
}

// GetObject returns the object stored in the field. The reference is
// borrowed; call Ref to keep it beyond the parent's lifetime.
func (o *Object) GetObject(field string) (*Object, error) {
	v, err := o.getValue(field)
	if err != nil {
		return nil, err
	}
	if v.kind != KindObject {
		return nil, newError(ErrInvalidType)
	}
	return v.obj, nil
}

// FieldKind returns the kind of the value stored in the field.
func (o *Object) FieldKind(field string) (Kind, error) {
	v, err := o.getValue(field)
	if err != nil {
		return KindNull, err
	}
	return v.kind, nil
}

// FieldNames returns the field names in insertion order.
func (o *Object) FieldNames() []string {
	names := make([]string, len(o.fields))
	for i, kv := range o.fields {
		names[i] = kv.A
	}
	return names
}

func (o *Object) Len() int {
	return len(o.fields)
}

// AppendJSON serializes the object to buf. Output is deterministic for a
// given field insertion order.
func (o *Object) AppendJSON(buf []byte) []byte {
	buf = append(buf, '{')
	for i, kv := range o.fields {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendJSONString(buf, kv.A)
		buf = append(buf, ':')
		buf = appendJSONValue(buf, kv.B)
	}
	return append(buf, '}')
}

func (o *Object) String() string {
	return string(o.AppendJSON(nil))
}

// Array is a shared, reference-counted ordered sequence of values.
type Array struct {
	refs     atomic.Int32
	writable bool
	elements []value
}

// NewArray creates a new empty writable array with one reference.
func NewArray() *Array {
	a := &Array{writable: true}
	a.refs.Store(1)
	return a
}

// Ref increments the reference count and returns the same array.
func (a *Array) Ref() *Array {
	a.refs.Add(1)
	return a
}

// Unref decrements the reference count. Dropping the last reference
// releases all owned children transitively. Returns nil.
func (a *Array) Unref() *Array {
	if a == nil {
		return nil
	}
	if a.refs.Add(-1) == 0 {
		for i := range a.elements {
			a.elements[i].release()
		}
		a.elements = nil
	}
	return nil
}

func (a *Array) appendValue(v value) error {
	if !a.writable {
		return newError(ErrReadOnly)
	}
	a.elements = append(a.elements, v)
	return nil
}

func (a *Array) AppendNull() error {
	return a.appendValue(value{kind: KindNull})
}

func (a *Array) AppendBool(b bool) error {
	return a.appendValue(value{kind: KindBool, b: b})
}

func (a *Array) AppendInt(i int64) error {
	return a.appendValue(value{kind: KindInt, i: i})
}

func (a *Array) AppendFloat(f float64) error {
	return a.appendValue(value{kind: KindFloat, f: f})
}

func (a *Array) AppendString(s string) error {
	return a.appendValue(value{kind: KindString, s: s})
}

func (a *Array) AppendArray(element *Array) error {
	if element == nil {
		return newError(ErrInvalidType)
	}
	if !a.writable {
		return newError(ErrReadOnly)
	}
	element.Ref()
	return a.appendValue(value{kind: KindArray, arr: element})
}

func (a *Array) AppendObject(o *Object) error {
	if o == nil {
		return newError(ErrInvalidType)
	}
	if !a.writable {
		return newError(ErrReadOnly)
	}
	o.Ref()
	return a.appendValue(value{kind: KindObject, obj: o})
}

func (a *Array) at(index int) (value, error) {
	if index < 0 || index >= len(a.elements) {
		return value{}, newError(ErrInvalidIndex)
	}
	return a.elements[index], nil
}

func (a *Array) GetBool(index int) (bool, error) {
	v, err := a.at(index)
	if err != nil {
		return false, err
	}
	if v.kind != KindBool {
		return false, newError(ErrInvalidType)
	}
	return v.b, nil
}

func (a *Array) GetInt(index int) (int64, error) {
	v, err := a.at(index)
	if err != nil {
		return 0, err
	}
	if v.kind != KindInt {
		return 0, newError(ErrInvalidType)
	}
	return v.i, nil
}

func (a *Array) GetFloat(index int) (float64, error) {
	v, err := a.at(index)
	if err != nil {
		return 0, err
	}
	switch v.kind {
	case KindFloat:
		return v.f, nil
	case KindInt:
		return float64(v.i), nil
	}
	return 0, newError(ErrInvalidType)
}

func (a *Array) GetString(index int) (string, error) {
	v, err := a.at(index)
	if err != nil {
		return "", err
	}
	if v.kind != KindString {
		return "", newError(ErrInvalidType)
	}
	return v.s, nil
}

func (a *Array) GetArray(index int) (*Array, error) {
	v, err := a.at(index)
	if err != nil {
		return nil, err
	}
	if v.kind != KindArray {
		return nil, newError(ErrInvalidType)
	}
	return v.arr, nil
}

func (a *Array) GetObject(index int) (*Object, error) {
	v, err := a.at(index)
	if err != nil {
		return nil, err
	}
	if v.kind != KindObject {
		return nil, newError(ErrInvalidType)
	}
	return v.obj, nil
}

func (a *Array) ElementKind(index int) (Kind, error) {
	v, err := a.at(index)
	if err != nil {
		return KindNull, err
	}
	return v.kind, nil
}

func (a *Array) Len() int {
	return len(a.elements)
}

func (a *Array) AppendJSON(buf []byte) []byte {
	buf = append(buf, '[')
	for i := range a.elements {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendJSONValue(buf, a.elements[i])
	}
	return append(buf, ']')
}

func (a *Array) String() string {
	return string(a.AppendJSON(nil))
}

func appendJSONValue(buf []byte, v value) []byte {
	switch v.kind {
	case KindNull:
		return append(buf, "null"...)
	case KindBool:
		return strconv.AppendBool(buf, v.b)
	case KindInt:
		return strconv.AppendInt(buf, v.i, 10)
	case KindFloat:
		return appendJSONFloat(buf, v.f)
	case KindString:
		return appendJSONString(buf, v.s)
	case KindArray:
		return v.arr.AppendJSON(buf)
	case KindObject:
		return v.obj.AppendJSON(buf)
	}
	return buf
}

// appendJSONFloat keeps floats recognizable as floats across a
// round trip: integral values get a trailing ".0". NaN and infinities
// have no JSON form and are emitted as null.
func appendJSONFloat(buf []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(buf, "null"...)
	}
	start := len(buf)
	buf = strconv.AppendFloat(buf, f, 'g', -1, 64)
	for _, c := range buf[start:] {
		if c == '.' || c == 'e' || c == 'E' {
			return buf
		}
	}
	return append(buf, '.', '0')
}

const hexDigits = "0123456789abcdef"

func appendJSONString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			buf = append(buf, '\\', c)
		case c == '\n':
			buf = append(buf, '\\', 'n')
		case c == '\r':
			buf = append(buf, '\\', 'r')
		case c == '\t':
			buf = append(buf, '\\', 't')
		case c < 0x20:
			buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
		default:
			// UTF-8 passes through unescaped.
			buf = append(buf, c)
		}
	}
	return append(buf, '"')
}
