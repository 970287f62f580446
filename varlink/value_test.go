package varlink

import (
	"math"
	"strings"
	"testing"
)

func expect(t *testing.T, expected string, returned string) {
	t.Helper()
	if strings.Compare(returned, expected) != 0 {
		t.Fatalf("Expected(%d): `%s`\nGot(%d): `%s`\n",
			len(expected), expected,
			len(returned), returned)
	}
}

func expectError(t *testing.T, code ErrorCode, err error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", ErrorString(code))
	}
	if !IsError(err, code) {
		t.Fatalf("expected %s, got: %v", ErrorString(code), err)
	}
}

func TestObjectSerialization(t *testing.T) {
	o := NewObject()
	defer o.Unref()

	o.SetNull("a")
	o.SetBool("b", true)
	o.SetInt("c", -42)
	o.SetFloat("d", 1.5)
	o.SetString("e", "hi\n\"there\"")

	inner := NewArray()
	inner.AppendInt(1)
	inner.AppendString("x")
	o.SetArray("f", inner)
	inner.Unref()

	nested := NewObject()
	nested.SetBool("h", false)
	o.SetObject("g", nested)
	nested.Unref()

	expect(t, `{"a":null,"b":true,"c":-42,"d":1.5,"e":"hi\n\"there\"","f":[1,"x"],"g":{"h":false}}`,
		o.String())
}

func TestObjectFieldOrder(t *testing.T) {
	o := NewObject()
	defer o.Unref()

	o.SetInt("z", 1)
	o.SetInt("a", 2)
	o.SetInt("m", 3)

	names := o.FieldNames()
	if len(names) != 3 || names[0] != "z" || names[1] != "a" || names[2] != "m" {
		t.Fatalf("insertion order not preserved: %v", names)
	}

	// Overwriting keeps the original position.
	o.SetInt("a", 20)
	expect(t, `{"z":1,"a":20,"m":3}`, o.String())
}

func TestFloatSerialization(t *testing.T) {
	o := NewObject()
	defer o.Unref()

	o.SetFloat("whole", 2)
	o.SetFloat("neg", -3)
	o.SetFloat("exp", 1e21)
	expect(t, `{"whole":2.0,"neg":-3.0,"exp":1e+21}`, o.String())

	// Integral floats must not reparse as ints.
	parsed, err := ObjectFromJSON([]byte(o.String()))
	if err != nil {
		t.Fatal(err)
	}
	defer parsed.Unref()
	for _, field := range []string{"whole", "neg", "exp"} {
		if k, _ := parsed.FieldKind(field); k != KindFloat {
			t.Fatalf("%s reparsed as %v", field, k)
		}
	}
}

func TestFloatNonFinite(t *testing.T) {
	o := NewObject()
	defer o.Unref()

	o.SetFloat("nan", math.NaN())
	o.SetFloat("posinf", math.Inf(1))
	o.SetFloat("neginf", math.Inf(-1))
	expect(t, `{"nan":null,"posinf":null,"neginf":null}`, o.String())
}

func TestSetNullOverwrites(t *testing.T) {
	o := NewObject()
	defer o.Unref()

	o.SetString("field", "value")
	o.SetNull("field")

	if o.Len() != 1 {
		t.Fatalf("field was removed, want overwrite")
	}
	expect(t, `{"field":null}`, o.String())
}

func TestObjectGetErrors(t *testing.T) {
	o := NewObject()
	defer o.Unref()
	o.SetInt("n", 7)

	t.Run("UnknownField", func(t *testing.T) {
		_, err := o.GetString("missing")
		expectError(t, ErrUnknownField, err)
	})

	t.Run("InvalidType", func(t *testing.T) {
		_, err := o.GetString("n")
		expectError(t, ErrInvalidType, err)
	})

	t.Run("IntAsFloat", func(t *testing.T) {
		f, err := o.GetFloat("n")
		if err != nil || f != 7 {
			t.Fatalf("int not readable as float: %v %v", f, err)
		}
	})
}

func TestArray(t *testing.T) {
	a := NewArray()
	defer a.Unref()

	a.AppendNull()
	a.AppendBool(true)
	a.AppendInt(3)
	a.AppendFloat(2.25)
	a.AppendString("s")

	if a.Len() != 5 {
		t.Fatalf("len: %d", a.Len())
	}
	expect(t, `[null,true,3,2.25,"s"]`, a.String())

	t.Run("InvalidIndex", func(t *testing.T) {
		_, err := a.GetInt(5)
		expectError(t, ErrInvalidIndex, err)
		_, err = a.GetInt(-1)
		expectError(t, ErrInvalidIndex, err)
	})

	t.Run("InvalidType", func(t *testing.T) {
		_, err := a.GetString(2)
		expectError(t, ErrInvalidType, err)
	})
}

func TestRoundTrip(t *testing.T) {
	o := NewObject()
	defer o.Unref()

	o.SetString("name", "grüße ☃")
	o.SetInt("count", 9007199254740991)
	o.SetFloat("ratio", 0.125)
	o.SetBool("ok", true)
	o.SetNull("nothing")

	list := NewArray()
	nested := NewObject()
	nested.SetString("k", "v")
	list.AppendObject(nested)
	nested.Unref()
	list.AppendInt(-1)
	o.SetArray("list", list)
	list.Unref()

	text := o.String()
	parsed, err := ObjectFromJSON([]byte(text))
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	defer parsed.Unref()

	expect(t, text, parsed.String())

	names := parsed.FieldNames()
	want := []string{"name", "count", "ratio", "ok", "nothing", "list"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("field order lost: %v", names)
		}
	}
}

func TestParse(t *testing.T) {
	t.Run("NumberKinds", func(t *testing.T) {
		o, err := ObjectFromJSON([]byte(`{"i":1,"f":1.0,"e":1e3}`))
		if err != nil {
			t.Fatal(err)
		}
		defer o.Unref()

		if k, _ := o.FieldKind("i"); k != KindInt {
			t.Fatalf("integer literal parsed as %v", k)
		}
		if k, _ := o.FieldKind("f"); k != KindFloat {
			t.Fatalf("float literal parsed as %v", k)
		}
		if k, _ := o.FieldKind("e"); k != KindFloat {
			t.Fatalf("exponent literal parsed as %v", k)
		}
	})

	t.Run("Escapes", func(t *testing.T) {
		o, err := ObjectFromJSON([]byte(`{"s":"A\n\t\""}`))
		if err != nil {
			t.Fatal(err)
		}
		defer o.Unref()

		s, err := o.GetString("s")
		if err != nil {
			t.Fatal(err)
		}
		expect(t, "A\n\t\"", s)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := ObjectFromJSON([]byte(`{"a":}`))
		expectError(t, ErrInvalidJson, err)
	})

	t.Run("TrailingGarbage", func(t *testing.T) {
		_, err := ObjectFromJSON([]byte(`{"a":1} x`))
		expectError(t, ErrInvalidJson, err)
	})

	t.Run("NotAnObject", func(t *testing.T) {
		_, err := ObjectFromJSON([]byte(`[1,2]`))
		expectError(t, ErrInvalidJson, err)
	})
}

func TestParsedReadOnly(t *testing.T) {
	o, err := ObjectFromJSON([]byte(`{"a":1,"nested":{"b":2},"list":[1]}`))
	if err != nil {
		t.Fatal(err)
	}
	defer o.Unref()

	expectError(t, ErrReadOnly, o.SetInt("a", 2))
	expectError(t, ErrReadOnly, o.SetNull("new"))

	nested, err := o.GetObject("nested")
	if err != nil {
		t.Fatal(err)
	}
	expectError(t, ErrReadOnly, nested.SetInt("b", 3))

	list, err := o.GetArray("list")
	if err != nil {
		t.Fatal(err)
	}
	expectError(t, ErrReadOnly, list.AppendInt(2))
}

func TestReferenceCounting(t *testing.T) {
	child := NewObject()
	child.SetString("k", "v")

	parent := NewObject()
	parent.SetObject("child", child)

	// The parent holds its own reference; dropping ours must keep the
	// child alive through the parent.
	child.Unref()
	got, err := parent.GetObject("child")
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := got.GetString("k"); s != "v" {
		t.Fatalf("child not owned by parent")
	}

	// An extra reference keeps the child alive past the parent.
	got.Ref()
	parent.Unref()
	if s, _ := got.GetString("k"); s != "v" {
		t.Fatalf("child released with the parent despite reference")
	}
	got.Unref()
}

func TestErrorString(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want string
	}{
		{ErrPanic, "Panic"},
		{ErrMethodNotFound, "MethodNotFound"},
		{ErrSendingMessage, "SendingMessage"},
		{ErrReceivingMessage, "ReceivingMessage"},
		{ErrInvalidIndex, "InvalidIndex"},
		{ErrAccessDenied, "AccessDenied"},
		{ErrConnectionClosed, "ConnectionClosed"},
		{0, "<invalid>"},
		{-5, "<invalid>"},
		{errMax, "<invalid>"},
		{errMax + 100, "<invalid>"},
	}
	for _, c := range cases {
		if got := ErrorString(c.code); got != c.want {
			t.Fatalf("ErrorString(%d) = %q, want %q", c.code, got, c.want)
		}
	}

	if ErrSendingMessage != 11 || ErrInvalidIndex != 13 || ErrConnectionClosed != 20 {
		t.Fatalf("error codes diverge from the canonical enum")
	}
}
