package varlink

import (
	"testing"
)

func TestIDLParse(t *testing.T) {
	idl, err := ParseInterfaceDescription(`# Interface to jump a spacecraft to another point in space.
interface org.example.spacecraft

type DriveCondition (
	state: (idle, spooling, busy),
	tylium_level: int
)

# Jump to the coordinates.
method Jump(longitude: float, latitude: float, distance: int) -> (condition: DriveCondition)

method List() -> (crew: string[])

error NotEnoughEnergy ()
error ParameterOutOfRange (field: string)`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	expect(t, "org.example.spacecraft", idl.Name)
	expect(t, "Interface to jump a spacecraft to another point in space.", idl.Doc)

	alias, ok := idl.Aliases["DriveCondition"]
	if !ok {
		t.Fatal("DriveCondition alias missing")
	}
	if alias.Type.Kind != TypeStruct || len(alias.Type.Fields) != 2 {
		t.Fatalf("DriveCondition parsed wrong: %+v", alias.Type)
	}
	if alias.Type.Fields[0].Type.Kind != TypeEnum {
		t.Fatal("state is not an enum")
	}

	jump, ok := idl.Methods["Jump"]
	if !ok {
		t.Fatal("Jump method missing")
	}
	expect(t, "Jump to the coordinates.", jump.Doc)
	if len(jump.In.Fields) != 3 || jump.In.Fields[2].Type.Kind != TypeInt {
		t.Fatalf("Jump input parsed wrong: %+v", jump.In)
	}
	if jump.Out.Fields[0].Type.Kind != TypeAlias || jump.Out.Fields[0].Type.Alias != "DriveCondition" {
		t.Fatalf("Jump output parsed wrong: %+v", jump.Out)
	}

	list := idl.Methods["List"]
	crew := list.Out.Fields[0].Type
	if crew.Kind != TypeArray || crew.ElementType.Kind != TypeString {
		t.Fatalf("crew parsed wrong: %+v", crew)
	}

	if _, ok := idl.Errors["NotEnoughEnergy"]; !ok {
		t.Fatal("NotEnoughEnergy error missing")
	}
	decl := idl.Errors["ParameterOutOfRange"]
	if decl.Type == nil || decl.Type.Fields[0].Name != "field" {
		t.Fatalf("ParameterOutOfRange parsed wrong: %+v", decl)
	}
}

func TestIDLParseErrors(t *testing.T) {
	cases := map[string]string{
		"NoKeyword":        `method Foo() -> ()`,
		"BareName":         `interface com`,
		"TrailingDot":      `interface com.example. method F() -> ()`,
		"MissingArrow":     "interface org.example.test\nmethod Foo() ()",
		"MissingOutput":    "interface org.example.test\nmethod Foo() ->",
		"UnknownKeyword":   "interface org.example.test\nfunc Foo() -> ()",
		"UnterminatedList": "interface org.example.test\nmethod Foo(a: int -> ()",
	}
	for name, description := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseInterfaceDescription(description); err == nil {
				t.Fatalf("parsed invalid description: %q", description)
			}
		})
	}
}

func TestIDLDescriptionKept(t *testing.T) {
	description := "interface org.example.test\n\nmethod Ping() -> ()"
	idl, err := ParseInterfaceDescription(description)
	if err != nil {
		t.Fatal(err)
	}
	expect(t, description, idl.Description)
}
