package varlink

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
)

// TypeKind tags a type expression in an interface description.
type TypeKind uint

const (
	TypeBool TypeKind = iota
	TypeInt
	TypeFloat
	TypeString
	TypeArray
	TypeStruct
	TypeEnum
	TypeAlias
)

// Type is a parsed type expression.
type Type struct {
	Kind        TypeKind
	ElementType *Type
	Alias       string
	Fields      []TypeField
}

type TypeField struct {
	Name string
	Type *Type
}

// IDL is a parsed varlink interface description: the interface name and
// its declared aliases, methods and errors.
type IDL struct {
	Name        string
	Doc         string
	Description string
	Aliases     map[string]*Alias
	Methods     map[string]*Method
	Errors      map[string]*ErrorDecl
}

// Alias is a named type declaration.
type Alias struct {
	Name string
	Doc  string
	Type *Type
}

// Method is a declared method signature.
type Method struct {
	Name string
	Doc  string
	In   *Type
	Out  *Type
}

// ErrorDecl is a declared error and its parameter type.
type ErrorDecl struct {
	Name string
	Type *Type
}

type idlParser struct {
	input       string
	position    int
	lastComment bytes.Buffer
}

func (p *idlParser) next() int {
	if p.position >= len(p.input) {
		p.position++
		return -1
	}
	c := int(p.input[p.position])
	p.position++
	return c
}

func (p *idlParser) backup() {
	p.position--
}

// advance skips whitespace and collects doc comments preceding the next
// token.
func (p *idlParser) advance() bool {
	for {
		switch c := p.next(); {
		case c == '\n':
			p.lastComment.Reset()

		case c == ' ' || c == '\t':
			// skip

		case c == '#':
			p.next()
			start := p.position
			for {
				c := p.next()
				if c < 0 || c == '\n' {
					p.backup()
					break
				}
			}
			if p.lastComment.Len() > 0 {
				p.lastComment.WriteByte('\n')
			}
			p.lastComment.WriteString(p.input[start:p.position])
			p.next()

		default:
			p.backup()
			return p.position < len(p.input)
		}
	}
}

func (p *idlParser) advanceOnLine() {
	for p.next() == ' ' {
	}
	p.backup()
}

func (p *idlParser) readKeyword() string {
	start := p.position
	for {
		if c := p.next(); c < 'a' || c > 'z' {
			p.backup()
			break
		}
	}
	return p.input[start:p.position]
}

func (p *idlParser) readInterfaceName() string {
	start := p.position
	for {
		c := p.next()
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '.' {
			p.backup()
			break
		}
	}

	name := p.input[start:p.position]
	if len(name) < 3 || len(name) > 255 {
		return ""
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return ""
	}
	for _, part := range parts {
		if part == "" || strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return ""
		}
	}
	return name
}

func (p *idlParser) readFieldName() string {
	start := p.position
	if c := p.next(); (c < 'a' || c > 'z') && c != '_' {
		p.backup()
		return ""
	}
	for {
		c := p.next()
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			p.backup()
			break
		}
	}
	return p.input[start:p.position]
}

func (p *idlParser) readTypeName() string {
	start := p.position
	for {
		c := p.next()
		if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			p.backup()
			break
		}
	}
	return p.input[start:p.position]
}

func (p *idlParser) readStructType() *Type {
	if p.next() != '(' {
		p.backup()
		return nil
	}

	t := &Type{Kind: TypeStruct, Fields: []TypeField{}}

	c := p.next()
	if c != ')' {
		p.backup()

		for {
			var field TypeField

			p.advance()
			field.Name = p.readFieldName()
			if field.Name == "" {
				return nil
			}

			p.advance()

			// Enum members carry no type, they are just names.
			if p.next() == ':' {
				if t.Kind == TypeEnum {
					return nil
				}
				p.advance()
				field.Type = p.readType()
				if field.Type == nil {
					return nil
				}
			} else {
				t.Kind = TypeEnum
				p.backup()
			}

			t.Fields = append(t.Fields, field)

			p.advance()
			c = p.next()
			if c != ',' {
				break
			}
		}

		if c != ')' {
			return nil
		}
	}

	return t
}

func (p *idlParser) readType() *Type {
	var t *Type

	if keyword := p.readKeyword(); keyword != "" {
		switch keyword {
		case "bool":
			t = &Type{Kind: TypeBool}
		case "int":
			t = &Type{Kind: TypeInt}
		case "float":
			t = &Type{Kind: TypeFloat}
		case "string":
			t = &Type{Kind: TypeString}
		default:
			return nil
		}
	} else if name := p.readTypeName(); name != "" {
		t = &Type{Kind: TypeAlias, Alias: name}
	} else if t = p.readStructType(); t == nil {
		return nil
	}

	if p.next() == '[' {
		if p.next() != ']' {
			return nil
		}
		t = &Type{Kind: TypeArray, ElementType: t}
	} else {
		p.backup()
	}

	return t
}

func (p *idlParser) readAlias() (*Alias, error) {
	a := &Alias{}

	p.advance()
	a.Doc = p.lastComment.String()
	a.Name = p.readTypeName()
	if a.Name == "" {
		return nil, errors.New("missing type name")
	}

	p.advance()
	a.Type = p.readType()
	if a.Type == nil {
		return nil, errors.Errorf("missing declaration for type %s", a.Name)
	}

	return a, nil
}

func (p *idlParser) readMethod() (*Method, error) {
	m := &Method{}

	p.advance()
	m.Doc = p.lastComment.String()
	m.Name = p.readTypeName()
	if m.Name == "" {
		return nil, errors.New("missing method name")
	}

	p.advance()
	m.In = p.readType()
	if m.In == nil {
		return nil, errors.Errorf("missing input for method %s", m.Name)
	}

	p.advance()
	if p.next() != '-' || p.next() != '>' {
		return nil, errors.Errorf("missing '->' for method %s", m.Name)
	}

	p.advance()
	m.Out = p.readType()
	if m.Out == nil {
		return nil, errors.Errorf("missing output for method %s", m.Name)
	}

	return m, nil
}

func (p *idlParser) readError() (*ErrorDecl, error) {
	e := &ErrorDecl{}

	p.advance()
	e.Name = p.readTypeName()
	if e.Name == "" {
		return nil, errors.New("missing error name")
	}

	p.advanceOnLine()
	e.Type = p.readType()

	return e, nil
}

func (p *idlParser) readInterface() (*IDL, error) {
	if keyword := p.readKeyword(); keyword != "interface" {
		return nil, errors.New("missing interface keyword")
	}

	idl := &IDL{
		Aliases: make(map[string]*Alias),
		Methods: make(map[string]*Method),
		Errors:  make(map[string]*ErrorDecl),
	}

	p.advance()
	idl.Doc = p.lastComment.String()
	idl.Name = p.readInterfaceName()
	if idl.Name == "" {
		return nil, errors.New("invalid interface name")
	}

	for p.advance() {
		switch keyword := p.readKeyword(); keyword {
		case "type":
			a, err := p.readAlias()
			if err != nil {
				return nil, err
			}
			idl.Aliases[a.Name] = a

		case "method":
			m, err := p.readMethod()
			if err != nil {
				return nil, err
			}
			idl.Methods[m.Name] = m

		case "error":
			e, err := p.readError()
			if err != nil {
				return nil, err
			}
			idl.Errors[e.Name] = e

		default:
			return nil, errors.Errorf("unknown keyword '%s'", keyword)
		}
	}

	return idl, nil
}

// ParseInterfaceDescription parses a varlink interface description into
// its declared aliases, methods and errors.
func ParseInterfaceDescription(description string) (*IDL, error) {
	p := &idlParser{input: description}

	p.advance()
	idl, err := p.readInterface()
	if err != nil {
		return nil, err
	}

	if p.advance() {
		return nil, errors.Errorf("trailing input: %s", p.input[p.position:])
	}

	idl.Description = description
	return idl, nil
}
