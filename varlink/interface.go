package varlink

// InterfaceBuilder accumulates method registrations for one interface
// before it is finalized into a Service's dispatch table.
type InterfaceBuilder struct {
	idl     *IDL
	err     error
	names   []string
	methods map[string]MethodFunc
}

// NewInterface starts building an interface from its varlink interface
// description. A description that does not parse surfaces as an
// InvalidInterface error when the builder is added to a Service.
func NewInterface(description string) *InterfaceBuilder {
	b := &InterfaceBuilder{methods: make(map[string]MethodFunc)}
	b.idl, b.err = ParseInterfaceDescription(description)
	return b
}

// Method registers the callback for one of the interface's methods. The
// name is interface-local, without the interface prefix.
func (b *InterfaceBuilder) Method(name string, fn MethodFunc) *InterfaceBuilder {
	if _, ok := b.methods[name]; !ok {
		b.names = append(b.names, name)
	}
	b.methods[name] = fn
	return b
}

// Name returns the interface name, or "" if the description did not
// parse.
func (b *InterfaceBuilder) Name() string {
	if b.idl == nil {
		return ""
	}
	return b.idl.Name
}
