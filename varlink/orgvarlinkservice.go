package varlink

import (
	"sort"
)

const serviceInterfaceName = "org.varlink.service"

const serviceInterfaceDescription = `# The Varlink Service Interface is provided by every varlink service. It
# describes the service and the interfaces it implements.
interface org.varlink.service

# Get a list of all the interfaces a service provides and information
# about the implementation.
method GetInfo() -> (
  vendor: string,
  product: string,
  version: string,
  url: string,
  interfaces: string[]
)

# Get the description of an interface that is implemented by this service.
method GetInterfaceDescription(interface: string) -> (description: string)

# The requested interface was not found.
error InterfaceNotFound (interface: string)

# The requested method was not found
error MethodNotFound (method: string)

# The interface defines the requested method, but the service does not
# implement it.
error MethodNotImplemented (method: string)

# One of the passed parameters is invalid.
error InvalidParameter (parameter: string)`

// registerServiceInterface installs org.varlink.service, which every
// service implements.
func (s *Service) registerServiceInterface() error {
	b := NewInterface(serviceInterfaceDescription)
	b.Method("GetInfo", getInfo)
	b.Method("GetInterfaceDescription", getInterfaceDescription)
	return s.AddInterface(b)
}

func getInfo(s *Service, call *Call, _ *Object, _ uint64) error {
	names := make([]string, 0, len(s.interfaces))
	for name := range s.interfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	interfaces := NewArray()
	defer interfaces.Unref()
	for _, name := range names {
		interfaces.AppendString(name)
	}

	p := NewObject()
	defer p.Unref()
	p.SetString("vendor", s.vendor)
	p.SetString("product", s.product)
	p.SetString("version", s.version)
	p.SetString("url", s.url)
	p.SetArray("interfaces", interfaces)
	return call.Reply(p, 0)
}

func getInterfaceDescription(s *Service, call *Call, parameters *Object, _ uint64) error {
	name, err := parameters.GetString("interface")
	if err != nil {
		return call.ReplyInvalidParameter("interface")
	}
	idl, ok := s.interfaces[name]
	if !ok {
		return call.ReplyInvalidParameter("interface")
	}

	p := NewObject()
	defer p.Unref()
	p.SetString("description", idl.Description)
	return call.Reply(p, 0)
}
