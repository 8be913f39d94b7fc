package vpnkitrc

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Rule is a single port or pipe forward understood by vpnkit.
//
// Every field is optional: TCP and UDP rules use the port and address fields
// while Unix rules use the path fields. The daemon rejects nonsensical
// combinations, not the client. Prefer PortRule and PipeRule to building a
// Rule by hand.
type Rule struct {
	// InPort is the port to listen on
	InPort *int `json:"in_port,omitempty"`
	// OutPort is the port to forward to
	OutPort *int      `json:"out_port,omitempty"`
	Proto   *Protocol `json:"proto,omitempty"`
	// InIP is the address to listen on
	InIP *string `json:"in_ip,omitempty"`
	// OutIP is the address to forward to
	OutIP *string `json:"out_ip,omitempty"`
	// InPath is the Unix socket to listen on
	InPath *string `json:"in_path,omitempty"`
	// OutPath is the Unix socket to forward to
	OutPath *string `json:"out_path,omitempty"`
}

// PortRule returns a TCP or UDP forward from inIP:inPort to outIP:outPort.
// Empty addresses are left unset.
func PortRule(proto Protocol, inIP string, inPort int, outIP string, outPort int) Rule {
	return Rule{
		Proto:   &proto,
		InIP:    optionalString(inIP),
		InPort:  &inPort,
		OutIP:   optionalString(outIP),
		OutPort: &outPort,
	}
}

// PipeRule returns a forward from the socket at inPath to the socket at outPath.
func PipeRule(inPath, outPath string) Rule {
	proto := Unix
	return Rule{
		Proto:   &proto,
		InPath:  optionalString(inPath),
		OutPath: optionalString(outPath),
	}
}

// IsPipe is true for rules which must be sent to the pipe endpoints.
func (r Rule) IsPipe() bool {
	if r.Proto != nil {
		return *r.Proto == Unix
	}
	return r.InPath != nil || r.OutPath != nil
}

// Equal compares every field by value.
func (r Rule) Equal(o Rule) bool {
	return equalInt(r.InPort, o.InPort) &&
		equalInt(r.OutPort, o.OutPort) &&
		equalProto(r.Proto, o.Proto) &&
		equalString(r.InIP, o.InIP) &&
		equalString(r.OutIP, o.OutIP) &&
		equalString(r.InPath, o.InPath) &&
		equalString(r.OutPath, o.OutPath)
}

// String returns proto:inIP:inPort:proto:outIP:outPort for port rules and
// unix:inPath:unix:outPath for pipe rules. ParseRule reverses it.
func (r Rule) String() string {
	proto := ""
	if r.Proto != nil {
		proto = string(*r.Proto)
	}
	if r.IsPipe() {
		return string(Unix) + ":" + deref(r.InPath) + ":" + string(Unix) + ":" + deref(r.OutPath)
	}
	return proto + ":" + endpoint(r.InIP, r.InPort) + ":" + proto + ":" + endpoint(r.OutIP, r.OutPort)
}

// ParseRule parses the format produced by Rule.String.
func ParseRule(spec string) (Rule, error) {
	i := strings.Index(spec, ":")
	if i == -1 {
		return Rule{}, errors.Errorf("rule %q has no protocol prefix", spec)
	}
	proto, err := ParseProtocol(spec[:i])
	if err != nil {
		return Rule{}, errors.Wrapf(err, "parsing rule %q", spec)
	}
	rest := spec[i+1:]
	sep := ":" + string(proto) + ":"
	j := strings.Index(rest, sep)
	if j == -1 {
		return Rule{}, errors.Errorf("rule %q has no %s separator", spec, sep)
	}
	in, out := rest[:j], rest[j+len(sep):]
	if proto == Unix {
		return PipeRule(in, out), nil
	}
	r := Rule{Proto: &proto}
	if r.InIP, r.InPort, err = parseEndpoint(in); err != nil {
		return Rule{}, errors.Wrapf(err, "parsing rule %q", spec)
	}
	if r.OutIP, r.OutPort, err = parseEndpoint(out); err != nil {
		return Rule{}, errors.Wrapf(err, "parsing rule %q", spec)
	}
	return r, nil
}

func endpoint(ip *string, port *int) string {
	p := ""
	if port != nil {
		p = strconv.Itoa(*port)
	}
	return net.JoinHostPort(deref(ip), p)
}

func parseEndpoint(s string) (*string, *int, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return nil, nil, err
	}
	if port == "" {
		return optionalString(host), nil, nil
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return nil, nil, errors.Errorf("port %q is not a number between 0 and 65535", port)
	}
	p := int(n)
	return optionalString(host), &p, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalProto(a, b *Protocol) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
