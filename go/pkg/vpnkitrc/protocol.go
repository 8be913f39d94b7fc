package vpnkitrc

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Protocol used by a forward
type Protocol string

const (
	// TCP forwards a TCP port
	TCP = Protocol("tcp")
	// UDP forwards a UDP port
	UDP = Protocol("udp")
	// Unix forwards a Unix domain socket (or a Windows named pipe)
	Unix = Protocol("unix")
)

// ParseProtocol accepts only the lowercase protocol names.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(s); p {
	case TCP, UDP, Unix:
		return p, nil
	}
	return "", errors.Errorf("unknown protocol %q: expected tcp, udp or unix", s)
}

func (p Protocol) String() string {
	return string(p)
}

func (p Protocol) MarshalJSON() ([]byte, error) {
	if _, err := ParseProtocol(string(p)); err != nil {
		return nil, err
	}
	return json.Marshal(string(p))
}

func (p *Protocol) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "protocol must be a string")
	}
	parsed, err := ParseProtocol(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
