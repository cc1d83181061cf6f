// Package portal is the RPC bridge between the runtime and a box's guest
// agent: transport addressing, lazy connection management, and the typed
// Guest/Container/Execution service clients (spec.md §4.6).
package portal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/boxlite/pkg/boxerr"
)

// Kind identifies which of the three transports a box's guest agent is
// reachable over.
type Kind string

const (
	KindUnix  Kind = "unix"
	KindTCP   Kind = "tcp"
	KindVsock Kind = "vsock"
)

// Transport addresses one guest agent endpoint. Exactly the fields for
// its Kind are meaningful; String/ParseURI round-trip losslessly
// (spec.md §8 property 5).
type Transport struct {
	Kind Kind

	// unix
	Path string

	// tcp
	Host string
	Port int

	// vsock
	CID      uint32
	VsockPort uint32
}

// String renders the transport as a URI: unix:///path,
// tcp://host:port, vsock://cid:port.
func (t Transport) String() string {
	switch t.Kind {
	case KindUnix:
		return "unix://" + t.Path
	case KindTCP:
		return fmt.Sprintf("tcp://%s:%d", t.Host, t.Port)
	case KindVsock:
		return fmt.Sprintf("vsock://%d:%d", t.CID, t.VsockPort)
	default:
		return ""
	}
}

// ParseURI parses a transport URI produced by String.
func ParseURI(uri string) (Transport, error) {
	switch {
	case strings.HasPrefix(uri, "unix://"):
		return Transport{Kind: KindUnix, Path: strings.TrimPrefix(uri, "unix://")}, nil
	case strings.HasPrefix(uri, "tcp://"):
		rest := strings.TrimPrefix(uri, "tcp://")
		host, portStr, err := splitHostPort(rest)
		if err != nil {
			return Transport{}, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Transport{}, boxerr.Newf(boxerr.KindInvalidTransport, err, "invalid tcp port in %q", uri)
		}
		return Transport{Kind: KindTCP, Host: host, Port: port}, nil
	case strings.HasPrefix(uri, "vsock://"):
		rest := strings.TrimPrefix(uri, "vsock://")
		cidStr, portStr, err := splitHostPort(rest)
		if err != nil {
			return Transport{}, err
		}
		cid, err := strconv.ParseUint(cidStr, 10, 32)
		if err != nil {
			return Transport{}, boxerr.Newf(boxerr.KindInvalidTransport, err, "invalid vsock cid in %q", uri)
		}
		port, err := strconv.ParseUint(portStr, 10, 32)
		if err != nil {
			return Transport{}, boxerr.Newf(boxerr.KindInvalidTransport, err, "invalid vsock port in %q", uri)
		}
		return Transport{Kind: KindVsock, CID: uint32(cid), VsockPort: uint32(port)}, nil
	default:
		return Transport{}, boxerr.Newf(boxerr.KindInvalidTransport, nil, "unrecognized transport uri %q", uri)
	}
}

func splitHostPort(s string) (string, string, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", "", boxerr.Newf(boxerr.KindInvalidTransport, nil, "missing port in %q", s)
	}
	return s[:i], s[i+1:], nil
}
