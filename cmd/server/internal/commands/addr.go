package commands

import (
	"fmt"
	"net/netip"

	"github.com/alecthomas/kong"
)

// SocketAddr is a literal IP address and port such as 0.0.0.0:8080 or
// [::1]:8080. Host names are rejected.
type SocketAddr struct {
	netip.AddrPort
}

// Decode implements kong.MapperValue.
func (s *SocketAddr) Decode(ctx *kong.DecodeContext) error {
	var value string
	if err := ctx.Scan.PopValueInto("address", &value); err != nil {
		return err
	}

	addr, err := netip.ParseAddrPort(value)
	if err != nil {
		return fmt.Errorf("invalid socket address %q: %w", value, err)
	}

	s.AddrPort = addr
	return nil
}
