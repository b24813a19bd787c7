//go:build !unix

package dhcp

import (
	"context"
	"fmt"
	"net"
)

func listenUDP(ctx context.Context, iface, addr string) (net.PacketConn, error) {
	if iface != "" {
		return nil, fmt.Errorf("binding to interface %s is not supported on this platform", iface)
	}
	var lc net.ListenConfig
	return lc.ListenPacket(ctx, "udp4", addr)
}
