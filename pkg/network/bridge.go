// Package network provides the single user-mode network stack every
// isolated box's guest NIC attaches to: a gvisor-tap-vsock virtual network
// offering DHCP and outbound NAT on a fixed subnet, with no box able to
// see another box's traffic (spec.md §6, §9).
package network

import (
	"context"
	"net"
	"os"

	"github.com/containers/gvisor-tap-vsock/pkg/types"
	"github.com/containers/gvisor-tap-vsock/pkg/virtualnetwork"

	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/pkg/log"
)

const (
	subnetCIDR = "192.168.127.0/24"
	gatewayIP  = "192.168.127.1"
	gatewayMAC = "5a:94:ef:e4:0c:ee"
)

// Bridge owns one host-wide virtual network. Every box dials into it
// through its own unix socket speaking gvisor-tap-vsock's qemu wire
// protocol, so boxes share the NAT/DHCP plumbing without sharing an L2
// segment with each other.
type Bridge struct {
	vn *virtualnetwork.VirtualNetwork
}

// NewBridge starts the virtual network. One Bridge is shared by every box
// the runtime manages.
func NewBridge() (*Bridge, error) {
	cfg := &types.Configuration{
		Debug:             false,
		MTU:               1500,
		Subnet:            subnetCIDR,
		GatewayIP:         gatewayIP,
		GatewayMacAddress: gatewayMAC,
		DHCPStaticLeases:  map[string]string{},
		DNS:               []types.Zone{},
		Forwards:          map[string]string{},
		NAT:               map[string]string{},
		GatewayVirtualIPs: []string{gatewayIP},
		Protocol:          types.QemuProtocol,
	}

	vn, err := virtualnetwork.NewVirtualNetwork(cfg)
	if err != nil {
		return nil, boxerr.Newf(boxerr.KindInternal, err, "start virtual network")
	}
	return &Bridge{vn: vn}, nil
}

// ServeBox listens on sockPath for the box's VMM to dial in as a qemu
// socket netdev client, bridging every accepted connection into the
// shared virtual network until ctx is cancelled. Run in its own goroutine
// for the lifetime of one box.
func (b *Bridge) ServeBox(ctx context.Context, boxID, sockPath string) error {
	os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "listen %s", sockPath)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger := log.WithBoxID(boxID)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return boxerr.Newf(boxerr.KindInternal, err, "accept on %s", sockPath)
		}
		go func() {
			if err := b.vn.AcceptQemu(ctx, conn); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("network bridge connection ended")
			}
		}()
	}
}
