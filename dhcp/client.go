// Copyright 2025 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dhcp wraps the external DHCP daemons the daemon runs on the P2P
// interface once a group is formed: a client when this host joined as a
// group client, a server when it became the group owner.
package dhcp

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/miracast-ctl/eventloop"
)

const (
	defaultClientBin = "/sbin/udhcpc"
	addressPollEvery = 500 * time.Millisecond
)

// ClientDelegate learns the address the lease handed us. Invoked on the
// event loop.
type ClientDelegate interface {
	OnAddressAssigned(addr netip.Addr)
}

// Client runs a DHCP client daemon on the P2P interface and polls the
// interface until an IPv4 address shows up.
type Client struct {
	log      logger.Logger
	loop     *eventloop.Loop
	iface    string
	delegate ClientDelegate

	binPath    string
	lookupAddr func(iface string) (netip.Addr, bool)

	cmd       *exec.Cmd
	addr      netip.Addr
	pollTimer eventloop.TimerID
	polling   bool
}

func NewClient(log logger.Logger, loop *eventloop.Loop, iface string, delegate ClientDelegate) *Client {
	return &Client{
		log:        log,
		loop:       loop,
		iface:      iface,
		delegate:   delegate,
		binPath:    defaultClientBin,
		lookupAddr: interfaceIPv4,
	}
}

// Start spawns the client daemon. Must be called on the loop.
func (c *Client) Start() error {
	if c.cmd != nil {
		return nil
	}

	cmd := exec.Command(c.binPath, "-f", "-q", "-i", c.iface)
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: unix.SIGKILL}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("dhcp: spawn client: %w", err)
	}
	c.cmd = cmd
	c.addr = netip.Addr{}

	c.loop.AddChildWatch(cmd.Wait, func(err error) {
		if c.cmd != cmd {
			return
		}
		c.cmd = nil
		if err != nil {
			c.log.Warnw("dhcp client exited", err)
		}
	})

	c.schedulePoll()
	return nil
}

// Stop kills the client daemon and forgets the lease.
func (c *Client) Stop() {
	if c.polling {
		c.loop.Cancel(c.pollTimer)
		c.polling = false
	}
	if c.cmd != nil {
		cmd := c.cmd
		c.cmd = nil
		_ = cmd.Process.Kill()
	}
	c.addr = netip.Addr{}
}

// LocalAddress returns the assigned address, or the zero Addr before the
// lease came in.
func (c *Client) LocalAddress() netip.Addr {
	return c.addr
}

func (c *Client) schedulePoll() {
	c.polling = true
	c.pollTimer = c.loop.AfterFunc(addressPollEvery, c.poll)
}

func (c *Client) poll() {
	c.polling = false
	if c.cmd == nil {
		return
	}
	addr, ok := c.lookupAddr(c.iface)
	if !ok {
		c.schedulePoll()
		return
	}
	c.addr = addr
	c.log.Infow("dhcp lease acquired", "iface", c.iface, "address", addr)
	if c.delegate != nil {
		c.delegate.OnAddressAssigned(addr)
	}
}

// interfaceIPv4 reads the first IPv4 address currently configured on iface.
func interfaceIPv4(iface string) (netip.Addr, bool) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return netip.Addr{}, false
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return netip.Addr{}, false
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			addr, _ := netip.AddrFromSlice(ip4)
			return addr, true
		}
	}
	return netip.Addr{}, false
}

func removeIfExists(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
}
