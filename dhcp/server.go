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

package dhcp

import (
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/miracast-ctl/eventloop"
)

const defaultServerBin = "/usr/sbin/udhcpd"

// The group-owner side of a P2P group uses a fixed subnet; clients lease
// out of the range below.
var (
	serverAddress = netip.MustParseAddr("192.168.7.1")
	leaseStart    = "192.168.7.5"
	leaseEnd      = "192.168.7.30"
)

// Server runs a DHCP server daemon on the P2P interface while this host is
// the group owner.
type Server struct {
	log   logger.Logger
	loop  *eventloop.Loop
	iface string

	binPath  string
	confPath string

	cmd *exec.Cmd
}

func NewServer(log logger.Logger, loop *eventloop.Loop, iface string) *Server {
	return &Server{
		log:      log,
		loop:     loop,
		iface:    iface,
		binPath:  defaultServerBin,
		confPath: fmt.Sprintf("/tmp/dhcpd-%s.conf", iface),
	}
}

// Start writes the server config, brings the fixed group-owner address up
// on the interface and spawns the daemon. Must be called on the loop.
func (s *Server) Start() error {
	if s.cmd != nil {
		return nil
	}

	if err := s.writeConfig(); err != nil {
		return err
	}

	// Best effort; the interface may already carry the address from a
	// previous group.
	if out, err := exec.Command("/sbin/ip", "addr", "add",
		serverAddress.String()+"/24", "dev", s.iface).CombinedOutput(); err != nil {
		s.log.Debugw("could not configure group owner address",
			"iface", s.iface, "output", string(out))
	}

	cmd := exec.Command(s.binPath, "-f", s.confPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: unix.SIGKILL}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("dhcp: spawn server: %w", err)
	}
	s.cmd = cmd

	s.loop.AddChildWatch(cmd.Wait, func(err error) {
		if s.cmd != cmd {
			return
		}
		s.cmd = nil
		if err != nil {
			s.log.Warnw("dhcp server exited", err)
		}
	})
	return nil
}

// Stop kills the server daemon and drops its config.
func (s *Server) Stop() {
	if s.cmd != nil {
		cmd := s.cmd
		s.cmd = nil
		_ = cmd.Process.Kill()
	}
	removeIfExists(s.confPath)
}

// LocalAddress is the fixed address of the group owner side.
func (s *Server) LocalAddress() netip.Addr {
	return serverAddress
}

func (s *Server) writeConfig() error {
	conf := fmt.Sprintf("start %s\nend %s\ninterface %s\noption subnet 255.255.255.0\n",
		leaseStart, leaseEnd, s.iface)
	if err := os.WriteFile(s.confPath, []byte(conf), 0644); err != nil {
		return fmt.Errorf("dhcp: write server config: %w", err)
	}
	return nil
}
