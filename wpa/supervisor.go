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

package wpa

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/frostbyte73/core"
	"golang.org/x/sys/unix"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/miracast-ctl/eventloop"
)

const supplicantConfig = "# GENERATED - DO NOT EDIT!\n" +
	"config_methods=pbc\n" +
	"ap_scan=1\n"

const (
	defaultBinPath      = "/sbin/wpa_supplicant"
	defaultConnectRetry = 500 * time.Millisecond
)

// Sender writes one request to the supplicant.
type Sender interface {
	Send(msg *Message) error
}

// SupervisorDelegate receives the supplicant lifecycle. All callbacks run on
// the event loop.
type SupervisorDelegate interface {
	// OnSupplicantConnected fires once the control socket is up. The
	// delegate owns command traffic on the transport from here on.
	OnSupplicantConnected(conn Sender)
	// OnSupplicantMessage delivers every decoded incoming datagram.
	OnSupplicantMessage(msg *Message)
	// OnSupplicantFailed fires when the process exited with a failure or the
	// socket broke. The delegate must drop all supplicant-derived state; a
	// respawn is scheduled right after it returns if the budget allows it.
	OnSupplicantFailed()
}

type SupervisorOptions struct {
	Interface       string
	BinPath         string // defaults to /sbin/wpa_supplicant
	CtrlDir         string // defaults to /var/run/<iface>_supplicant
	ConfPath        string // defaults to /tmp/supplicant-<iface>.conf
	LocalSocketPath string // defaults to /tmp/<iface>-<pid>
	RespawnMax      int
	RespawnDelay    time.Duration
	ConnectRetry    time.Duration
}

func (o *SupervisorOptions) withDefaults() SupervisorOptions {
	opts := *o
	if opts.BinPath == "" {
		opts.BinPath = defaultBinPath
	}
	if opts.CtrlDir == "" {
		opts.CtrlDir = fmt.Sprintf("/var/run/%s_supplicant", opts.Interface)
	}
	if opts.ConfPath == "" {
		opts.ConfPath = fmt.Sprintf("/tmp/supplicant-%s.conf", opts.Interface)
	}
	if opts.LocalSocketPath == "" {
		opts.LocalSocketPath = fmt.Sprintf("/tmp/%s-%d", opts.Interface, os.Getpid())
	}
	if opts.ConnectRetry == 0 {
		opts.ConnectRetry = defaultConnectRetry
	}
	return opts
}

// Supervisor owns the external wpa_supplicant process: config generation,
// spawn, child watch, bounded respawn and the control-socket connect retry.
// The daemon never attaches to a foreign supplicant; this instance is ours
// and dies with us.
type Supervisor struct {
	log      logger.Logger
	loop     *eventloop.Loop
	opts     SupervisorOptions
	delegate SupervisorDelegate

	cmd          *exec.Cmd
	transport    *Transport
	connectBO    backoff.BackOff
	respawnBO    backoff.BackOff
	respawnsLeft int
	connectTimer eventloop.TimerID
	respawnTimer eventloop.TimerID
	hasConnect   bool
	hasRespawn   bool
	stopped      core.Fuse
}

func NewSupervisor(log logger.Logger, loop *eventloop.Loop, opts SupervisorOptions, delegate SupervisorDelegate) *Supervisor {
	opts = opts.withDefaults()
	return &Supervisor{
		log:          log,
		loop:         loop,
		opts:         opts,
		delegate:     delegate,
		connectBO:    backoff.NewConstantBackOff(opts.ConnectRetry),
		respawnBO:    backoff.NewConstantBackOff(opts.RespawnDelay),
		respawnsLeft: opts.RespawnMax,
	}
}

// Start spawns the supplicant and begins polling for its control socket.
// Must be called on the loop.
func (s *Supervisor) Start() error {
	if err := s.writeConfig(); err != nil {
		return err
	}

	// Drop any left-over control socket directory so the fresh instance can
	// set up its own.
	if err := os.RemoveAll(s.opts.CtrlDir); err != nil {
		s.log.Errorw("failed to remove stale supplicant control directory", err, "path", s.opts.CtrlDir)
	}

	cmd := exec.Command(s.opts.BinPath,
		"-Dnl80211",
		"-i"+s.opts.Interface,
		"-C"+s.opts.CtrlDir,
		"-ddd", "-t", "-K",
		"-c"+s.opts.ConfPath,
		"-W",
	)
	// The supplicant must not outlive us; a stale instance would block the
	// next daemon start.
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: unix.SIGKILL}
	if os.Getenv("MIRACAST_SUPPLICANT_DEBUG") != "" {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("wpa: spawn %s: %w", s.opts.BinPath, err)
	}
	s.cmd = cmd

	s.loop.AddChildWatch(cmd.Wait, func(err error) {
		if s.cmd != cmd {
			// Exit of a process we already replaced or killed ourselves.
			return
		}
		s.cmd = nil
		if err == nil {
			// A clean exit is not a crash; nothing is reset or respawned.
			s.log.Infow("wpa_supplicant exited cleanly")
			return
		}
		s.log.Warnw("wpa_supplicant exited", err)
		s.handleFailed()
	})

	s.scheduleConnect()
	return nil
}

// Running reports whether the supplicant process is alive.
func (s *Supervisor) Running() bool {
	return s.cmd != nil
}

// RespawnsLeft is the remaining respawn budget.
func (s *Supervisor) RespawnsLeft() int {
	return s.respawnsLeft
}

func (s *Supervisor) writeConfig() error {
	if err := os.WriteFile(s.opts.ConfPath, []byte(supplicantConfig), 0644); err != nil {
		return fmt.Errorf("wpa: write supplicant config: %w", err)
	}
	return nil
}

func (s *Supervisor) scheduleConnect() {
	s.hasConnect = true
	s.connectTimer = s.loop.AfterFunc(s.connectBO.NextBackOff(), s.tryConnect)
}

func (s *Supervisor) tryConnect() {
	s.hasConnect = false
	if s.stopped.IsBroken() || s.cmd == nil {
		return
	}

	ctrlSocket := s.opts.CtrlDir + "/" + s.opts.Interface
	t, err := DialTransport(s.log, s.loop, ctrlSocket, s.opts.LocalSocketPath,
		s.onMessage, s.onTransportDown)
	if err != nil {
		// The supplicant may still be setting up its control interface.
		s.scheduleConnect()
		return
	}

	s.log.Debugw("connected to wpa_supplicant control socket", "path", ctrlSocket)
	s.transport = t
	s.respawnsLeft = s.opts.RespawnMax
	s.respawnBO.Reset()
	s.delegate.OnSupplicantConnected(t)
}

func (s *Supervisor) onMessage(msg *Message) {
	if s.stopped.IsBroken() {
		return
	}
	s.delegate.OnSupplicantMessage(msg)
}

func (s *Supervisor) onTransportDown() {
	if s.stopped.IsBroken() {
		return
	}
	s.log.Warnw("supplicant control socket went down", nil)
	if s.cmd != nil {
		cmd := s.cmd
		s.cmd = nil
		_ = cmd.Process.Kill()
	}
	s.handleFailed()
}

func (s *Supervisor) handleFailed() {
	if s.stopped.IsBroken() {
		return
	}

	s.disconnect()
	s.delegate.OnSupplicantFailed()

	if s.respawnsLeft <= 0 {
		s.log.Errorw("supplicant respawn budget exhausted, giving up", nil)
		return
	}
	s.respawnsLeft--

	if s.hasRespawn {
		s.loop.Cancel(s.respawnTimer)
	}
	s.hasRespawn = true
	s.respawnTimer = s.loop.AfterFunc(s.respawnBO.NextBackOff(), func() {
		s.hasRespawn = false
		if s.stopped.IsBroken() {
			return
		}
		if err := s.Start(); err != nil {
			s.log.Errorw("failed to respawn wpa_supplicant", err)
			s.handleFailed()
		}
	})
}

func (s *Supervisor) disconnect() {
	if s.hasConnect {
		s.loop.Cancel(s.connectTimer)
		s.hasConnect = false
	}
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}
}

// Stop tears everything down: timers, transport, process, config file.
func (s *Supervisor) Stop() {
	s.stopped.Once(func() {
		if s.hasRespawn {
			s.loop.Cancel(s.respawnTimer)
			s.hasRespawn = false
		}
		s.disconnect()
		if s.cmd != nil {
			cmd := s.cmd
			s.cmd = nil
			_ = cmd.Process.Kill()
		}
		_ = os.Remove(s.opts.ConfPath)
	})
}
