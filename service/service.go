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

// Package service is the top-level session controller: it gates operations
// arriving from the control surface, mirrors the current peer's state and
// owns the lifetime of the network manager and the media source.
package service

import (
	"net/netip"
	"os"
	"time"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/miracast-ctl"
	"github.com/livekit/miracast-ctl/eventloop"
	"github.com/livekit/miracast-ctl/network"
)

// Observer receives everything the control surface exposes as signals. All
// callbacks run on the event loop.
type Observer interface {
	OnChanged()
	OnStateChanged(state miracast.DeviceState)
	OnDeviceFound(dev *miracast.Device)
	OnDeviceLost(dev *miracast.Device)
	OnDeviceChanged(dev *miracast.Device)
}

// Source is the media plane of a connected session. The service only
// controls its lifetime; streaming happens elsewhere.
type Source interface {
	Stop()
}

// SourceFactory builds the media source once a session reaches connected.
// onClientDisconnected may be invoked from any goroutine.
type SourceFactory func(addr netip.Addr, port uint16, onClientDisconnected func()) (Source, error)

// networkManager is what the service needs from network.Manager.
type networkManager interface {
	Setup() error
	Release()
	Scan(d time.Duration)
	Connect(dev *miracast.Device) error
	Disconnect(dev *miracast.Device) error
	Devices() []*miracast.Device
	Scanning() bool
	LocalAddress() netip.Addr
	Capabilities() []miracast.Role
	SetCapabilities(caps []miracast.Role)
}

// Service mediates between the control surface and the network manager.
// Methods must be called on the event loop.
type Service struct {
	log      logger.Logger
	loop     *eventloop.Loop
	cfg      miracast.Config
	observer Observer

	newManager    func(delegate network.Delegate) networkManager
	display       DisplayLock
	sourceFactory SourceFactory

	manager       networkManager
	source        Source
	currentDevice *miracast.Device
	connectCB     miracast.ResultCallback

	enabled bool
	state   miracast.DeviceState

	idleTimer    eventloop.TimerID
	hasIdleTimer bool
}

func NewService(log logger.Logger, loop *eventloop.Loop, cfg miracast.Config, observer Observer) *Service {
	s := &Service{
		log:      log,
		loop:     loop,
		cfg:      cfg,
		observer: observer,
		display:  NewCountedDisplayLock(log, nil, nil),
		state:    miracast.StateIdle,
	}
	s.newManager = func(delegate network.Delegate) networkManager {
		return network.NewManager(log, loop, cfg, delegate)
	}
	s.createRuntimeDirectory()
	return s
}

// SetDisplayLock replaces the default no-op display lock with a platform
// one.
func (s *Service) SetDisplayLock(lock DisplayLock) {
	s.display = lock
}

// SetSourceFactory installs the media-plane hook. Without one sessions
// still form; they just carry no stream.
func (s *Service) SetSourceFactory(factory SourceFactory) {
	s.sourceFactory = factory
}

func (s *Service) createRuntimeDirectory() {
	if err := os.RemoveAll(miracast.RuntimePath); err != nil {
		s.log.Warnw("failed to clear runtime directory", err, "path", miracast.RuntimePath)
	}
	if err := os.MkdirAll(miracast.RuntimePath, 0755); err != nil {
		s.log.Warnw("failed to create runtime directory", err, "path", miracast.RuntimePath)
	}
}

// SetEnabled brings the P2P stack up or down. Reports whether the state
// actually changed.
func (s *Service) SetEnabled(enabled bool) bool {
	if s.enabled == enabled {
		return false
	}

	if enabled {
		mgr := s.newManager(s)
		mgr.SetCapabilities([]miracast.Role{miracast.RoleSource})
		if err := mgr.Setup(); err != nil {
			s.log.Errorw("failed to set up network manager", err)
			mgr.Release()
			return false
		}
		s.manager = mgr
	} else if s.manager != nil {
		if s.currentDevice != nil {
			_ = s.manager.Disconnect(s.currentDevice)
		}
		s.manager.Release()
		s.manager = nil
		s.currentDevice = nil
	}

	s.enabled = enabled
	if s.observer != nil {
		s.observer.OnChanged()
	}
	return true
}

func (s *Service) Enabled() bool {
	return s.enabled
}

// State is the externally reported session state.
func (s *Service) State() miracast.DeviceState {
	return s.state
}

func (s *Service) Scanning() bool {
	return s.manager != nil && s.manager.Scanning()
}

func (s *Service) Devices() []*miracast.Device {
	if s.manager == nil {
		return nil
	}
	return s.manager.Devices()
}

func (s *Service) Capabilities() []miracast.Role {
	if s.manager == nil {
		return nil
	}
	return s.manager.Capabilities()
}

// Connect starts a session with dev. cb fires exactly once: immediately on
// a gate rejection, otherwise with nil on the first connected or ErrFailed
// on the first failure after acceptance.
func (s *Service) Connect(dev *miracast.Device, cb miracast.ResultCallback) {
	if !s.enabled {
		complete(cb, miracast.ErrNotReady)
		return
	}
	if s.currentDevice != nil {
		complete(cb, miracast.ErrAlready)
		return
	}
	if dev == nil {
		complete(cb, miracast.ErrParamInvalid)
		return
	}

	if err := s.manager.Connect(dev); err != nil {
		s.log.Debugw("network manager rejected connect", "address", dev.Address, "error", err)
		complete(cb, miracast.ErrFailed)
		return
	}

	s.display.Acquire()
	s.currentDevice = dev
	s.connectCB = cb
}

// Disconnect ends the session with dev. A nil cb is allowed; the
// disconnect still happens.
func (s *Service) Disconnect(dev *miracast.Device, cb miracast.ResultCallback) {
	if !s.enabled {
		complete(cb, miracast.ErrNotReady)
		return
	}
	if s.currentDevice == nil || dev == nil {
		complete(cb, miracast.ErrParamInvalid)
		return
	}

	if err := s.manager.Disconnect(dev); err != nil {
		complete(cb, miracast.ErrFailed)
		return
	}
	complete(cb, miracast.ErrNone)
}

// DisconnectAll ends whatever session is live.
func (s *Service) DisconnectAll(cb miracast.ResultCallback) {
	s.Disconnect(s.currentDevice, cb)
}

// Scan asks the manager to discover peers. Rejected while disabled or
// while a session is live.
func (s *Service) Scan(d time.Duration) error {
	if !s.enabled {
		return miracast.ErrNotReady
	}
	if s.currentDevice != nil {
		return miracast.ErrNotReady
	}
	s.manager.Scan(d)
	return miracast.ErrNone
}

// Shutdown disables the service; the caller owns the grace period before
// quitting the loop.
func (s *Service) Shutdown() {
	s.SetEnabled(false)
}

// AdvanceState moves the externally reported state and performs the edge
// work of each transition. A failure always runs the disconnected work
// too; that fallthrough is deliberate.
func (s *Service) AdvanceState(state miracast.DeviceState) {
	s.log.Debugw("session state changed", "state", state, "previous", s.state)

	switch state {
	case miracast.StateConnected:
		s.startSource()
		s.finishConnectAttempt(miracast.ErrNone)

	case miracast.StateFailure:
		s.finishConnectAttempt(miracast.ErrFailed)
		fallthrough

	case miracast.StateDisconnected:
		s.stopSource()
		s.currentDevice = nil
		s.display.Release()
		s.startIdleTimer()
	}

	s.state = state
	if s.observer != nil {
		s.observer.OnStateChanged(state)
	}
}

func (s *Service) startIdleTimer() {
	if s.hasIdleTimer {
		s.loop.Cancel(s.idleTimer)
	}
	s.hasIdleTimer = true
	s.idleTimer = s.loop.AfterFunc(s.cfg.IdleTimeout, func() {
		s.hasIdleTimer = false
		s.AdvanceState(miracast.StateIdle)
	})
}

func (s *Service) finishConnectAttempt(err error) {
	if s.connectCB == nil {
		return
	}
	cb := s.connectCB
	s.connectCB = nil
	cb(err)
}

func (s *Service) startSource() {
	if s.sourceFactory == nil || s.manager == nil {
		return
	}
	addr := s.manager.LocalAddress()
	src, err := s.sourceFactory(addr, s.cfg.RTSPPort, s.onClientDisconnected)
	if err != nil {
		s.log.Errorw("failed to start miracast source", err, "address", addr, "port", s.cfg.RTSPPort)
		return
	}
	s.source = src
}

func (s *Service) stopSource() {
	if s.source != nil {
		s.source.Stop()
		s.source = nil
	}
}

func (s *Service) onClientDisconnected() {
	s.loop.Post(func() {
		if s.currentDevice != nil {
			s.Disconnect(s.currentDevice, nil)
		}
	})
}

func complete(cb miracast.ResultCallback, err error) {
	if cb != nil {
		cb(err)
	}
}

// network.Delegate

func (s *Service) OnChanged() {
	if s.observer != nil {
		s.observer.OnChanged()
	}
}

func (s *Service) OnDeviceStateChanged(dev *miracast.Device) {
	s.log.Debugw("peer state changed", "address", dev.Address, "state", dev.State)

	if dev != s.currentDevice {
		return
	}
	s.AdvanceState(dev.State)

	if s.observer != nil {
		s.observer.OnDeviceChanged(dev)
	}
}

func (s *Service) OnDeviceChanged(dev *miracast.Device) {
	if s.observer != nil {
		s.observer.OnDeviceChanged(dev)
	}
}

func (s *Service) OnDeviceFound(dev *miracast.Device) {
	if s.observer != nil {
		s.observer.OnDeviceFound(dev)
	}
}

func (s *Service) OnDeviceLost(dev *miracast.Device) {
	if s.observer != nil {
		s.observer.OnDeviceLost(dev)
	}
}
