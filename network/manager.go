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

// Package network drives the Wi-Fi P2P side of a Miracast session: peer
// discovery, group formation and the per-peer connection state machine, all
// on top of a supervised wpa_supplicant instance.
package network

import (
	"net/netip"
	"strings"
	"time"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/miracast-ctl"
	"github.com/livekit/miracast-ctl/dhcp"
	"github.com/livekit/miracast-ctl/eventloop"
	"github.com/livekit/miracast-ctl/wfd"
	"github.com/livekit/miracast-ctl/wpa"
)

// wfdSubelement is the device-information subelement this daemon registers
// at index 0: source, session available, RTSP on 7236, 50 Mbps.
const wfdSubelement = "000600101C440032"

const (
	evDeviceFound     = "P2P-DEVICE-FOUND"
	evDeviceLost      = "P2P-DEVICE-LOST"
	evGroupStarted    = "P2P-GROUP-STARTED"
	evGroupRemoved    = "P2P-GROUP-REMOVED"
	evGoNegFailure    = "P2P-GO-NEG-FAILURE"
	evFindStopped     = "P2P-FIND-STOPPED"
	evStaConnected    = "AP-STA-CONNECTED"
	evStaDisconnected = "AP-STA-DISCONNECTED"
)

// Delegate observes the manager. All callbacks run on the event loop; a
// notification triggered by one supplicant event is delivered before the
// next event is processed.
type Delegate interface {
	// OnChanged fires when manager-level state (scanning) flipped.
	OnChanged()
	OnDeviceFound(dev *miracast.Device)
	OnDeviceLost(dev *miracast.Device)
	OnDeviceChanged(dev *miracast.Device)
	OnDeviceStateChanged(dev *miracast.Device)
}

// FirmwareLoader switches the Wi-Fi firmware into P2P mode on platforms
// that need it. Load must invoke done on the event loop.
type FirmwareLoader interface {
	Needed() bool
	Load(done func()) error
}

// addressAllocator is the shared shape of the DHCP client and server.
type addressAllocator interface {
	Start() error
	Stop()
	LocalAddress() netip.Addr
}

// Manager owns the P2P interface while the service is enabled. All state
// lives on the event loop; none of the methods are safe to call from
// another goroutine.
type Manager struct {
	log      logger.Logger
	loop     *eventloop.Loop
	cfg      miracast.Config
	delegate Delegate

	firmware   FirmwareLoader
	supervisor *wpa.Supervisor
	conn       wpa.Sender
	queue      *wpa.CommandQueue

	dhcpClient addressAllocator
	dhcpServer addressAllocator

	peers        map[string]*miracast.Device
	currentPeer  *miracast.Device
	isGroupOwner bool
	scanning     bool
	caps         []miracast.Role

	dhcpTimer    eventloop.TimerID
	hasDHCPTimer bool
}

func NewManager(log logger.Logger, loop *eventloop.Loop, cfg miracast.Config, delegate Delegate) *Manager {
	m := &Manager{
		log:      log,
		loop:     loop,
		cfg:      cfg,
		delegate: delegate,
		peers:    make(map[string]*miracast.Device),
	}
	m.supervisor = wpa.NewSupervisor(log, loop, wpa.SupervisorOptions{
		Interface:    cfg.Interface,
		RespawnMax:   cfg.SupplicantRespawnMax,
		RespawnDelay: cfg.SupplicantRespawnDelay,
	}, m)
	m.dhcpClient = dhcp.NewClient(log, loop, cfg.Interface, m)
	m.dhcpServer = dhcp.NewServer(log, loop, cfg.Interface)
	return m
}

// SetFirmwareLoader installs the platform firmware hook. Without one the
// interface is assumed to speak P2P as-is.
func (m *Manager) SetFirmwareLoader(fw FirmwareLoader) {
	m.firmware = fw
}

// Setup brings the P2P stack up: firmware first if the platform needs it,
// then the supplicant.
func (m *Manager) Setup() error {
	if m.firmware != nil && m.firmware.Needed() {
		return m.firmware.Load(func() {
			if err := m.supervisor.Start(); err != nil {
				m.log.Errorw("failed to start wpa_supplicant after firmware load", err)
			}
		})
	}
	return m.supervisor.Start()
}

// Release tears the P2P stack down and forgets all peers.
func (m *Manager) Release() {
	m.Reset()
	m.queue = nil
	m.conn = nil
	m.supervisor.Stop()
	m.dhcpClient.Stop()
	m.dhcpServer.Stop()
}

// OnSupplicantConnected runs the attach sequence: subscribe to unsolicited
// events, enable Wi-Fi display support and register our WFD subelement.
func (m *Manager) OnSupplicantConnected(conn wpa.Sender) {
	m.conn = conn
	m.queue = wpa.NewCommandQueue(m.log, conn.Send, m.handleEvent)

	m.request(wpa.NewRequest("ATTACH"), func(reply *wpa.Message) {
		if reply.IsFail() {
			m.log.Errorw("failed to attach to wpa_supplicant for unsolicited events", nil)
		}
	})
	m.request(wpa.NewRequest("SET").Append("wifi_display").AppendInt(1), nil)
	m.request(wpa.NewRequest("WFD_SUBELEM_SET").AppendInt(0).Append(wfdSubelement), nil)
}

func (m *Manager) OnSupplicantMessage(msg *wpa.Message) {
	if m.queue != nil {
		m.queue.HandleMessage(msg)
	}
}

func (m *Manager) OnSupplicantFailed() {
	m.queue = nil
	m.conn = nil
	m.Reset()
}

func (m *Manager) request(msg *wpa.Message, cb wpa.ReplyFunc) {
	if m.queue == nil {
		m.log.Warnw("dropping command, supplicant not connected", nil, "command", msg.Name)
		return
	}
	m.queue.Enqueue(msg, cb)
}

func (m *Manager) handleEvent(msg *wpa.Message) {
	if strings.HasPrefix(msg.Name, "CTRL-EVENT-") {
		return
	}

	switch msg.Name {
	case evDeviceFound:
		m.onDeviceFound(msg)
	case evDeviceLost:
		m.onDeviceLost(msg)
	case evGroupStarted:
		m.onGroupStarted(msg)
	case evGroupRemoved:
		m.onGroupRemoved(msg)
	case evGoNegFailure:
		m.onGoNegFailure()
	case evFindStopped:
		m.onFindStopped()
	case evStaConnected, evStaDisconnected:
		// Hook point for the source subsystem; nothing to do here.
	default:
		m.log.Debugw("unhandled supplicant event", "event", msg.Raw())
	}
}

func (m *Manager) onDeviceFound(msg *wpa.Message) {
	// P2P-DEVICE-FOUND 4e:74:03:70:e2:c1 p2p_dev_addr=4e:74:03:70:e2:c1
	// pri_dev_type=8-0050F204-2 name='Aquaris M10' config_methods=0x188
	// dev_capab=0x5 group_capab=0x0 wfd_dev_info=0x000600101c440032 new=1
	addr, ok := msg.NamedAny("p2p_dev_addr", "p2p_dev_address")
	if !ok {
		m.log.Debugw("device found event without address", "event", msg.Raw())
		return
	}
	name, _ := msg.Named("name")
	infoHex, ok := msg.Named("wfd_dev_info")
	if !ok {
		m.log.Debugw("ignoring peer without WFD device info", "address", addr)
		return
	}

	info, err := wfd.Parse(infoHex)
	if err != nil {
		m.log.Debugw("ignoring peer with malformed WFD device info", "address", addr, "info", infoHex)
		return
	}
	if !info.Supported() {
		m.log.Debugw("ignoring unsupported peer", "address", addr, "deviceType", info.DeviceType())
		return
	}

	if dev, ok := m.peers[addr]; ok {
		dev.Name = name
		dev.Roles = info.Roles()
		return
	}

	dev := miracast.NewDevice(addr, name, info.Roles())
	m.peers[addr] = dev
	m.log.Debugw("peer found", "address", addr, "name", name, "roles", dev.Roles)
	if m.delegate != nil {
		m.delegate.OnDeviceFound(dev)
	}
}

func (m *Manager) onDeviceLost(msg *wpa.Message) {
	// P2P-DEVICE-LOST p2p_dev_addr=4e:74:03:70:e2:c1
	addr, ok := msg.NamedAny("p2p_dev_addr", "p2p_dev_address")
	if !ok {
		return
	}
	dev, ok := m.peers[addr]
	if !ok {
		return
	}
	if m.delegate != nil {
		m.delegate.OnDeviceLost(dev)
	}
	delete(m.peers, addr)
}

func (m *Manager) onGroupStarted(msg *wpa.Message) {
	// P2P-GROUP-STARTED p2p0 GO ssid="DIRECT-hB" freq=2412
	// passphrase="HtP0qYon" go_dev_addr=4e:74:03:64:95:a7
	if m.currentPeer == nil {
		return
	}

	_ = msg.Skip() // interface name
	role, err := msg.ReadString()
	if err != nil {
		m.log.Warnw("malformed group started event", err, "event", msg.Raw())
		return
	}

	m.advance(m.currentPeer, miracast.StateConfiguration)

	// If we are the group owner the other side is the client and vice versa.
	if role == "GO" {
		m.isGroupOwner = true

		// As the owner we hand out addresses ourselves; once the server
		// runs there is nothing left to wait for.
		if err := m.dhcpServer.Start(); err != nil {
			m.log.Errorw("failed to start dhcp server", err)
			m.advance(m.currentPeer, miracast.StateFailure)
			return
		}
		m.advance(m.currentPeer, miracast.StateConnected)
	} else {
		m.isGroupOwner = false

		// As a client we stay in configuration until the lease arrives,
		// bounded by the assignment timeout.
		if err := m.dhcpClient.Start(); err != nil {
			m.log.Errorw("failed to start dhcp client", err)
			m.advance(m.currentPeer, miracast.StateFailure)
			return
		}
		m.hasDHCPTimer = true
		m.dhcpTimer = m.loop.AfterFunc(m.cfg.DHCPAssignmentTimeout, m.onDHCPTimeout)
	}
}

func (m *Manager) onDHCPTimeout() {
	m.hasDHCPTimer = false
	dev := m.currentPeer
	if dev == nil {
		return
	}

	m.log.Warnw("no dhcp lease within the assignment timeout", nil, "address", dev.Address)

	// Return the peer to idle after a while so it becomes connectable again.
	m.loop.AfterFunc(m.cfg.PeerFailureTimeout, func() {
		if m.peers[dev.Address] == dev && dev.State == miracast.StateFailure {
			dev.State = miracast.StateIdle
		}
	})

	m.advance(dev, miracast.StateFailure)
}

// OnAddressAssigned is the DHCP client lease callback.
func (m *Manager) OnAddressAssigned(addr netip.Addr) {
	if m.currentPeer == nil {
		return
	}
	m.cancelDHCPTimer()
	m.currentPeer.IPv4 = addr
	m.advance(m.currentPeer, miracast.StateConnected)
}

func (m *Manager) onGroupRemoved(msg *wpa.Message) {
	// P2P-GROUP-REMOVED p2p0 GO reason=FORMATION_FAILED
	if m.currentPeer == nil {
		return
	}

	if m.isGroupOwner {
		m.dhcpServer.Stop()
	} else {
		m.dhcpClient.Stop()
	}
	m.cancelDHCPTimer()

	state := miracast.StateDisconnected
	reason, _ := msg.Named("reason")
	switch reason {
	case "FORMATION_FAILED", "PSK_FAILURE", "FREQ_CONFLICT":
		state = miracast.StateFailure
	}

	m.advance(m.currentPeer, state)
	m.currentPeer = nil
	m.isGroupOwner = false
}

func (m *Manager) onGoNegFailure() {
	if m.currentPeer == nil {
		return
	}
	m.advance(m.currentPeer, miracast.StateFailure)
	m.currentPeer = nil
}

func (m *Manager) onFindStopped() {
	if !m.scanning {
		return
	}
	m.scanning = false
	if m.delegate != nil {
		m.delegate.OnChanged()
	}
}

// Scan asks the supplicant to discover peers. A zero duration scans until
// the caller stops it. No-op while a scan is already running.
func (m *Manager) Scan(d time.Duration) {
	if m.scanning {
		return
	}

	req := wpa.NewRequest("P2P_FIND")
	if d > 0 {
		req.AppendInt(int32(d / time.Second))
	}
	m.request(req, func(reply *wpa.Message) {
		scanning := !reply.IsFail()
		if scanning == m.scanning {
			return
		}
		m.scanning = scanning
		if m.delegate != nil {
			m.delegate.OnChanged()
		}
	})
}

// Connect starts group formation with a known peer. Acceptance does not
// advance the peer's state; that happens on the supplicant events that
// follow.
func (m *Manager) Connect(dev *miracast.Device) error {
	if m.queue == nil {
		return miracast.ErrNotReady
	}
	if m.currentPeer != nil {
		return miracast.ErrAlready
	}
	peer, ok := m.peers[dev.Address]
	if !ok {
		return miracast.ErrParamInvalid
	}
	m.currentPeer = peer

	if m.scanning {
		m.request(wpa.NewRequest("P2P_STOP_FIND"), nil)
	}

	m.request(wpa.NewRequest("P2P_CONNECT").Append(peer.Address).Append("pbc"),
		func(reply *wpa.Message) {
			if reply.IsFail() {
				m.log.Errorw("supplicant rejected connect", nil, "address", peer.Address)
				m.advance(peer, miracast.StateFailure)
			}
		})
	return nil
}

// Disconnect ends the session with the current peer: a pending negotiation
// is cancelled, a formed group is removed.
func (m *Manager) Disconnect(dev *miracast.Device) error {
	if m.queue == nil {
		return miracast.ErrNotReady
	}
	if dev == nil || m.currentPeer == nil || m.currentPeer != dev {
		return miracast.ErrParamInvalid
	}

	var req *wpa.Message
	if m.currentPeer.State == miracast.StateAssociation {
		req = wpa.NewRequest("P2P_CANCEL")
	} else {
		req = wpa.NewRequest("P2P_GROUP_REMOVE").Append(m.cfg.Interface)
	}
	m.request(req, func(reply *wpa.Message) {
		if reply.IsFail() {
			m.log.Errorw("failed to disconnect", nil, "address", dev.Address)
		}
	})
	return nil
}

// Reset drops all supplicant-derived state: the current session, every
// known peer and the scanning flag. Observers see the current peer move to
// disconnected and each peer vanish.
func (m *Manager) Reset() {
	if m.currentPeer != nil {
		m.advance(m.currentPeer, miracast.StateDisconnected)
		m.currentPeer = nil

		m.cancelDHCPTimer()
		m.dhcpClient.Stop()
		m.dhcpServer.Stop()
	}

	if m.delegate != nil {
		for _, dev := range m.peers {
			m.delegate.OnDeviceLost(dev)
		}
	}
	m.peers = make(map[string]*miracast.Device)
	m.isGroupOwner = false

	if m.scanning {
		m.scanning = false
		if m.delegate != nil {
			m.delegate.OnChanged()
		}
	}
}

func (m *Manager) advance(dev *miracast.Device, state miracast.DeviceState) {
	m.log.Debugw("peer state changed", "address", dev.Address, "state", state)
	dev.State = state
	if m.delegate != nil {
		m.delegate.OnDeviceStateChanged(dev)
		m.delegate.OnDeviceChanged(dev)
	}
}

func (m *Manager) cancelDHCPTimer() {
	if m.hasDHCPTimer {
		m.loop.Cancel(m.dhcpTimer)
		m.hasDHCPTimer = false
	}
}

// Devices lists all known peers.
func (m *Manager) Devices() []*miracast.Device {
	devices := make([]*miracast.Device, 0, len(m.peers))
	for _, dev := range m.peers {
		devices = append(devices, dev)
	}
	return devices
}

func (m *Manager) Scanning() bool {
	return m.scanning
}

// Running reports whether the supplicant process is alive.
func (m *Manager) Running() bool {
	return m.supervisor.Running()
}

// LocalAddress is our own address inside the formed group: the fixed
// server address as group owner, the leased address as client.
func (m *Manager) LocalAddress() netip.Addr {
	if m.isGroupOwner {
		return m.dhcpServer.LocalAddress()
	}
	return m.dhcpClient.LocalAddress()
}

func (m *Manager) Capabilities() []miracast.Role {
	return m.caps
}

func (m *Manager) SetCapabilities(caps []miracast.Role) {
	m.caps = caps
}
