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

// Package miracast holds the shared types of the Miracast source control
// daemon: remote P2P devices, their connection state machine and the error
// taxonomy surfaced on the control bus.
package miracast

import (
	"net/netip"
	"slices"
)

// DeviceState tracks a remote peer through a single connection attempt.
type DeviceState int

const (
	StateIdle DeviceState = iota
	StateAssociation
	StateConfiguration
	StateConnected
	StateFailure
	StateDisconnected
)

func (s DeviceState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAssociation:
		return "association"
	case StateConfiguration:
		return "configuration"
	case StateConnected:
		return "connected"
	case StateFailure:
		return "failure"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Role describes which side of a WFD session a device can take.
type Role int

const (
	RoleSource Role = iota
	RoleSink
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleSink:
		return "sink"
	}
	return "unknown"
}

// Device is a remote P2P peer as reported by the supplicant.
//
// Address is the canonical lower-case MAC string and is the identity key of
// the device; it never changes for the lifetime of the entry. State is
// mutated only by the network manager.
type Device struct {
	Address string
	Name    string
	Roles   []Role
	State   DeviceState
	IPv4    netip.Addr
}

func NewDevice(address, name string, roles []Role) *Device {
	return &Device{
		Address: address,
		Name:    name,
		Roles:   roles,
		State:   StateIdle,
	}
}

// HasRole reports whether the device advertised the given WFD role.
func (d *Device) HasRole(r Role) bool {
	return slices.Contains(d.Roles, r)
}
