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

// Package wfd decodes the Wi-Fi Display device information subelement peers
// advertise during P2P discovery.
package wfd

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/livekit/miracast-ctl"
)

// DeviceType is the low two bits of the WFD device information bitmap.
type DeviceType uint16

const (
	DeviceTypeSource DeviceType = iota
	DeviceTypePrimarySink
	DeviceTypeSecondarySink
	DeviceTypeDualRole
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeSource:
		return "source"
	case DeviceTypePrimarySink:
		return "primary-sink"
	case DeviceTypeSecondarySink:
		return "secondary-sink"
	case DeviceTypeDualRole:
		return "dual-role"
	}
	return "unknown"
}

const (
	deviceTypeMask        = 0x3
	sessionAvailableMask  = 0x30
	contentProtectionMask = 0x100
	sessionAvailableShift = 4
)

var ErrInvalidDeviceInfo = errors.New("wfd: invalid device info")

// DeviceInfo is the 6-byte wfd_dev_info payload: a 16-bit information
// bitmap, the RTSP control port and the maximum average throughput, all
// big-endian.
type DeviceInfo struct {
	Info        uint16
	ControlPort uint16
	Throughput  uint16
}

// Parse decodes the ASCII-hex form the supplicant reports, with or without
// a 0x prefix. Exactly 6 bytes are required; the subelement form with its
// leading 2-byte length field is accepted and the length stripped.
func Parse(s string) (DeviceInfo, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) == 16 && strings.HasPrefix(s, "0006") {
		s = s[4:]
	}
	if len(s) != 12 {
		return DeviceInfo{}, fmt.Errorf("%w: %q is not 12 hex chars", ErrInvalidDeviceInfo, s)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %q: %v", ErrInvalidDeviceInfo, s, err)
	}
	return DeviceInfo{
		Info:        binary.BigEndian.Uint16(raw[0:2]),
		ControlPort: binary.BigEndian.Uint16(raw[2:4]),
		Throughput:  binary.BigEndian.Uint16(raw[4:6]),
	}, nil
}

// Encode renders the payload back to its 12-char hex form.
func (i DeviceInfo) Encode() string {
	var raw [6]byte
	binary.BigEndian.PutUint16(raw[0:2], i.Info)
	binary.BigEndian.PutUint16(raw[2:4], i.ControlPort)
	binary.BigEndian.PutUint16(raw[4:6], i.Throughput)
	return strings.ToUpper(hex.EncodeToString(raw[:]))
}

func (i DeviceInfo) DeviceType() DeviceType {
	return DeviceType(i.Info & deviceTypeMask)
}

func (i DeviceInfo) SessionAvailable() bool {
	return (i.Info&sessionAvailableMask)>>sessionAvailableShift != 0
}

func (i DeviceInfo) ContentProtected() bool {
	return i.Info&contentProtectionMask != 0
}

// Supported reports whether this daemon can pair with the peer at all.
// Secondary sinks cannot terminate an RTSP session on their own.
func (i DeviceInfo) Supported() bool {
	switch i.DeviceType() {
	case DeviceTypeSource, DeviceTypePrimarySink, DeviceTypeDualRole:
		return true
	}
	return false
}

// Roles derives the WFD session roles the peer can take.
func (i DeviceInfo) Roles() []miracast.Role {
	var roles []miracast.Role
	switch i.DeviceType() {
	case DeviceTypeSource:
		roles = append(roles, miracast.RoleSource)
	case DeviceTypePrimarySink, DeviceTypeSecondarySink:
		roles = append(roles, miracast.RoleSink)
	case DeviceTypeDualRole:
		roles = append(roles, miracast.RoleSource, miracast.RoleSink)
	}
	return roles
}
