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

package miracast

import "time"

const (
	VersionMajor = 0
	VersionMinor = 1
)

// RuntimePath is wiped and recreated on startup.
const RuntimePath = "/var/run/miracast-ctl"

// Config carries the daemon tunables. DefaultConfig returns a Config holding
// the daemon defaults; the CLI only ever touches Debug and PrintVersion.
type Config struct {
	Debug        bool
	PrintVersion bool

	// Interface is the P2P network interface the supplicant is bound to.
	// p2p0 is what most Android-derived platforms expose.
	Interface string

	RTSPPort uint16

	IdleTimeout            time.Duration
	ShutdownGrace          time.Duration
	SupplicantRespawnMax   int
	SupplicantRespawnDelay time.Duration
	DHCPAssignmentTimeout  time.Duration
	PeerFailureTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interface:              "p2p0",
		RTSPPort:               7236,
		IdleTimeout:            5 * time.Second,
		ShutdownGrace:          1 * time.Second,
		SupplicantRespawnMax:   10,
		SupplicantRespawnDelay: 2 * time.Second,
		DHCPAssignmentTimeout:  5 * time.Second,
		PeerFailureTimeout:     5 * time.Second,
	}
}
