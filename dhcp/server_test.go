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
	"os"
	"testing"

	"github.com/livekit/protocol/logger"
	"github.com/stretchr/testify/require"

	"github.com/livekit/miracast-ctl/eventloop"
)

func TestServerConfig(t *testing.T) {
	log := logger.NewTestLogger(t)
	s := NewServer(log, eventloop.New(log), "p2p0")
	s.confPath = t.TempDir() + "/dhcpd.conf"

	require.NoError(t, s.writeConfig())
	conf, err := os.ReadFile(s.confPath)
	require.NoError(t, err)
	require.Equal(t,
		"start 192.168.7.5\nend 192.168.7.30\ninterface p2p0\noption subnet 255.255.255.0\n",
		string(conf))

	s.Stop()
	_, err = os.Stat(s.confPath)
	require.True(t, os.IsNotExist(err))
}

func TestServerLocalAddress(t *testing.T) {
	log := logger.NewTestLogger(t)
	s := NewServer(log, eventloop.New(log), "p2p0")
	require.Equal(t, "192.168.7.1", s.LocalAddress().String())
}
