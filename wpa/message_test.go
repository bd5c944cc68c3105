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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseReplies(t *testing.T) {
	ok := Parse("OK\n")
	require.Equal(t, TypeOk, ok.Type)
	require.True(t, ok.IsOk())
	require.False(t, ok.IsFail())

	fail := Parse("FAIL\n")
	require.Equal(t, TypeFail, fail.Type)
	require.True(t, fail.IsFail())
}

func TestParseEvent(t *testing.T) {
	m := Parse("<3>P2P-DEVICE-FOUND 4e:74:03:70:e2:c1 p2p_dev_addr=4e:74:03:70:e2:c1 " +
		"pri_dev_type=8-0050F204-2 name='Aquaris M10' config_methods=0x188 " +
		"dev_capab=0x5 group_capab=0x0 wfd_dev_info=0x000600101c440032 new=1")
	require.Equal(t, TypeEvent, m.Type)
	require.Equal(t, "P2P-DEVICE-FOUND", m.Name)

	addr, ok := m.Named("p2p_dev_addr")
	require.True(t, ok)
	require.Equal(t, "4e:74:03:70:e2:c1", addr)

	// Quoted values keep their spaces and lose the quotes.
	name, ok := m.Named("name")
	require.True(t, ok)
	require.Equal(t, "Aquaris M10", name)

	info, ok := m.Named("wfd_dev_info")
	require.True(t, ok)
	require.Equal(t, "0x000600101c440032", info)

	// The first token after the event name is positional.
	pos, err := m.ReadString()
	require.NoError(t, err)
	require.Equal(t, "4e:74:03:70:e2:c1", pos)
}

func TestParseRepeatedPriorityMarkers(t *testing.T) {
	m := Parse("<3><3>P2P-FIND-STOPPED")
	require.Equal(t, TypeEvent, m.Type)
	require.Equal(t, "P2P-FIND-STOPPED", m.Name)
}

func TestParsePositionalOrder(t *testing.T) {
	m := Parse("<3>P2P-GROUP-STARTED p2p0 client ssid=\"DIRECT-hB\" freq=2412 go_dev_addr=4e:74:03:64:95:a7")
	require.Equal(t, TypeEvent, m.Type)

	require.NoError(t, m.Skip())
	role, err := m.ReadString()
	require.NoError(t, err)
	require.Equal(t, "client", role)

	_, err = m.ReadString()
	require.Error(t, err)
}

func TestParseNamedAny(t *testing.T) {
	m := Parse("<3>P2P-DEVICE-LOST p2p_dev_address=4e:74:03:70:e2:c1")
	addr, ok := m.NamedAny("p2p_dev_addr", "p2p_dev_address")
	require.True(t, ok)
	require.Equal(t, "4e:74:03:70:e2:c1", addr)

	_, ok = m.NamedAny("missing")
	require.False(t, ok)
}

func TestBuildRequest(t *testing.T) {
	m := NewRequest("P2P_CONNECT").Append("4e:74:03:70:e2:c1").Append("pbc")
	require.Equal(t, "P2P_CONNECT 4e:74:03:70:e2:c1 pbc", m.String())

	m = NewRequest("SET").Append("wifi_display").AppendInt(1)
	require.Equal(t, "SET wifi_display 1", m.String())

	m = NewRequest("WFD_SUBELEM_SET").AppendInt(0).Append("000600101C440032")
	require.Equal(t, "WFD_SUBELEM_SET 0 000600101C440032", m.String())

	m = NewRequest("P2P_FIND")
	require.Equal(t, "P2P_FIND", m.String())
}

func TestBuildQuoting(t *testing.T) {
	m := NewRequest("TEST").Append("two words").AppendNamed("name", "Aquaris M10")
	require.Equal(t, "TEST 'two words' name='Aquaris M10'", m.String())
}

func TestRequestRoundTrip(t *testing.T) {
	for _, wire := range []string{
		"ATTACH",
		"SET wifi_display 1",
		"WFD_SUBELEM_SET 0 000600101C440032",
		"P2P_FIND 30",
		"P2P_STOP_FIND",
		"P2P_CONNECT 4e:74:03:70:e2:c1 pbc",
		"P2P_CANCEL",
		"P2P_GROUP_REMOVE p2p0",
	} {
		m := Parse(wire)
		require.Equal(t, wire, m.String())
	}
}

func TestReadInt(t *testing.T) {
	m := Parse("<3>SOME-EVENT 42 -7")
	v, err := m.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(42), v)

	i, err := m.ReadInt()
	require.NoError(t, err)
	require.Equal(t, int32(-7), i)
}
