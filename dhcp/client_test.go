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
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/livekit/protocol/logger"
	"github.com/stretchr/testify/require"

	"github.com/livekit/miracast-ctl/eventloop"
)

// sleeperBin ignores its command line and stays alive, standing in for the
// DHCP client daemon.
var sleeperBin = mustWriteSleeperScript()

// mustWriteSleeperScript writes a script that ignores its arguments and
// blocks forever, since some yes(1) implementations reject the dash-prefixed
// flags the client passes as invalid options.
func mustWriteSleeperScript() string {
	dir, err := os.MkdirTemp("", "sleeperbin")
	if err != nil {
		panic(err)
	}
	path := filepath.Join(dir, "sleeper")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexec tail -f /dev/null\n"), 0o755); err != nil {
		panic(err)
	}
	return path
}

type recordingDelegate struct {
	assigned []netip.Addr
}

func (d *recordingDelegate) OnAddressAssigned(addr netip.Addr) {
	d.assigned = append(d.assigned, addr)
}

type clientFixture struct {
	t        *testing.T
	clk      *clock.Mock
	loop     *eventloop.Loop
	client   *Client
	delegate *recordingDelegate

	lookups int
	addr    netip.Addr
	haveIP  bool
}

func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()
	clk := clock.NewMock()
	log := logger.NewTestLogger(t)
	l := eventloop.NewWithClock(log, clk)

	f := &clientFixture{
		t:        t,
		clk:      clk,
		loop:     l,
		delegate: &recordingDelegate{},
	}
	f.client = NewClient(log, l, "p2p0", f.delegate)
	f.client.binPath = sleeperBin
	f.client.lookupAddr = func(iface string) (netip.Addr, bool) {
		f.lookups++
		return f.addr, f.haveIP
	}

	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()
	t.Cleanup(func() {
		f.do(f.client.Stop)
		l.Quit()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("loop did not stop")
		}
	})
	return f
}

func (f *clientFixture) do(fn func()) {
	f.t.Helper()
	done := make(chan struct{})
	f.loop.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		f.t.Fatal("loop stalled")
	}
}

func (f *clientFixture) start() {
	f.t.Helper()
	var err error
	f.do(func() { err = f.client.Start() })
	require.NoError(f.t, err)
}

func TestClientPollsUntilLease(t *testing.T) {
	f := newClientFixture(t)
	f.start()
	require.False(t, f.client.LocalAddress().IsValid())

	// The interface carries no address yet; polling continues.
	f.clk.Add(500 * time.Millisecond)
	f.do(func() {})
	require.Equal(t, 1, f.lookups)
	require.Empty(t, f.delegate.assigned)

	f.clk.Add(500 * time.Millisecond)
	f.do(func() {})
	require.Equal(t, 2, f.lookups)

	f.addr = netip.MustParseAddr("192.168.7.5")
	f.haveIP = true
	f.clk.Add(500 * time.Millisecond)
	f.do(func() {})
	require.Equal(t, []netip.Addr{f.addr}, f.delegate.assigned)
	require.Equal(t, f.addr, f.client.LocalAddress())

	// The lease is in; polling stops.
	f.clk.Add(5 * time.Second)
	f.do(func() {})
	require.Equal(t, 3, f.lookups)
	require.Len(t, f.delegate.assigned, 1)
}

func TestClientStartIsIdempotent(t *testing.T) {
	f := newClientFixture(t)
	f.start()
	f.start()
	require.NotNil(t, f.client.cmd)
}

func TestClientStopCancelsPolling(t *testing.T) {
	f := newClientFixture(t)
	f.start()

	f.do(f.client.Stop)
	require.False(t, f.client.LocalAddress().IsValid())

	f.haveIP = true
	f.addr = netip.MustParseAddr("192.168.7.5")
	f.clk.Add(5 * time.Second)
	f.do(func() {})
	require.Zero(t, f.lookups)
	require.Empty(t, f.delegate.assigned)
}

func TestClientSpawnFailure(t *testing.T) {
	f := newClientFixture(t)
	f.client.binPath = "/does/not/exist"

	var err error
	f.do(func() { err = f.client.Start() })
	require.Error(t, err)
	require.Nil(t, f.client.cmd)
}

func TestClientStopForgetsLease(t *testing.T) {
	f := newClientFixture(t)
	f.start()

	f.haveIP = true
	f.addr = netip.MustParseAddr("192.168.7.5")
	f.clk.Add(500 * time.Millisecond)
	f.do(func() {})
	require.True(t, f.client.LocalAddress().IsValid())

	f.do(f.client.Stop)
	require.False(t, f.client.LocalAddress().IsValid())
}
