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
	"net"
	"os"

	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/miracast-ctl/eventloop"
)

// readBufferSize bounds one control-socket datagram.
const readBufferSize = 1024

// Transport owns the Unix datagram socket to the supplicant control
// interface. Each message is exactly one datagram, so there is no framing
// beyond the datagram boundary. Incoming datagrams are decoded and posted
// onto the event loop; a read or write failure is reported once through
// onDown so the supervisor can treat the supplicant as crashed.
type Transport struct {
	log       logger.Logger
	loop      *eventloop.Loop
	conn      *net.UnixConn
	localPath string
	onMessage func(*Message)
	onDown    func()
	closed    core.Fuse
	down      core.Fuse
}

// DialTransport binds the per-process local socket path and connects to the
// supplicant control socket. onMessage and onDown are invoked on the loop.
func DialTransport(
	log logger.Logger,
	loop *eventloop.Loop,
	ctrlSocketPath, localPath string,
	onMessage func(*Message),
	onDown func(),
) (*Transport, error) {
	// A previous instance with the same pid may have left its socket around.
	_ = os.Remove(localPath)

	laddr := &net.UnixAddr{Name: localPath, Net: "unixgram"}
	raddr := &net.UnixAddr{Name: ctrlSocketPath, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		_ = os.Remove(localPath)
		return nil, fmt.Errorf("wpa: connect control socket %s: %w", ctrlSocketPath, err)
	}

	t := &Transport{
		log:       log,
		loop:      loop,
		conn:      conn,
		localPath: localPath,
		onMessage: onMessage,
		onDown:    onDown,
	}
	go t.readLoop()
	return t, nil
}

func (t *Transport) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			t.reportDown()
			return
		}
		msg := Parse(string(buf[:n]))
		t.loop.Post(func() { t.onMessage(msg) })
	}
}

// Send writes one request as a single datagram.
func (t *Transport) Send(msg *Message) error {
	data := []byte(msg.String())
	n, err := t.conn.Write(data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("wpa: short write: %d of %d bytes", n, len(data))
	}
	if err != nil {
		t.log.Warnw("failed to send data to wpa_supplicant", err)
		t.reportDown()
		return err
	}
	return nil
}

func (t *Transport) reportDown() {
	if t.closed.IsBroken() {
		return
	}
	t.down.Once(func() {
		t.loop.Post(func() {
			if !t.closed.IsBroken() && t.onDown != nil {
				t.onDown()
			}
		})
	})
}

// Close tears the socket down and removes the local socket file. Idempotent;
// after Close the transport reports no further messages or failures.
func (t *Transport) Close() {
	t.closed.Once(func() {
		_ = t.conn.Close()
		_ = os.Remove(t.localPath)
	})
}
