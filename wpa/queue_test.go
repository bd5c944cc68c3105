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
	"errors"
	"testing"

	"github.com/livekit/protocol/logger"
	"github.com/stretchr/testify/require"
)

func TestQueueSingleInFlight(t *testing.T) {
	var sent []string
	q := NewCommandQueue(logger.NewTestLogger(t), func(msg *Message) error {
		sent = append(sent, msg.String())
		return nil
	}, nil)

	q.Enqueue(NewRequest("ATTACH"), nil)
	q.Enqueue(NewRequest("P2P_FIND"), nil)
	q.Enqueue(NewRequest("P2P_STOP_FIND"), nil)

	// Only the head goes out until its reply arrives.
	require.Equal(t, []string{"ATTACH"}, sent)
	require.Equal(t, 3, q.InFlight())

	q.HandleMessage(Parse("OK\n"))
	require.Equal(t, []string{"ATTACH", "P2P_FIND"}, sent)

	q.HandleMessage(Parse("FAIL\n"))
	require.Equal(t, []string{"ATTACH", "P2P_FIND", "P2P_STOP_FIND"}, sent)

	q.HandleMessage(Parse("OK\n"))
	require.Equal(t, 0, q.InFlight())
}

func TestQueueReplyMatchesHead(t *testing.T) {
	var replies []string
	q := NewCommandQueue(logger.NewTestLogger(t), func(*Message) error { return nil }, nil)

	q.Enqueue(NewRequest("ATTACH"), func(reply *Message) {
		replies = append(replies, "attach:"+reply.Name)
	})
	q.Enqueue(NewRequest("P2P_FIND"), func(reply *Message) {
		replies = append(replies, "find:"+reply.Name)
	})

	q.HandleMessage(Parse("OK\n"))
	q.HandleMessage(Parse("FAIL\n"))
	require.Equal(t, []string{"attach:OK", "find:FAIL"}, replies)
}

func TestQueueStrayReplyDropped(t *testing.T) {
	q := NewCommandQueue(logger.NewTestLogger(t), func(*Message) error { return nil }, nil)
	q.HandleMessage(Parse("OK\n"))
	require.Equal(t, 0, q.InFlight())
}

func TestQueueEventRouting(t *testing.T) {
	var events []string
	q := NewCommandQueue(logger.NewTestLogger(t), func(*Message) error { return nil },
		func(msg *Message) { events = append(events, msg.Name) })

	q.Enqueue(NewRequest("P2P_FIND"), nil)

	// Events interleave with replies without consuming the pending command.
	q.HandleMessage(Parse("<3>P2P-DEVICE-FOUND 4e:74:03:70:e2:c1"))
	require.Equal(t, 1, q.InFlight())

	q.HandleMessage(Parse("OK\n"))
	q.HandleMessage(Parse("<3>P2P-FIND-STOPPED"))
	require.Equal(t, []string{"P2P-DEVICE-FOUND", "P2P-FIND-STOPPED"}, events)
}

func TestQueueSendFailureKeepsOrder(t *testing.T) {
	fail := true
	var sent []string
	q := NewCommandQueue(logger.NewTestLogger(t), func(msg *Message) error {
		sent = append(sent, msg.String())
		if fail {
			return errors.New("send failed")
		}
		return nil
	}, nil)

	q.Enqueue(NewRequest("ATTACH"), nil)
	require.Equal(t, []string{"ATTACH"}, sent)

	// The transport escalates the failure separately; the queue itself
	// still pops on the next reply.
	fail = false
	q.Enqueue(NewRequest("P2P_FIND"), nil)
	q.HandleMessage(Parse("FAIL\n"))
	require.Equal(t, []string{"ATTACH", "P2P_FIND"}, sent)
}
