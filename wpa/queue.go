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
	"github.com/livekit/protocol/logger"
)

// ReplyFunc receives the OK/FAIL reply for a queued command.
type ReplyFunc func(reply *Message)

type pendingCommand struct {
	msg *Message
	cb  ReplyFunc
}

// CommandQueue serializes requests to the supplicant. The control protocol
// has no request ids, so at most one command is in flight at a time and the
// next reply always belongs to the head of the queue. Everything here runs
// on the event loop.
type CommandQueue struct {
	log     logger.Logger
	send    func(*Message) error
	onEvent func(*Message)
	pending []pendingCommand
}

func NewCommandQueue(log logger.Logger, send func(*Message) error, onEvent func(*Message)) *CommandQueue {
	return &CommandQueue{
		log:     log,
		send:    send,
		onEvent: onEvent,
	}
}

// Enqueue appends the command and, if nothing is in flight, writes it out.
// cb may be nil if the caller does not care about the reply.
func (q *CommandQueue) Enqueue(msg *Message, cb ReplyFunc) {
	q.pending = append(q.pending, pendingCommand{msg: msg, cb: cb})
	if len(q.pending) == 1 {
		q.writeHead()
	}
}

// HandleMessage consumes a decoded datagram: replies complete the in-flight
// command, everything else is routed as an unsolicited event.
func (q *CommandQueue) HandleMessage(msg *Message) {
	switch msg.Type {
	case TypeOk, TypeFail:
		if len(q.pending) == 0 {
			q.log.Warnw("dropping reply with no command in flight", nil, "reply", msg.Raw())
			return
		}
		head := q.pending[0]
		q.pending = q.pending[1:]
		if head.cb != nil {
			head.cb(msg)
		}
		if len(q.pending) > 0 {
			q.writeHead()
		}
	case TypeEvent:
		if q.onEvent != nil {
			q.onEvent(msg)
		}
	default:
		q.log.Warnw("unhandled supplicant message", nil, "message", msg.Raw())
	}
}

// InFlight reports how many commands are queued, including the one on the
// wire.
func (q *CommandQueue) InFlight() int {
	return len(q.pending)
}

func (q *CommandQueue) writeHead() {
	head := q.pending[0]
	if err := q.send(head.msg); err != nil {
		q.log.Warnw("failed to send command to wpa_supplicant", err, "command", head.msg.Name)
	}
}
