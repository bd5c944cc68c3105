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

// Package eventloop provides the single reactor goroutine the daemon runs
// on. Components never share state across goroutines; anything arriving from
// the outside (socket reads, child exits, signals, timer fires) is posted
// onto the loop and handled there.
package eventloop

import (
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"
)

// TimerID identifies a one-shot timer armed with AfterFunc.
type TimerID uint64

type Loop struct {
	log logger.Logger
	clk clock.Clock

	mu     sync.Mutex
	queue  []func()
	timers map[TimerID]*clock.Timer
	nextID TimerID

	wake chan struct{}
	quit core.Fuse
}

func New(log logger.Logger) *Loop {
	return NewWithClock(log, clock.New())
}

// NewWithClock allows tests to drive timers with a mock clock.
func NewWithClock(log logger.Logger, clk clock.Clock) *Loop {
	return &Loop{
		log:    log,
		clk:    clk,
		timers: make(map[TimerID]*clock.Timer),
		wake:   make(chan struct{}, 1),
	}
}

// Post enqueues fn to run on the loop goroutine. Tasks run in FIFO order;
// a task posted from within a task runs after everything already queued.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc arms a one-shot timer that posts fn onto the loop after d.
// The returned id can be passed to Cancel; after the timer fired or was
// cancelled the id is dead.
func (l *Loop) AfterFunc(d time.Duration, fn func()) TimerID {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.mu.Unlock()

	t := l.clk.AfterFunc(d, func() {
		l.Post(func() {
			l.mu.Lock()
			_, live := l.timers[id]
			delete(l.timers, id)
			l.mu.Unlock()
			if live {
				fn()
			}
		})
	})

	l.mu.Lock()
	l.timers[id] = t
	l.mu.Unlock()
	return id
}

// Cancel stops the timer if it has not fired yet.
func (l *Loop) Cancel(id TimerID) {
	l.mu.Lock()
	t, ok := l.timers[id]
	delete(l.timers, id)
	l.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// AddSignal delivers fn on the loop whenever sig is raised.
func (l *Loop) AddSignal(sig os.Signal, fn func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	go func() {
		for {
			select {
			case <-ch:
				l.Post(fn)
			case <-l.quit.Watch():
				signal.Stop(ch)
				return
			}
		}
	}()
}

// AddChildWatch runs wait on its own goroutine and posts fn with the exit
// error once the child is gone.
func (l *Loop) AddChildWatch(wait func() error, fn func(err error)) {
	go func() {
		err := wait()
		l.Post(func() { fn(err) })
	}()
}

// Run processes tasks until Quit is called. Tasks already queued when Quit
// fires are drained before Run returns.
func (l *Loop) Run() {
	for {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			fn()
		}

		if l.quit.IsBroken() {
			return
		}

		select {
		case <-l.wake:
		case <-l.quit.Watch():
		}
	}
}

// Quit stops the loop. Safe to call multiple times and from any goroutine.
func (l *Loop) Quit() {
	l.quit.Break()
}

// Clock returns the clock the loop timers run on.
func (l *Loop) Clock() clock.Clock {
	return l.clk
}
