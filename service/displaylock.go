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

package service

import (
	"github.com/livekit/protocol/logger"
)

// DisplayLock keeps the display awake while a session is live.
type DisplayLock interface {
	Acquire()
	Release()
}

// CountedDisplayLock makes nested acquires safe: the platform hooks only
// fire on the 0-to-1 and 1-to-0 edges, and releasing an unheld lock does
// nothing.
type CountedDisplayLock struct {
	log   logger.Logger
	on    func()
	off   func()
	count int
}

// NewCountedDisplayLock wraps the platform display hooks. Both may be nil.
func NewCountedDisplayLock(log logger.Logger, on, off func()) *CountedDisplayLock {
	return &CountedDisplayLock{log: log, on: on, off: off}
}

func (l *CountedDisplayLock) Acquire() {
	l.count++
	if l.count == 1 {
		l.log.Debugw("display lock acquired")
		if l.on != nil {
			l.on()
		}
	}
}

func (l *CountedDisplayLock) Release() {
	if l.count == 0 {
		return
	}
	l.count--
	if l.count == 0 {
		l.log.Debugw("display lock released")
		if l.off != nil {
			l.off()
		}
	}
}

// Held reports the current acquire depth.
func (l *CountedDisplayLock) Held() int {
	return l.count
}
