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
	"testing"

	"github.com/livekit/protocol/logger"
	"github.com/stretchr/testify/require"
)

func TestCountedDisplayLockEdges(t *testing.T) {
	var on, off int
	l := NewCountedDisplayLock(logger.NewTestLogger(t), func() { on++ }, func() { off++ })

	l.Acquire()
	require.Equal(t, 1, on)
	require.Equal(t, 1, l.Held())

	// Nested acquires only fire the hook on the first edge.
	l.Acquire()
	require.Equal(t, 1, on)
	require.Equal(t, 2, l.Held())

	l.Release()
	require.Zero(t, off)

	l.Release()
	require.Equal(t, 1, off)
	require.Zero(t, l.Held())
}

func TestCountedDisplayLockUnderflow(t *testing.T) {
	var off int
	l := NewCountedDisplayLock(logger.NewTestLogger(t), nil, func() { off++ })

	l.Release()
	require.Zero(t, l.Held())
	require.Zero(t, off)

	l.Acquire()
	l.Release()
	l.Release()
	require.Equal(t, 1, off)
	require.Zero(t, l.Held())
}

func TestCountedDisplayLockNilHooks(t *testing.T) {
	l := NewCountedDisplayLock(logger.NewTestLogger(t), nil, nil)
	l.Acquire()
	l.Release()
	require.Zero(t, l.Held())
}
