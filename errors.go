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

// Error is the result taxonomy surfaced to control-bus clients. The zero
// value is success; completion callbacks receive ErrNone (nil) on success so
// callers can treat the result as a plain error.
type Error int

const (
	errNone Error = iota
	ErrFailed
	ErrNotReady
	ErrAlready
	ErrParamInvalid
	ErrInvalidState
)

// ErrNone is the success result passed to completion callbacks.
var ErrNone error = nil

func (e Error) Error() string {
	switch e {
	case errNone:
		return "none"
	case ErrFailed:
		return "failed"
	case ErrNotReady:
		return "not ready"
	case ErrAlready:
		return "already"
	case ErrParamInvalid:
		return "invalid parameter"
	case ErrInvalidState:
		return "invalid state"
	}
	return "unknown"
}

// BusName returns the D-Bus error name for the result.
func (e Error) BusName() string {
	switch e {
	case ErrFailed:
		return "org.freedesktop.miracast.Error.Failed"
	case ErrNotReady:
		return "org.freedesktop.miracast.Error.NotReady"
	case ErrAlready:
		return "org.freedesktop.miracast.Error.Already"
	case ErrParamInvalid:
		return "org.freedesktop.miracast.Error.ParamInvalid"
	case ErrInvalidState:
		return "org.freedesktop.miracast.Error.InvalidState"
	}
	return "org.freedesktop.miracast.Error.Unknown"
}

// ResultCallback completes an asynchronous Connect or Disconnect. The error
// is nil on success or one of the Error values above.
type ResultCallback func(err error)
