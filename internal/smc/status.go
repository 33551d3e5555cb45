// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smc

import (
	"errors"

	"github.com/f-secure-foundry/armory-monitor/internal/crypto"
	"github.com/f-secure-foundry/armory-monitor/internal/logger"
)

// Status represents the result code of a monitor call.
type Status uint32

// Monitor call result codes
const (
	StatusSuccess Status = iota
	StatusNotImplemented
	StatusInvalidArgument
	StatusBusy
	StatusNoAsyncOperation
	StatusInvalidAsyncOperation
	StatusNotPermitted
)

var statusNames = []string{
	"success",
	"not implemented",
	"invalid argument",
	"busy",
	"no async operation",
	"invalid async operation",
	"not permitted",
}

func (s Status) String() string {
	if int(s) >= len(statusNames) {
		return "unknown"
	}

	return statusNames[s]
}

// status converts an error to a call result, unrecoverable errors trigger a
// reset.
func (m *Monitor) status(op string, err error) Status {
	if err == nil {
		return StatusSuccess
	}

	if code, fatal := crypto.IsFatal(err); fatal {
		logger.Log.Errorw("unrecoverable error", "call", op, "code", code, "error", err)
		m.reset(code, err)
		return StatusNotPermitted
	}

	if errors.Is(err, crypto.ErrAuthentication) {
		logger.Log.Debugw("authentication failure", "call", op)
	}

	return StatusInvalidArgument
}

func (m *Monitor) reset(code uint32, err error) {
	if m.Reset == nil {
		panic(err)
	}

	m.Reset(code)
}
