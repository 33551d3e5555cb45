// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crypto

import (
	"errors"
	"fmt"
)

// Recoverable errors, reported to callers as a status code.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	// authentication failures are reported as invalid arguments, the
	// distinction is kept for logging only
	ErrAuthentication = errors.New("authentication failure")
)

// Diagnostic codes for unrecoverable conditions
const (
	CodeGeneric            uint32 = 0xffffffff
	CodeMasterKey          uint32 = 0x00f000ff
	CodePackage2Signature  uint32 = 0xfaf00001
	CodePackage2Relocation uint32 = 0xfaf00002
	CodePackage2Header     uint32 = 0xfaf00003
)

// FatalError represents an internal invariant violation, the boundary
// receiving it must reset the device with Code as diagnostic.
type FatalError struct {
	Code   uint32
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error %#08x, %s", e.Code, e.Reason)
}

// Fatal returns an unrecoverable error with the given diagnostic code.
func Fatal(code uint32, format string, a ...interface{}) error {
	return &FatalError{
		Code:   code,
		Reason: fmt.Sprintf(format, a...),
	}
}

// IsFatal returns the diagnostic code of an unrecoverable error found in
// err's chain.
func IsFatal(err error) (code uint32, ok bool) {
	var fatal *FatalError

	if errors.As(err, &fatal) {
		return fatal.Code, true
	}

	return
}
