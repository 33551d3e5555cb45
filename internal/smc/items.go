// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smc

import (
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
)

// Item represents a monitor configuration item.
type Item uint32

// Configuration items
const (
	ItemMasterKeyRevision Item = iota + 1
	ItemDeviceID
	ItemIsRetail
	ItemBootReason
	ItemIsRecoveryBoot
	ItemPackage2Revision
	ItemPackage2Signed
	ItemTargetKeyRevision
)

func boolItem(b bool) uint64 {
	if b {
		return 1
	}

	return 0
}

// GetConfigItem returns the value of a configuration item.
func (m *Monitor) GetConfigItem(item Item) (val uint64, s Status) {
	ctx, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	switch item {
	case ItemMasterKeyRevision:
		rev, ok := ctx.Revision()

		if !ok {
			return 0, StatusNotPermitted
		}

		val = uint64(rev)
	case ItemDeviceID:
		val = ctx.Device().DeviceID() & engine.DeviceIDMask
	case ItemIsRetail:
		val = boolItem(ctx.Device().IsRetail())
	case ItemBootReason:
		val = m.bootReason
	case ItemIsRecoveryBoot:
		val = boolItem(m.RecoveryBoot)
	case ItemPackage2Revision:
		if m.Handoff == nil {
			return 0, StatusNotPermitted
		}

		val = uint64(m.Handoff.Revision)
	case ItemPackage2Signed:
		if m.Handoff == nil {
			return 0, StatusNotPermitted
		}

		val = boolItem(m.Handoff.Signed)
	case ItemTargetKeyRevision:
		val = uint64(ctx.Target().MasterKeyRevision())
	default:
		return 0, StatusInvalidArgument
	}

	return
}

// SetConfigItem sets the value of a configuration item, only the boot
// reason is writable.
func (m *Monitor) SetConfigItem(item Item, val uint64) (s Status) {
	_, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	switch item {
	case ItemBootReason:
		m.bootReason = val
	case ItemMasterKeyRevision, ItemDeviceID, ItemIsRetail, ItemIsRecoveryBoot,
		ItemPackage2Revision, ItemPackage2Signed, ItemTargetKeyRevision:
		return StatusNotPermitted
	default:
		return StatusInvalidArgument
	}

	return
}

// GetPackage2Hash returns the SHA-256 of the decrypted package2 image,
// available on recovery boots only.
func (m *Monitor) GetPackage2Hash() (hash []byte, s Status) {
	_, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	if !m.RecoveryBoot || m.Handoff == nil || len(m.Handoff.Hash) == 0 {
		return nil, StatusNotPermitted
	}

	return append([]byte{}, m.Handoff.Hash...), StatusSuccess
}
