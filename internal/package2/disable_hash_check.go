// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build disable_pk2_hash
// +build disable_pk2_hash

package package2

// WARNING: section hashes are not verified, debug builds only
const checkHashes = false
