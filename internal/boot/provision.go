// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package boot

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/f-secure-foundry/armory-monitor/assets"
	"github.com/f-secure-foundry/armory-monitor/internal/crypto"
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
)

// Provisioning represents an emulated key hierarchy.
type Provisioning struct {
	// key constants, as embedded in the monitor
	Keys *assets.Keys
	// master key chain, ordered from revision 0
	MasterKeys [][]byte
	// fused device key
	DeviceKey []byte
}

// PackageKey returns the package2 key of a master key revision.
func (p *Provisioning) PackageKey(rev int) (key []byte, err error) {
	if rev < 0 || rev >= len(p.MasterKeys) {
		return nil, fmt.Errorf("invalid master key revision %d", rev)
	}

	soft, err := engine.NewSoft(p.MasterKeys[rev], p.DeviceKey)

	if err != nil {
		return
	}

	key = make([]byte, crypto.KeySize)
	err = soft.DecryptBlock(engine.MASTER_KEY, key, p.Keys.Package2KeySource[:])

	return
}

// MasterKeysFile holds the emulated master key chain, it is never embedded.
const MasterKeysFile = "master_keys.bin"

// Save writes the key constants, and the master key chain, in dir.
func (p *Provisioning) Save(dir string) (err error) {
	if err = p.Keys.Save(dir); err != nil {
		return
	}

	var chain []assets.Block

	for _, key := range p.MasterKeys {
		var b assets.Block
		copy(b[:], key)
		chain = append(chain, b)
	}

	return os.WriteFile(filepath.Join(dir, MasterKeysFile), assets.Join(chain), 0600)
}

// LoadProvisioning reads a provisioning saved in dir, the device key is
// expanded from seed.
func LoadProvisioning(dir string, seed []byte) (p *Provisioning, err error) {
	p = &Provisioning{}

	if p.Keys, err = assets.LoadKeys(dir); err != nil {
		return nil, err
	}

	buf, err := os.ReadFile(filepath.Join(dir, MasterKeysFile))

	if err != nil {
		return nil, err
	}

	chain, err := assets.Split(buf)

	if err != nil || len(chain) == 0 || len(chain) > assets.Revisions {
		return nil, fmt.Errorf("invalid %s", MasterKeysFile)
	}

	for i := range chain {
		p.MasterKeys = append(p.MasterKeys, chain[i][:])
	}

	masterKey, deviceKey, err := engine.RootKeys(seed)

	if err != nil {
		return
	}

	if !bytes.Equal(masterKey, p.MasterKeys[len(p.MasterKeys)-1]) {
		return nil, errors.New("seed does not match provisioned master key")
	}

	p.DeviceKey = deviceKey

	return
}

// Provision generates key constants for an emulated device whose hardware
// resident keys are expanded from seed, with its master key at revision
// rev. Older master keys and all key sources are drawn from r (crypto/rand
// when nil). The modulus, when not nil, is used to verify package2
// signatures on both retail and development units.
func Provision(seed []byte, rev int, retail bool, modulus []byte, r io.Reader) (p *Provisioning, err error) {
	if rev < 0 || rev >= assets.Revisions {
		return nil, fmt.Errorf("invalid master key revision %d", rev)
	}

	if modulus != nil && len(modulus) != assets.ModulusSize {
		return nil, errors.New("invalid modulus size")
	}

	if r == nil {
		r = rand.Reader
	}

	masterKey, deviceKey, err := engine.RootKeys(seed)

	if err != nil {
		return
	}

	p = &Provisioning{
		Keys:      &assets.Keys{},
		DeviceKey: deviceKey,
	}

	random := func(buf []byte) {
		if err == nil {
			_, err = io.ReadFull(r, buf)
		}
	}

	for i := 0; i < rev; i++ {
		key := make([]byte, crypto.KeySize)
		random(key)
		p.MasterKeys = append(p.MasterKeys, key)
	}

	p.MasterKeys = append(p.MasterKeys, masterKey)

	k := p.Keys

	for i := range k.RetailVectors {
		random(k.RetailVectors[i][:])
		random(k.DevVectors[i][:])
		random(k.DeviceKeySources[i][:])
	}

	for i := range k.SealSources {
		random(k.SealSources[i][:])
	}

	random(k.TitleKeySealSource[:])
	random(k.TitleKekSources[0][:])
	random(k.TitleKekSources[1][:])
	random(k.Package2KeySource[:])

	if err != nil {
		return nil, err
	}

	vectors, err := crypto.CheckVectors(p.MasterKeys)

	if err != nil {
		return nil, err
	}

	if retail {
		copy(k.RetailVectors[:], vectors)
	} else {
		copy(k.DevVectors[:], vectors)
	}

	if modulus != nil {
		copy(k.RetailModulus[:], modulus)
		copy(k.DevModulus[:], modulus)
	}

	return
}
