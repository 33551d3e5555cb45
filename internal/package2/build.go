// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package package2

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// Section represents a section payload and its load offset.
type Section struct {
	Offset uint32
	Data   []byte
}

// Options represents the parameters of a package2 image.
type Options struct {
	// entrypoint offset from the DRAM base
	Entrypoint    uint32
	HeaderVersion uint8
	VersionMin    uint8
	VersionMax    uint8

	// up to ActiveSections sections, in load order
	Sections []Section

	// optional package2 key, when nil metadata and sections are stored
	// in clear
	Key []byte
	// optional signing function, computing the signature over the stored
	// metadata block, when nil an all-zero signature is used
	Sign func(metadata []byte) ([]byte, error)
	// counter source, defaults to crypto/rand
	Rand io.Reader
}

// Build assembles a package2 image.
func Build(opts *Options) (raw []byte, err error) {
	var block cipher.Block

	if len(opts.Sections) > ActiveSections {
		return nil, fmt.Errorf("too many sections (%d)", len(opts.Sections))
	}

	r := opts.Rand

	if r == nil {
		r = rand.Reader
	}

	if opts.Key != nil {
		if block, err = aes.NewCipher(opts.Key); err != nil {
			return
		}
	}

	m := &Metadata{
		Magic:      Magic,
		Entrypoint: opts.Entrypoint,
		VersionMin: opts.VersionMin,
		VersionMax: opts.VersionMax,
	}

	img := &Image{}
	size := uint32(HeaderSize)

	if _, err = io.ReadFull(r, m.CTR[:]); err != nil {
		return
	}

	for i, s := range opts.Sections {
		if len(s.Data) > SizeMax {
			return nil, fmt.Errorf("section %d too large", i)
		}

		m.SectionSizes[i] = uint32(len(s.Data))
		m.SectionOffsets[i] = s.Offset
		size += uint32(len(s.Data))

		if size > SizeMax {
			return nil, errors.New("package too large")
		}

		if _, err = io.ReadFull(r, m.SectionCTRs[i][:]); err != nil {
			return
		}

		payload := make([]byte, len(s.Data))

		if block != nil {
			cipher.NewCTR(block, m.SectionCTRs[i][:]).XORKeyStream(payload, s.Data)
		} else {
			copy(payload, s.Data)
		}

		m.SectionHashes[i] = sha256.Sum256(payload)
		img.Sections[i] = payload
	}

	// absent sections are hashed as empty
	for i := len(opts.Sections); i < ActiveSections; i++ {
		m.SectionHashes[i] = sha256.Sum256(nil)
	}

	m.Encode(size, opts.HeaderVersion)

	img.Metadata = m.Bytes()

	if block != nil {
		cipher.NewCTR(block, m.CTR[:]).XORKeyStream(img.Metadata, img.Metadata)
		copy(img.Metadata, m.CTR[:])
	}

	img.Signature = make([]byte, SignatureSize)

	if opts.Sign != nil {
		var sig []byte

		if sig, err = opts.Sign(img.Metadata); err != nil {
			return
		}

		if len(sig) != SignatureSize {
			return nil, fmt.Errorf("invalid signature size (%d)", len(sig))
		}

		copy(img.Signature, sig)
	}

	return img.Bytes()
}
