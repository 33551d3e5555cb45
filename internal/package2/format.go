// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package package2 implements authentication, decryption and placement of
// the second stage boot image.
package package2

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

const (
	SignatureSize = 0x100
	MetadataSize  = 0x100
	HeaderSize    = SignatureSize + MetadataSize

	// SizeMax is the largest package size, header included
	SizeMax = 0x7fc000

	// SectionCount is the number of sections described by the metadata
	SectionCount = 4
	// ActiveSections is the number of sections actually loaded
	ActiveSections = 3

	CTRSize  = 16
	HashSize = 32
)

// Magic identifies package2 metadata.
var Magic = [4]byte{'P', 'K', '2', '1'}

// Metadata represents the package2 metadata block, in its decrypted form.
//
// The header counter is stored in clear and encodes the package size and
// header version.
type Metadata struct {
	CTR            [CTRSize]byte
	SectionCTRs    [SectionCount][CTRSize]byte
	Magic          [4]byte
	Entrypoint     uint32
	Reserved       uint32
	VersionMax     uint8
	VersionMin     uint8
	Pad            uint16
	SectionSizes   [SectionCount]uint32
	SectionOffsets [SectionCount]uint32
	SectionHashes  [SectionCount][HashSize]byte
}

func (m *Metadata) ctrWord(i int) uint32 {
	return binary.LittleEndian.Uint32(m.CTR[i*4:])
}

// Size returns the package size encoded in the header counter.
func (m *Metadata) Size() uint32 {
	return m.ctrWord(0) ^ m.ctrWord(2) ^ m.ctrWord(3)
}

// HeaderVersion returns the header version encoded in the header counter.
func (m *Metadata) HeaderVersion() uint8 {
	w := m.ctrWord(1)
	return uint8(w ^ w>>16 ^ w>>24)
}

// Encode stores size and header version within the header counter, keeping
// its remaining bytes.
func (m *Metadata) Encode(size uint32, version uint8) {
	w0 := size ^ m.ctrWord(2) ^ m.ctrWord(3)
	binary.LittleEndian.PutUint32(m.CTR[0:], w0)

	m.CTR[4] = version ^ m.CTR[6] ^ m.CTR[7]
}

// Bytes returns the metadata wire representation.
func (m *Metadata) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, m)
	return buf.Bytes()
}

// ParseMetadata decodes a metadata block.
func ParseMetadata(buf []byte) (m *Metadata, err error) {
	if len(buf) != MetadataSize {
		return nil, fmt.Errorf("invalid metadata size (%d)", len(buf))
	}

	m = &Metadata{}
	err = binary.Read(bytes.NewReader(buf), binary.LittleEndian, m)

	return
}

// DecryptMetadata decrypts a metadata block with a package2 key, the clear
// header counter is preserved.
func DecryptMetadata(block cipher.Block, raw []byte) (*Metadata, error) {
	if len(raw) != MetadataSize {
		return nil, fmt.Errorf("invalid metadata size (%d)", len(raw))
	}

	buf := make([]byte, MetadataSize)
	cipher.NewCTR(block, raw[:CTRSize]).XORKeyStream(buf, raw)
	copy(buf, raw[:CTRSize])

	return ParseMetadata(buf)
}

// Image represents a package2 image split in its parts.
type Image struct {
	Signature []byte
	// metadata block as stored, possibly encrypted
	Metadata []byte
	// section payloads as stored, possibly encrypted
	Sections [ActiveSections][]byte
}

// Split divides a raw image in its parts according to the section sizes
// found in m, which must be the decoded form of its metadata.
func Split(raw []byte, m *Metadata) (img *Image, err error) {
	s := cryptobyte.String(raw)
	img = &Image{}

	if !s.ReadBytes(&img.Signature, SignatureSize) || !s.ReadBytes(&img.Metadata, MetadataSize) {
		return nil, errors.New("truncated header")
	}

	if m == nil {
		return
	}

	for i := 0; i < ActiveSections; i++ {
		if !s.ReadBytes(&img.Sections[i], int(m.SectionSizes[i])) {
			return nil, fmt.Errorf("truncated section %d", i)
		}
	}

	return
}

// Bytes returns the image wire representation.
func (img *Image) Bytes() ([]byte, error) {
	var b cryptobyte.Builder

	if len(img.Signature) != SignatureSize || len(img.Metadata) != MetadataSize {
		return nil, errors.New("invalid header")
	}

	b.AddBytes(img.Signature)
	b.AddBytes(img.Metadata)

	for _, s := range img.Sections {
		b.AddBytes(s)
	}

	return b.Bytes()
}
