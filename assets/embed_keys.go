// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build linux && ignore
// +build linux,ignore

package main

import (
	"fmt"
	"log"
	"os"
	"path"
	"sort"
	"strconv"
)

var files = []string{
	"check_vectors_retail.bin",
	"check_vectors_dev.bin",
	"device_key_sources.bin",
	"seal_key_sources.bin",
	"titlekey_seal_source.bin",
	"titlekek_sources.bin",
	"package2_key_source.bin",
	"package2_modulus_retail.bin",
	"package2_modulus_dev.bin",
}

func init() {
	log.SetFlags(0)
	log.SetOutput(os.Stdout)
}

func main() {
	p := os.Getenv("MONITOR_KEYS")

	if len(p) == 0 {
		log.Fatal("MONITOR_KEYS environment variable must be defined (see README.md)")
	}

	keys := make(map[string][]byte)

	for _, name := range files {
		buf, err := os.ReadFile(path.Join(p, name))

		if err != nil {
			log.Fatal(err)
		}

		keys[name] = buf
	}

	out, err := os.Create("tmp-provisioning.go")

	if err != nil {
		log.Fatal(err)
	}
	defer out.Close()

	out.WriteString(`
package assets

func init() {
	provisioned = map[string][]byte{
`)

	sort.Strings(files)

	for _, name := range files {
		out.WriteString(fmt.Sprintf("\t\t%q: []byte(%s),\n", name, strconv.Quote(string(keys[name]))))
	}

	out.WriteString(`	}
}
`)
}
