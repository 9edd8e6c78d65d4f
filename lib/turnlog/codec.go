// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package turnlog

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. Same logical record always
// produces identical bytes, which keeps checksums meaningful.
var encMode cbor.EncMode

// decMode accepts standard CBOR and silently ignores unknown fields,
// so readers stay compatible with records written by newer minor
// versions.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("turnlog: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("turnlog: CBOR decoder initialization failed: " + err.Error())
	}
}
