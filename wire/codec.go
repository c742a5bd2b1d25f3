// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/gob"

	"github.com/grailbio/base/errors"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype under which messages are
// exchanged.
const CodecName = "gob"

// codec is a gRPC codec that encodes messages with encoding/gob. The
// messages exchanged here are plain Go structs, as are the values
// they carry.
type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(v); err != nil {
		return nil, errors.E(errors.Invalid, "wire encode", err)
	}
	return b.Bytes(), nil
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return errors.E(errors.Invalid, "wire decode", err)
	}
	return nil
}

func (codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(codec{})
}
