// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package transport implements the fleet's reliable
// group-addressable pub/sub (group TASK-ALLOCATION) plus per-peer
// unicast: a Serf cluster carries every broadcast message type as a
// UserEvent, and a direct net/rpc connection over the msgpack codec
// carries unicast replies (a bidder's BID, the auctioneer's targeted
// TASK-CONTRACT).
package transport

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/ropod-project/mrta/internal/structs"
)

var msgpackHandle = &codec.MsgpackHandle{}

// Encode serializes an envelope to its self-describing msgpack wire
// form.
func Encode(env structs.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes an envelope whose Payload is left as a generic
// map[string]interface{} (the typed dispatch table in dispatch.go
// decodes it further via mapstructure once the type tag is known).
func Decode(data []byte) (structs.Envelope, error) {
	var env structs.Envelope
	dec := codec.NewDecoder(bytes.NewReader(data), msgpackHandle)
	if err := dec.Decode(&env); err != nil {
		return structs.Envelope{}, err
	}
	return env, nil
}
