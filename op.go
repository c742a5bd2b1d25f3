// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"reflect"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// A Transform maps a partition to a new partition.
type Transform interface {
	Map(ctx context.Context, data interface{}) (interface{}, error)
}

// A FlatTransform maps a partition to a list of partitions.
type FlatTransform interface {
	FlatMap(ctx context.Context, data interface{}) ([]interface{}, error)
}

// A Reduction computes a summary of a dataset. Create summarizes a
// single partition; Add combines two summaries. Add must be
// associative, and Zero must be its identity. Summaries may be
// combined in any grouping, so Add should also be commutative if the
// caller expects deterministic results.
type Reduction interface {
	Zero() interface{}
	Create(ctx context.Context, data interface{}) (interface{}, error)
	Add(a, b interface{}) (interface{}, error)
}

func init() {
	gob.Register(Pair{})
	gob.Register(StatusList(nil))
	gob.Register([]interface{}(nil))
}

var (
	opsMu     sync.Mutex
	opsByName = make(map[string]reflect.Type)
	opsByType = make(map[reflect.Type]string)
)

// RegisterOp registers the type of op (a Transform, FlatTransform,
// Reduction, or ControlMessage) under the provided name so that
// values of that type can be sent to remote datasets. Ops are
// encoded as their name followed by their gob-encoded exported
// fields. RegisterOp panics if the name or the type is already
// registered. It should be called from an init function in every
// binary that sends or serves the op.
func RegisterOp(name string, op interface{}) {
	switch op.(type) {
	case Transform, FlatTransform, Reduction, ControlMessage:
	default:
		log.Panicf("hillview.RegisterOp: %T is not an operation", op)
	}
	typ := reflect.TypeOf(op)
	opsMu.Lock()
	defer opsMu.Unlock()
	if other, ok := opsByName[name]; ok {
		log.Panicf("hillview.RegisterOp: name %s already registered to %s", name, other)
	}
	if other, ok := opsByType[typ]; ok {
		log.Panicf("hillview.RegisterOp: type %s already registered as %s", typ, other)
	}
	opsByName[name] = typ
	opsByType[typ] = name
}

// RegisterValue registers the concrete type of v so that values of
// that type can be carried as partitions, partial results, or
// operation parameters across process boundaries.
func RegisterValue(v interface{}) {
	gob.Register(v)
}

type opEnvelope struct {
	Name   string
	Params []byte
}

// EncodeOp encodes a registered op. It returns an error of kind
// errors.NotSupported if the op's type is not registered.
func EncodeOp(op interface{}) ([]byte, error) {
	typ := reflect.TypeOf(op)
	opsMu.Lock()
	name, ok := opsByType[typ]
	opsMu.Unlock()
	if !ok {
		return nil, errors.E(errors.NotSupported, fmt.Sprintf("hillview: operation type %s is not registered", typ))
	}
	env := opEnvelope{Name: name}
	if hasParams(typ) {
		var b bytes.Buffer
		if err := gob.NewEncoder(&b).Encode(op); err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("hillview: encode operation %s", name), err)
		}
		env.Params = b.Bytes()
	}
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(env); err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("hillview: encode operation %s", name), err)
	}
	return b.Bytes(), nil
}

// DecodeOp decodes an op encoded by EncodeOp. It returns an error of
// kind errors.NotSupported if the op's name is not registered in
// this process.
func DecodeOp(p []byte) (interface{}, error) {
	var env opEnvelope
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&env); err != nil {
		return nil, errors.E(errors.Invalid, "hillview: decode operation", err)
	}
	opsMu.Lock()
	typ, ok := opsByName[env.Name]
	opsMu.Unlock()
	if !ok {
		return nil, errors.E(errors.NotSupported, fmt.Sprintf("hillview: operation %s is not registered", env.Name))
	}
	var ptr reflect.Value
	if typ.Kind() == reflect.Ptr {
		ptr = reflect.New(typ.Elem())
	} else {
		ptr = reflect.New(typ)
	}
	if len(env.Params) > 0 {
		if err := gob.NewDecoder(bytes.NewReader(env.Params)).DecodeValue(ptr); err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("hillview: decode operation %s", env.Name), err)
		}
	}
	if typ.Kind() == reflect.Ptr {
		return ptr.Interface(), nil
	}
	return ptr.Elem().Interface(), nil
}

// hasParams tells whether gob can encode values of type typ. Struct
// types without exported fields carry no parameters.
func hasParams(typ reflect.Type) bool {
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return true
	}
	for i := 0; i < typ.NumField(); i++ {
		if typ.Field(i).PkgPath == "" {
			return true
		}
	}
	return false
}

// EncodeValue encodes a value carried by a partial result. The
// value's concrete type must be registered with RegisterValue unless
// it is a basic type.
func EncodeValue(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(&v); err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("hillview: encode value of type %T", v), err)
	}
	return b.Bytes(), nil
}

// DecodeValue decodes a value encoded by EncodeValue.
func DecodeValue(p []byte) (interface{}, error) {
	var v interface{}
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&v); err != nil {
		return nil, errors.E(errors.Invalid, "hillview: decode value", err)
	}
	return v, nil
}
