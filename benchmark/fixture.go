// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

// Package benchmark holds the fixtures used to benchmark the UDA codecs and
// a full client/server request cycle.
package benchmark

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ukaea/UDA-sub011/uda"
)

// PluginName is the plugin RegisterPlugins installs.
const PluginName = "BENCH"

// RegisterPlugins registers the benchmark plugin on r as the default.
func RegisterPlugins(r *uda.Registry) {
	r.RegisterFunc(PluginName, func(ctx context.Context, call *uda.Call) (*uda.DataBlock, error) {
		switch call.Function {
		case "noop":
			return noop(ctx, call)
		case "generate":
			return generate(ctx, call)
		case "transform":
			return transform(ctx, call)
		}
		return nil, fmt.Errorf("unknown function %q", call.Function)
	})
	r.SetDefault(PluginName)
}

// Handler implementations

func noop(_ context.Context, _ *uda.Call) (*uda.DataBlock, error) {
	return uda.NewDataBlock(uda.TypeInt, []int32{0})
}

// generate returns count LONG64 values i*10.
func generate(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	n, err := strconv.Atoi(call.Args()["count"])
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	values := make([]int64, n)
	for i := range values {
		values[i] = int64(i) * 10
	}
	return uda.NewDataBlock(uda.TypeLong64, values)
}

// transform scales the DOUBLE put data by factor.
func transform(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	factor, err := strconv.ParseFloat(call.Args()["factor"], 64)
	if err != nil {
		return nil, fmt.Errorf("factor: %w", err)
	}
	puts := call.PutData()
	if len(puts) == 0 {
		return nil, fmt.Errorf("transform needs put data")
	}
	in, ok := puts[0].Data.([]float64)
	if !ok {
		return nil, fmt.Errorf("transform needs DOUBLE data, got %s", puts[0].DataType)
	}
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = v * factor
	}
	return uda.NewDataBlock(uda.TypeDouble, out)
}

// Fixtures

// Signal returns a DOUBLE block of n samples over a regular time axis whose
// spacing is exact in binary, so the axis always compresses.
func Signal(n int) (*uda.DataBlock, error) {
	data := make([]float64, n)
	times := make([]float64, n)
	for i := range data {
		data[i] = float64(i%97) * 0.25
		times[i] = float64(i) / 1024
	}
	b, err := uda.NewDataBlock(uda.TypeDouble, data)
	if err != nil {
		return nil, err
	}
	d, err := uda.NewDimension(uda.TypeDouble, times)
	if err != nil {
		return nil, err
	}
	d.Label = "time"
	b.AddDimension(d)
	return b, nil
}

// Samples returns the DOUBLE put block sent to transform.
func Samples(n int) (*uda.PutDataBlock, error) {
	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i)
	}
	return uda.NewPutDataBlock(uda.TypeDouble, "samples", data)
}

// Records returns a structure graph of n RECORD instances, each holding an
// id, a name and a short sample array.
func Records(n int) (*uda.StructuredData, error) {
	cat := uda.NewCatalog()
	t, err := cat.Define("RECORD", "benchmark",
		uda.ScalarField("id", "", uda.TypeInt),
		uda.StringField("name", ""),
		uda.ArrayField("samples", "", uda.TypeFloat),
	)
	if err != nil {
		return nil, err
	}
	a := uda.NewArena()
	elems := make([]uda.NodeID, n)
	for i := range elems {
		id := a.New(t)
		if err := a.Set(id, "id", []int32{int32(i)}); err != nil {
			return nil, err
		}
		if err := a.SetStrings(id, "name", "record-"+strconv.Itoa(i)); err != nil {
			return nil, err
		}
		if err := a.Set(id, "samples", []float32{float32(i), 1, 2, 3}); err != nil {
			return nil, err
		}
		elems[i] = id
	}
	return uda.NewStructuredData(cat, a, "RECORD", elems)
}
