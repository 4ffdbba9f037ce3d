// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukaea/UDA-sub011/uda"
)

func pipeClient(tb testing.TB) *uda.Client {
	tb.Helper()
	r := uda.NewRegistry()
	RegisterPlugins(r)
	server := uda.NewServer(r)

	var wg sync.WaitGroup
	c := uda.NewClient("pipe", 0)
	c.SetDialer(func(context.Context) (net.Conn, error) {
		cli, srv := net.Pipe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			server.ServeConn(context.Background(), srv)
		}()
		return cli, nil
	})
	tb.Cleanup(func() {
		c.Close()
		wg.Wait()
	})
	return c
}

func TestFixtures(t *testing.T) {
	c := pipeClient(t)

	req := uda.NewRequest("BENCH::generate(count=5)", "")
	blocks, err := c.Get(context.Background(), &req)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 10, 20, 30, 40}, blocks[0].Data)

	put, err := Samples(4)
	require.NoError(t, err)
	req = uda.NewRequest("BENCH::transform(factor=0.5)", "")
	req.Put = true
	req.PutData.Add(put)
	blocks, err = c.Get(context.Background(), &req)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1, 1.5}, blocks[0].Data)

	sig, err := Signal(100)
	require.NoError(t, err)
	assert.True(t, uda.Compress(&sig.Dims[0]))

	sd, err := Records(3)
	require.NoError(t, err)
	assert.Equal(t, 3, sd.Count())
}

func BenchmarkRequestNoop(b *testing.B) {
	c := pipeClient(b)
	req := uda.NewRequest("BENCH::noop()", "")
	ctx := context.Background()
	b.ResetTimer()
	for range b.N {
		if _, err := c.Get(ctx, &req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRequestGenerate(b *testing.B) {
	c := pipeClient(b)
	req := uda.NewRequest("BENCH::generate(count=100000)", "")
	ctx := context.Background()
	b.SetBytes(100000 * 8)
	b.ResetTimer()
	for range b.N {
		if _, err := c.Get(ctx, &req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRequestTransform(b *testing.B) {
	c := pipeClient(b)
	put, err := Samples(10000)
	require.NoError(b, err)
	req := uda.NewRequest("BENCH::transform(factor=2)", "")
	req.Put = true
	req.PutData.Add(put)
	ctx := context.Background()
	b.SetBytes(2 * 10000 * 8)
	b.ResetTimer()
	for range b.N {
		if _, err := c.Get(ctx, &req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSerialiseSignal(b *testing.B) {
	sig, err := Signal(100000)
	require.NoError(b, err)
	b.SetBytes(2 * 100000 * 8)
	b.ResetTimer()
	for range b.N {
		obj, err := uda.SerialiseObject(sig, uda.ProtocolVersion)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := uda.DeserialiseObject(obj, uda.ProtocolVersion); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSerialiseStructures(b *testing.B) {
	sd, err := Records(1000)
	require.NoError(b, err)
	block := uda.NewStructuredBlock(sd)
	b.ResetTimer()
	for range b.N {
		obj, err := uda.SerialiseObject(block, uda.ProtocolVersion)
		if err != nil {
			b.Fatal(err)
		}
		out, err := uda.DeserialiseObject(obj, uda.ProtocolVersion)
		if err != nil {
			b.Fatal(err)
		}
		out.Release()
	}
}

func BenchmarkCompressDimension(b *testing.B) {
	sig, err := Signal(100000)
	require.NoError(b, err)
	b.ResetTimer()
	for range b.N {
		d := sig.Dims[0]
		if !uda.Compress(&d) {
			b.Fatal("time axis did not compress")
		}
		if err := uda.Uncompress(&d); err != nil {
			b.Fatal(err)
		}
	}
}
