// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package testplugin

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ukaea/UDA-sub011/uda"
)

// PluginName is the name TESTPLUGIN functions are requested under, as in
// "TESTPLUGIN::array(type=float, count=10)".
const PluginName = "TESTPLUGIN"

type handler func(ctx context.Context, call *uda.Call) (*uda.DataBlock, error)

// Plugin dispatches TESTPLUGIN requests by function name.
type Plugin struct {
	functions map[string]handler
}

// RegisterPlugins registers TESTPLUGIN on r and makes it the default, so
// that a bare signal such as "test" is served by it.
func RegisterPlugins(r *uda.Registry) *Plugin {
	p := &Plugin{}
	p.functions = map[string]handler{
		// Atomic data
		"test":          fiveInts,
		"array":         array,
		"uchar":         unsignedChars,
		"echo_int":      echoInt,
		"echo_double":   echoDouble,
		"echo_string":   echoString,
		"add_doubles":   addDoubles,
		"concatenate":   concatenate,
		"with_defaults": withDefaults,

		// Dimensioned data
		"signal": signal,

		// Structures and opaque payloads
		"point":        point,
		"points":       points,
		"bounding_box": boundingBox,
		"all_types":    allTypes,
		"xml":          xmlDocument,

		// Put data
		"echo_put": echoPut,
		"sum_put":  sumPut,

		// Error propagation
		"raise_error":     raiseError,
		"raise_exception": raiseException,
		"panic":           panicking,

		// Client-directed logging
		"echo_with_log": echoWithLog,

		"help": p.help,
	}
	r.Register(PluginName, p)
	r.SetDefault(PluginName)
	return p
}

// Execute implements uda.Plugin.
func (p *Plugin) Execute(ctx context.Context, call *uda.Call) (*uda.DataBlock, error) {
	fn := strings.ToLower(call.Function)
	if fn == "" {
		fn = "test"
	}
	h, ok := p.functions[fn]
	if !ok {
		return nil, &uda.ProtocolError{
			Code:     uda.PluginFailed,
			Type:     uda.PluginErrorType,
			Location: PluginName,
			Message:  fmt.Sprintf("unknown function %q. Use %s::help() for a list", call.Function, PluginName),
			Class:    uda.ClassPeer,
		}
	}
	return h(ctx, call)
}

// Functions returns the served function names, sorted.
func (p *Plugin) Functions() []string {
	names := make([]string, 0, len(p.functions))
	for name := range p.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Plugin) help(_ context.Context, _ *uda.Call) (*uda.DataBlock, error) {
	text := PluginName + " functions: " + strings.Join(p.Functions(), ", ")
	b, err := uda.NewDataBlock(uda.TypeString, []uint8(text))
	if err != nil {
		return nil, err
	}
	b.DataDesc = "function list"
	return b, nil
}

// --- Atomic data ---

func fiveInts(_ context.Context, _ *uda.Call) (*uda.DataBlock, error) {
	return uda.NewDataBlock(uda.TypeInt, []int32{1, 2, 3, 4, 5})
}

func unsignedChars(_ context.Context, _ *uda.Call) (*uda.DataBlock, error) {
	return uda.NewDataBlock(uda.TypeUnsignedChar, []uint8{0, 127, 255})
}

// array returns count values 0, 1, 2... of the requested type.
func array(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	a := newArgs(call)
	t, err := a.Type("type", uda.TypeDouble)
	if err != nil {
		return nil, err
	}
	n, err := a.Int("count", 10)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, a.badValue("count", fmt.Sprint(n), fmt.Errorf("negative"))
	}
	data, err := Ramp(t, n, 0, 1)
	if err != nil {
		return nil, err
	}
	b, err := uda.NewDataBlock(t, data)
	if err != nil {
		return nil, err
	}
	b.DataLabel = "ramp"
	return b, nil
}

func echoInt(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	v, err := newArgs(call).Int("value", 0)
	if err != nil {
		return nil, err
	}
	return uda.NewDataBlock(uda.TypeInt, []int32{int32(v)})
}

func echoDouble(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	v, err := newArgs(call).Float("value", 0)
	if err != nil {
		return nil, err
	}
	return uda.NewDataBlock(uda.TypeDouble, []float64{v})
}

func stringBlock(s string) (*uda.DataBlock, error) {
	return uda.NewDataBlock(uda.TypeString, []uint8(s))
}

func echoString(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	return stringBlock(newArgs(call).String("value", ""))
}

func addDoubles(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	a := newArgs(call)
	x, err := a.Float("a", 0)
	if err != nil {
		return nil, err
	}
	y, err := a.Float("b", 0)
	if err != nil {
		return nil, err
	}
	return uda.NewDataBlock(uda.TypeDouble, []float64{x + y})
}

func concatenate(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	a := newArgs(call)
	return stringBlock(a.String("prefix", "") + a.String("separator", "-") + a.String("suffix", ""))
}

func withDefaults(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	a := newArgs(call)
	required, ok := a.values["required"]
	if !ok {
		return nil, a.badValue("required", "", fmt.Errorf("missing"))
	}
	n, err := a.Int("optional_int", 42)
	if err != nil {
		return nil, err
	}
	return stringBlock(fmt.Sprintf("required=%s, optional_str=%s, optional_int=%d",
		required, a.String("optional_str", "default"), n))
}

// --- Dimensioned data ---

// signal returns a sine wave of n samples per channel over a regular time
// axis. The time dimension is compressed; the channel axis is not.
func signal(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	a := newArgs(call)
	n, err := a.Int("n", 100)
	if err != nil {
		return nil, err
	}
	channels, err := a.Int("channels", 1)
	if err != nil {
		return nil, err
	}
	dt, err := a.Float("dt", 0.001)
	if err != nil {
		return nil, err
	}
	if n <= 0 || channels <= 0 {
		return nil, a.badValue("n", fmt.Sprint(n), fmt.Errorf("n and channels must be positive"))
	}

	data := make([]float64, n*channels)
	for c := range channels {
		for i := range n {
			data[c*n+i] = float64(c+1) * math.Sin(2*math.Pi*float64(i)*dt*10)
		}
	}
	b, err := uda.NewDataBlock(uda.TypeDouble, data)
	if err != nil {
		return nil, err
	}
	b.DataUnits = "V"
	b.DataLabel = "amplitude"

	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) * dt
	}
	time, err := uda.NewDimension(uda.TypeDouble, times)
	if err != nil {
		return nil, err
	}
	time.Units = "s"
	time.Label = "time"
	uda.Compress(&time)
	b.AddDimension(time)

	if channels > 1 {
		ids := make([]int32, channels)
		for i := range ids {
			ids[i] = int32(100 + i*i)
		}
		ch, err := uda.NewDimension(uda.TypeInt, ids)
		if err != nil {
			return nil, err
		}
		ch.Label = "channel"
		b.AddDimension(ch)
	}
	return b, nil
}

// --- Structures ---

func point(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	a := newArgs(call)
	x, err := a.Float("x", 0)
	if err != nil {
		return nil, err
	}
	y, err := a.Float("y", 0)
	if err != nil {
		return nil, err
	}
	sd, err := NewPoints([]Point{{X: x, Y: y}})
	if err != nil {
		return nil, err
	}
	return uda.NewStructuredBlock(sd), nil
}

func points(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	n, err := newArgs(call).Int("count", 3)
	if err != nil {
		return nil, err
	}
	pts := make([]Point, max(n, 0))
	for i := range pts {
		pts[i] = Point{X: float64(i), Y: float64(i) * 0.5}
	}
	sd, err := NewPoints(pts)
	if err != nil {
		return nil, err
	}
	return uda.NewStructuredBlock(sd), nil
}

func boundingBox(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	sd, err := NewBoundingBox(BoundingBox{
		TopLeft:     Point{X: 0, Y: 10},
		BottomRight: Point{X: 10, Y: 0},
		Label:       newArgs(call).String("label", "box"),
	})
	if err != nil {
		return nil, err
	}
	return uda.NewStructuredBlock(sd), nil
}

func allTypes(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	n, err := newArgs(call).Int("count", 2)
	if err != nil {
		return nil, err
	}
	sd, err := newAllTypes(max(n, 0))
	if err != nil {
		return nil, err
	}
	return uda.NewStructuredBlock(sd), nil
}

func xmlDocument(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	name := newArgs(call).String("name", "ip")
	return uda.NewXMLBlock(fmt.Sprintf(`<signal name=%q><units>A</units></signal>`, name)), nil
}

// --- Put data ---

func firstPut(call *uda.Call) (*uda.PutDataBlock, error) {
	puts := call.PutData()
	if len(puts) == 0 {
		return nil, &uda.ProtocolError{
			Code:     uda.PluginFailed,
			Type:     uda.PluginErrorType,
			Location: call.Function,
			Message:  "request carries no put data",
			Class:    uda.ClassPeer,
		}
	}
	return puts[0], nil
}

// echoPut returns the first put block unchanged.
func echoPut(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	put, err := firstPut(call)
	if err != nil {
		return nil, err
	}
	if put.Structures != nil {
		return uda.NewStructuredBlock(put.Structures), nil
	}
	b, err := uda.NewDataBlock(put.DataType, put.Data)
	if err != nil {
		return nil, err
	}
	b.DataLabel = put.BlockName
	return b, nil
}

// sumPut adds up the numeric elements of every put block.
func sumPut(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	if _, err := firstPut(call); err != nil {
		return nil, err
	}
	var total float64
	for _, put := range call.PutData() {
		s, err := Sum(put.Data)
		if err != nil {
			return nil, err
		}
		total += s
	}
	return uda.NewDataBlock(uda.TypeDouble, []float64{total})
}

// --- Error propagation ---

func raiseError(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	return nil, &uda.ProtocolError{
		Code:     uda.PluginFailed,
		Type:     uda.PluginErrorType,
		Location: PluginName,
		Message:  newArgs(call).String("message", "intentional error"),
		Class:    uda.ClassPeer,
	}
}

func raiseException(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	call.ClientLog(uda.LogException, newArgs(call).String("message", "intentional exception"))
	return uda.NewDataBlock(uda.TypeInt, []int32{0})
}

func panicking(_ context.Context, _ *uda.Call) (*uda.DataBlock, error) {
	panic("intentional panic")
}

// --- Client-directed logging ---

func echoWithLog(_ context.Context, call *uda.Call) (*uda.DataBlock, error) {
	v := newArgs(call).String("value", "")
	call.ClientLog(uda.LogInfo, "info: "+v)
	call.ClientLog(uda.LogWarn, "warn: "+v, "source", "testplugin")
	return stringBlock(v)
}
