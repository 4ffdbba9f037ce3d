// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package testplugin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ukaea/UDA-sub011/uda"
)

// args reads typed "name=value" arguments of a signal with defaults.
type args struct {
	fn     string
	values map[string]string
}

func newArgs(call *uda.Call) args {
	return args{fn: call.Function, values: call.Args()}
}

func (a args) badValue(name, value string, err error) error {
	return &uda.ProtocolError{
		Code:     uda.PluginFailed,
		Type:     uda.PluginErrorType,
		Location: a.fn,
		Message:  fmt.Sprintf("argument %s=%q: %v", name, value, err),
		Class:    uda.ClassPeer,
	}
}

func (a args) String(name, def string) string {
	if v, ok := a.values[name]; ok {
		return v
	}
	return def
}

func (a args) Int(name string, def int) (int, error) {
	v, ok := a.values[name]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, a.badValue(name, v, err)
	}
	return n, nil
}

func (a args) Float(name string, def float64) (float64, error) {
	v, ok := a.values[name]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, a.badValue(name, v, err)
	}
	return f, nil
}

func (a args) Type(name string, def uda.DataType) (uda.DataType, error) {
	v, ok := a.values[name]
	if !ok {
		return def, nil
	}
	t, found := uda.AtomicType(strings.ToUpper(strings.ReplaceAll(v, "_", " ")))
	if !found || !t.IsNumeric() {
		return 0, a.badValue(name, v, fmt.Errorf("not a numeric type"))
	}
	return t, nil
}

// formatFloat prints f with at least one decimal place.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
