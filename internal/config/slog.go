// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

type changeValue struct {
	Change
}

func (v changeValue) LogValue() slog.Value {
	events := make([]eventValue, len(v.Event))
	for i, e := range v.Event {
		events[i] = newEventValue(e)
	}
	return slog.AnyValue(struct {
		Event []eventValue `json:"event"`
		Err   error        `json:"err"`
	}{
		Event: events,
		Err:   v.Err,
	})
}

type eventValue struct {
	Name string `json:"name"`
	Op   string `json:"op"`
	Code int    `json:"op_code"`
}

func newEventValue(e fsnotify.Event) eventValue {
	return eventValue{
		Name: e.Name,
		Op:   e.Op.String(),
		Code: int(e.Op),
	}
}
