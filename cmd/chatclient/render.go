package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/korylprince/tevor-concierge/api"
	"github.com/korylprince/tevor-concierge/httpapi"
)

//renderer prints server frames. Streaming replies are printed incrementally: only the
//text added since the last update of the same message is written.
type renderer struct {
	w       io.Writer
	printed map[string]int
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w, printed: make(map[string]int)}
}

func speaker(m *api.Message) string {
	switch m.Role {
	case api.RoleUser:
		return "You"
	case api.RoleSystem:
		return "*"
	}
	if m.Metadata != nil && m.Metadata.Origin == api.OriginService {
		return "Service"
	}
	return "Assistant"
}

func (r *renderer) message(m *api.Message) {
	if m.Metadata != nil && m.Metadata.ServiceActivation != nil {
		a := m.Metadata.ServiceActivation
		fmt.Fprintf(r.w, "-- %s %s: %s --\n", a.ServiceEmoji, a.ServiceName, a.Kind)
		return
	}

	if m.IsStreaming() {
		fmt.Fprintf(r.w, "%s: %s", speaker(m), m.Text)
		r.printed[m.ID] = len(m.Text)
		return
	}
	fmt.Fprintf(r.w, "%s: %s\n", speaker(m), m.Text)
	if m.Metadata != nil && m.Metadata.Summary != "" {
		fmt.Fprintf(r.w, "%s\n", m.Metadata.Summary)
	}
}

func (r *renderer) update(m *api.Message) {
	n, ok := r.printed[m.ID]
	if !ok {
		return
	}
	if len(m.Text) > n {
		fmt.Fprint(r.w, m.Text[n:])
		r.printed[m.ID] = len(m.Text)
	}
	if !m.IsStreaming() {
		if m.Metadata != nil && m.Metadata.Error != "" {
			fmt.Fprintf(r.w, " [error: %s]", m.Metadata.Error)
		}
		fmt.Fprintln(r.w)
		delete(r.printed, m.ID)
	}
}

func (r *renderer) frame(f *httpapi.ServerFrame) {
	switch f.Type {
	case httpapi.ServerFrameHistory:
		for _, m := range f.Messages {
			r.message(m)
		}
	case httpapi.ServerFrameMessage:
		r.message(f.Message)
	case httpapi.ServerFrameUpdate:
		r.update(f.Message)
	case httpapi.ServerFrameComponent:
		c := f.Component
		switch {
		case c.Component != nil:
			fmt.Fprintf(r.w, "[%s] /action %s %s <json>\n", c.Component.Kind, c.ServiceID, c.Component.ActionID)
			if skip, ok := c.Component.Props["skip_action_id"].(string); ok {
				fmt.Fprintf(r.w, "[%s] /action %s %s\n", c.Component.Kind, c.ServiceID, skip)
			}
		case c.Action != nil:
			fmt.Fprintf(r.w, "[%s %s] /action %s %s\n", c.Action.Icon, c.Action.Label, c.ServiceID, c.Action.ID)
		}
	case httpapi.ServerFrameValidation:
		fields := make([]string, 0, len(f.Errors))
		for k := range f.Errors {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		for _, k := range fields {
			fmt.Fprintf(r.w, "! %s (%s): %s\n", f.ActionID, k, f.Errors[k])
		}
	case httpapi.ServerFrameMode:
		if f.Mode.ActiveServiceID != "" {
			fmt.Fprintf(r.w, "(mode: %s, service: %s)\n", f.Mode.Mode, f.Mode.ActiveServiceID)
		} else {
			fmt.Fprintf(r.w, "(mode: %s)\n", f.Mode.Mode)
		}
	case httpapi.ServerFrameServices:
		for _, s := range f.Services {
			fmt.Fprintf(r.w, "%s %s (%s): %s\n", s.Emoji, s.Name, s.ID, s.Description)
		}
	case httpapi.ServerFrameError:
		fmt.Fprintf(r.w, "Error: %s\n", f.Error)
	}
}
