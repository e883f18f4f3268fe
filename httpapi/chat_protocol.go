package httpapi

import (
	"encoding/json"

	"github.com/korylprince/tevor-concierge/api"
	"github.com/korylprince/tevor-concierge/conversation"
	"github.com/korylprince/tevor-concierge/service"
)

//ClientFrameType is the type of a frame sent by a chat client
type ClientFrameType string

//ClientFrameTypes
const (
	ClientFrameMessage       ClientFrameType = "message"
	ClientFrameAction        ClientFrameType = "action"
	ClientFrameSelectService ClientFrameType = "select_service"
)

//ClientFrame is a frame sent by a chat client.
//message uses Message; action uses ServiceID, ActionID, and Payload; select_service uses ServiceID.
type ClientFrame struct {
	Type      ClientFrameType `json:"type"`
	Message   string          `json:"message,omitempty"`
	ServiceID string          `json:"service_id,omitempty"`
	ActionID  string          `json:"action_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

//ServerFrameType is the type of a frame pushed to a chat client
type ServerFrameType string

//ServerFrameTypes
const (
	ServerFrameHistory         ServerFrameType = "history"
	ServerFrameMessage         ServerFrameType = "message"
	ServerFrameUpdate          ServerFrameType = "update"
	ServerFrameComponent       ServerFrameType = "component"
	ServerFrameClearComponents ServerFrameType = "clear_components"
	ServerFrameValidation      ServerFrameType = "validation"
	ServerFrameMode            ServerFrameType = "mode"
	ServerFrameServices        ServerFrameType = "services"
	ServerFrameError           ServerFrameType = "error"
)

//ServerFrame is a frame pushed to a chat client
type ServerFrame struct {
	Type      ServerFrameType                 `json:"type"`
	Message   *api.Message                    `json:"message,omitempty"`
	Messages  []*api.Message                  `json:"messages,omitempty"`
	Component *conversation.RenderedComponent `json:"component,omitempty"`
	ServiceID string                          `json:"service_id,omitempty"`
	ActionID  string                          `json:"action_id,omitempty"`
	Errors    api.FieldErrors                 `json:"errors,omitempty"`
	Mode      *conversation.ModeState         `json:"mode,omitempty"`
	Services  []service.Config                `json:"services,omitempty"`
	Error     string                          `json:"error,omitempty"`
}

//eventFrame converts a transcript event to the frame sent to the client
func eventFrame(e conversation.Event) (ServerFrame, bool) {
	switch e.Kind {
	case conversation.EventAppended:
		return ServerFrame{Type: ServerFrameMessage, Message: e.Message}, true
	case conversation.EventUpdated:
		return ServerFrame{Type: ServerFrameUpdate, Message: e.Message}, true
	case conversation.EventReplaced:
		return ServerFrame{Type: ServerFrameHistory, Messages: e.Messages}, true
	case conversation.EventComponent:
		return ServerFrame{Type: ServerFrameComponent, Component: e.Component, ServiceID: e.ServiceID}, true
	case conversation.EventComponentsCleared:
		return ServerFrame{Type: ServerFrameClearComponents}, true
	case conversation.EventValidation:
		if e.Validation == nil {
			return ServerFrame{}, false
		}
		return ServerFrame{
			Type:      ServerFrameValidation,
			ServiceID: e.ServiceID,
			ActionID:  e.Validation.ActionID,
			Errors:    e.Validation.Errors,
		}, true
	}
	return ServerFrame{}, false
}

func modeFrame(s conversation.ModeState) ServerFrame {
	return ServerFrame{Type: ServerFrameMode, Mode: &s}
}

func errorFrame(msg string) ServerFrame {
	return ServerFrame{Type: ServerFrameError, Error: msg}
}
