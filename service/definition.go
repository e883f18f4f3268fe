// Package service contains the guided-flow contract (Definition), the per-service session
// state, and the Catalog that serializes activation of guided services.
package service

import (
	"context"
	"encoding/json"
)

//Signal is a lifecycle control value sent to a Definition by the orchestrator.
//Signals can't be produced from user text; see Input.
type Signal string

//Signals understood by guided services
const (
	SignalStart           Signal = "start"
	SignalShowPhotoUpload Signal = "show_photo_upload"
)

//Input is either user text or a control Signal
type Input struct {
	text   string
	signal Signal
}

//TextInput wraps a user utterance. TextInput("start") is text, not SignalStart.
func TextInput(text string) Input {
	return Input{text: text}
}

//SignalInput wraps a control Signal
func SignalInput(s Signal) Input {
	return Input{signal: s}
}

//Signal returns the Signal and true if i is a control Signal
func (i Input) Signal() (Signal, bool) {
	return i.signal, i.signal != ""
}

//Text returns the user text of i, or an empty string for a Signal
func (i Input) Text() string {
	return i.text
}

func (i Input) String() string {
	if i.signal != "" {
		return "signal:" + string(i.signal)
	}
	return i.text
}

//Config describes a registered service
type Config struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Emoji       string `json:"emoji"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Enabled     bool   `json:"enabled"`
}

//Context identifies who a service session runs for
type Context struct {
	UserID    string            `json:"user_id,omitempty"`
	ProjectID string            `json:"project_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

//Merge returns c with the non-empty fields of other applied over it
func (c Context) Merge(other Context) Context {
	if other.UserID != "" {
		c.UserID = other.UserID
	}
	if other.ProjectID != "" {
		c.ProjectID = other.ProjectID
	}
	if other.SessionID != "" {
		c.SessionID = other.SessionID
	}
	if len(other.Metadata) > 0 {
		md := make(map[string]string, len(c.Metadata)+len(other.Metadata))
		for k, v := range c.Metadata {
			md[k] = v
		}
		for k, v := range other.Metadata {
			md[k] = v
		}
		c.Metadata = md
	}
	return c
}

//ActionType is the UI affordance used for an ActionDescriptor
type ActionType string

//ActionTypes
const (
	ActionTypeButton ActionType = "button"
	ActionTypeForm   ActionType = "form"
	ActionTypeSelect ActionType = "select"
	ActionTypeCustom ActionType = "custom"
)

//ActionDescriptor is a quick action offered outside the normal step flow
type ActionDescriptor struct {
	ID        string     `json:"id"`
	ServiceID string     `json:"service_id"`
	Label     string     `json:"label"`
	Icon      string     `json:"icon,omitempty"`
	Type      ActionType `json:"type"`
}

//Definition is a guided, multi-step service flow.
//
//Implementations must be safe for concurrent use: the orchestrator replays Deferred
//signals from a timer while user input may arrive.
type Definition interface {
	Config() Config

	//Initialize resets the step pointer and collected data and records sc.
	Initialize(ctx context.Context, sc Context) error

	//Activate marks the service active. The Catalog calls it after a successful Initialize.
	Activate()
	IsActive() bool

	//HandleMessage produces the prompt for the current step or the step component
	//requested by a Signal. It never advances the flow on free text.
	HandleMessage(ctx context.Context, in Input) ([]Output, error)

	//HandleAction advances the flow with a value collected by a step component.
	//Unknown actionIDs yield a single Text output, not an error.
	HandleAction(ctx context.Context, actionID string, payload json.RawMessage) ([]Output, error)

	AvailableActions() []ActionDescriptor

	//Terminate flushes any pending summary, clears collected data and history, and marks the service inactive.
	Terminate(ctx context.Context) error
}
