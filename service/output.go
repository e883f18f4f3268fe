package service

import "github.com/korylprince/tevor-concierge/api"

//Output is one item produced by a Definition. It is one of
//Text, System, Component, Action, Validation, or Deferred.
type Output interface {
	output()
}

//Attachment carries a completed session summary so the AI chat can reference it later
type Attachment struct {
	ApplicationID string         `json:"application_id"`
	Summary       string         `json:"summary"`
	Data          map[string]any `json:"data,omitempty"`
}

//Text is a plain assistant message
type Text struct {
	Content    string
	Attachment *Attachment
}

//System is a status note
type System struct {
	Content string
}

//ComponentKind names an interactive step component rendered by the UI
type ComponentKind string

//ComponentKinds
const (
	ComponentPhotoUpload   ComponentKind = "photo_upload"
	ComponentAddressInput  ComponentKind = "address_input"
	ComponentDatePicker    ComponentKind = "date_picker"
	ComponentSelectOptions ComponentKind = "select_options"
	ComponentNumberInput   ComponentKind = "number_input"
	ComponentSummary       ComponentKind = "summary"
	ComponentQuoteForm     ComponentKind = "quote_form"
)

//Option is a choice offered by a ComponentSelectOptions component
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
}

//Component is an interactive step component. It is opaque to the orchestrator:
//the UI renders it from Kind and Props and reports the collected value as ActionID.
type Component struct {
	Kind     ComponentKind  `json:"kind"`
	ActionID string         `json:"action_id"`
	Props    map[string]any `json:"props,omitempty"`
}

//Action offers a quick action to the user
type Action struct {
	Descriptor ActionDescriptor
}

//Validation reports rejected fields to the component that submitted ActionID.
//It is never appended to the transcript.
type Validation struct {
	ActionID string
	Errors   api.FieldErrors
}

//Deferred asks the orchestrator to send Signal back to the active service after the
//reveal delay, so a component can appear once the preceding text has been shown.
type Deferred struct {
	Signal Signal
}

func (Text) output()       {}
func (System) output()     {}
func (Component) output()  {}
func (Action) output()     {}
func (Validation) output() {}
func (Deferred) output()   {}
