package api

import "time"

//Role is the speaker of a transcript Message
type Role string

//Roles
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

//Origin is the producer of a transcript Message
type Origin string

//Origins
const (
	OriginUser    Origin = "user"
	OriginAI      Origin = "ai"
	OriginService Origin = "service"
	OriginSystem  Origin = "system"
)

//ActivationKind marks whether a ServiceActivation started or ended a service
type ActivationKind string

//ActivationKinds
const (
	ActivationStart ActivationKind = "start"
	ActivationEnd   ActivationKind = "end"
)

//ServiceActivation is attached to the system message announcing a service start or end
type ServiceActivation struct {
	ServiceName  string         `json:"service_name"`
	ServiceEmoji string         `json:"service_emoji"`
	Kind         ActivationKind `json:"kind"`
}

//Metadata is optional context attached to a Message
type Metadata struct {
	Origin            Origin             `json:"origin"`
	ServiceID         string             `json:"service_id,omitempty"`
	ServiceActivation *ServiceActivation `json:"service_activation,omitempty"`
	Streaming         bool               `json:"streaming,omitempty"`
	Error             string             `json:"error,omitempty"`
	Summary           string             `json:"summary,omitempty"`
	ApplicationID     string             `json:"application_id,omitempty"`
	RemoteID          string             `json:"remote_id,omitempty"`
	Confidence        *float64           `json:"confidence,omitempty"`
}

//Message is one entry of a conversation transcript
type Message struct {
	ID             string    `json:"id"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	IsNewlyArrived bool      `json:"is_newly_arrived"`
	Metadata       *Metadata `json:"metadata,omitempty"`
}

//Clone returns a deep copy of m
func (m *Message) Clone() *Message {
	c := *m
	if m.Metadata != nil {
		md := *m.Metadata
		if md.ServiceActivation != nil {
			sa := *md.ServiceActivation
			md.ServiceActivation = &sa
		}
		if md.Confidence != nil {
			conf := *md.Confidence
			md.Confidence = &conf
		}
		c.Metadata = &md
	}
	return &c
}

//IsStreaming returns true if m is an assistant reply still receiving chunks
func (m *Message) IsStreaming() bool {
	return m.Metadata != nil && m.Metadata.Streaming
}
