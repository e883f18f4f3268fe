// Package conversation routes chat input between the AI chat backend and guided services,
// and keeps the transcript and mode of one conversation.
package conversation

import "strings"

// Mode is the conversation mode
type Mode string

// Modes
const (
	ModeFreeForm      Mode = "free_form"
	ModeGuidedService Mode = "guided_service"
	ModeTransitioning Mode = "transitioning"
)

// Action is what the orchestrator should do with a message
type Action string

// Actions
const (
	ActionActivateService   Action = "activate_service"
	ActionDeactivateService Action = "deactivate_service"
	ActionServiceHandle     Action = "service_handle"
	ActionChat              Action = "gemini_chat"
)

// Decision is the result of routing a message. ServiceID is set for
// ActionActivateService and ActionServiceHandle.
type Decision struct {
	Action    Action `json:"action"`
	ServiceID string `json:"service_id,omitempty"`
}

// Keyword maps a trigger keyword to a service id
type Keyword struct {
	Keyword   string
	ServiceID string
}

// DefaultKeywords are checked in order; the first match wins
var DefaultKeywords = []Keyword{
	{"프리미엄철거", "premium-demolition"},
	{"철거", "premium-demolition"},
	{"현장사진", "site-photo"},
	{"사진기록", "site-photo"},
	{"AI스타일링", "ai-styling"},
	{"스타일링", "ai-styling"},
	{"결제대행", "payment-agency"},
	{"결제", "payment-agency"},
	{"AS센터", "as-center"},
	{"AS", "as-center"},
}

// DefaultExitKeywords end the active guided service
var DefaultExitKeywords = []string{"종료", "끝", "나가기", "중단", "취소", "exit", "quit", "stop"}

// ServiceInfo is the display name and emoji of a service
type ServiceInfo struct {
	Name  string
	Emoji string
}

// KnownServices are the display names of services reachable by keyword,
// used when a service is not registered in the catalog
var KnownServices = map[string]ServiceInfo{
	"premium-demolition": {"프리미엄철거", "🏗️"},
	"site-photo":         {"현장사진기록", "📸"},
	"ai-styling":         {"AI스타일링", "✨"},
	"payment-agency":     {"결제대행서비스", "🐳"},
	"as-center":          {"AS센터", "🔧"},
}

// Router decides how a message is handled. Matching is case-insensitive substring
// containment, so short keywords such as "AS" also match inside unrelated words.
type Router struct {
	keywords []Keyword
	exit     []string
}

// NewRouter returns a Router. nil keywords or exit use the defaults.
func NewRouter(keywords []Keyword, exit []string) *Router {
	if keywords == nil {
		keywords = DefaultKeywords
	}
	if exit == nil {
		exit = DefaultExitKeywords
	}

	r := &Router{
		keywords: make([]Keyword, len(keywords)),
		exit:     make([]string, len(exit)),
	}
	for i, k := range keywords {
		r.keywords[i] = Keyword{Keyword: strings.ToLower(k.Keyword), ServiceID: k.ServiceID}
	}
	for i, e := range exit {
		r.exit[i] = strings.ToLower(e)
	}
	return r
}

// Route returns the Decision for message. It is total: unmatched input, unknown modes,
// and any message while Transitioning are sent to the AI chat.
func (r *Router) Route(message string, mode Mode, activeServiceID string) Decision {
	lower := strings.ToLower(message)

	switch mode {
	case ModeGuidedService:
		if activeServiceID == "" {
			break
		}
		if r.isExit(lower) {
			return Decision{Action: ActionDeactivateService}
		}
		return Decision{Action: ActionServiceHandle, ServiceID: activeServiceID}
	case ModeFreeForm:
		if id, ok := r.trigger(lower); ok {
			return Decision{Action: ActionActivateService, ServiceID: id}
		}
	}

	return Decision{Action: ActionChat}
}

func (r *Router) isExit(lower string) bool {
	for _, e := range r.exit {
		if strings.Contains(lower, e) {
			return true
		}
	}
	return false
}

func (r *Router) trigger(lower string) (string, bool) {
	for _, k := range r.keywords {
		if strings.Contains(lower, k.Keyword) {
			return k.ServiceID, true
		}
	}
	return "", false
}
