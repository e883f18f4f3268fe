package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteTable(t *testing.T) {
	r := NewRouter(nil, nil)

	for _, test := range []struct {
		message string
		mode    Mode
		active  string
		want    Decision
	}{
		{"프리미엄철거 신청하고 싶어요", ModeFreeForm, "", Decision{ActionActivateService, "premium-demolition"}},
		{"철거 견적", ModeFreeForm, "", Decision{ActionActivateService, "premium-demolition"}},
		{"현장사진 올릴게요", ModeFreeForm, "", Decision{ActionActivateService, "site-photo"}},
		{"ai스타일링 해주세요", ModeFreeForm, "", Decision{ActionActivateService, "ai-styling"}},
		{"결제 어떻게 해요", ModeFreeForm, "", Decision{ActionActivateService, "payment-agency"}},
		{"as 접수", ModeFreeForm, "", Decision{ActionActivateService, "as-center"}},
		{"안녕하세요", ModeFreeForm, "", Decision{Action: ActionChat}},
		{"주소는 서울입니다", ModeGuidedService, "premium-demolition", Decision{ActionServiceHandle, "premium-demolition"}},
		{"종료", ModeGuidedService, "premium-demolition", Decision{Action: ActionDeactivateService}},
		{"STOP please", ModeGuidedService, "premium-demolition", Decision{Action: ActionDeactivateService}},
		{"종료", ModeGuidedService, "", Decision{Action: ActionChat}},
		{"철거", ModeTransitioning, "premium-demolition", Decision{Action: ActionChat}},
		{"종료", ModeTransitioning, "premium-demolition", Decision{Action: ActionChat}},
		{"철거", Mode("bogus"), "", Decision{Action: ActionChat}},
	} {
		assert.Equal(t, test.want, r.Route(test.message, test.mode, test.active), "%q in %s", test.message, test.mode)
	}
}

func TestRouteFirstKeywordWins(t *testing.T) {
	r := NewRouter(nil, nil)
	//"사진기록" (site-photo) appears first in the text, but 철거 is earlier in the table
	d := r.Route("사진기록 후 철거", ModeFreeForm, "")
	assert.Equal(t, Decision{ActionActivateService, "premium-demolition"}, d)
}

func TestRouteExitPrecedence(t *testing.T) {
	r := NewRouter(nil, nil)
	for _, exit := range DefaultExitKeywords {
		for _, k := range DefaultKeywords {
			msg := k.Keyword + " " + exit
			d := r.Route(msg, ModeGuidedService, "premium-demolition")
			assert.Equal(t, ActionDeactivateService, d.Action, msg)
		}
	}
}

func TestRouteSubstringFalsePositive(t *testing.T) {
	r := NewRouter(nil, nil)
	//substring matching is preserved: "as" inside "was" triggers the AS center
	d := r.Route("it was fine", ModeFreeForm, "")
	assert.Equal(t, Decision{ActionActivateService, "as-center"}, d)
}

func TestRouteTotal(t *testing.T) {
	r := NewRouter(nil, nil)
	valid := map[Action]bool{
		ActionActivateService:   true,
		ActionDeactivateService: true,
		ActionServiceHandle:     true,
		ActionChat:              true,
	}

	messages := []string{"", " ", "철거", "종료", "hello", "AS", "@premium-demolition", "결제 취소", "\x00"}
	modes := []Mode{ModeFreeForm, ModeGuidedService, ModeTransitioning, ""}
	actives := []string{"", "premium-demolition", "unknown"}

	for _, m := range messages {
		for _, mode := range modes {
			for _, active := range actives {
				d := r.Route(m, mode, active)
				assert.True(t, valid[d.Action], "%q %q %q -> %v", m, mode, active, d)
			}
		}
	}
}

func TestCustomKeywords(t *testing.T) {
	r := NewRouter([]Keyword{{"Paint", "painting"}}, []string{"Done"})
	assert.Equal(t, Decision{ActionActivateService, "painting"}, r.Route("need PAINT", ModeFreeForm, ""))
	assert.Equal(t, Decision{Action: ActionChat}, r.Route("철거", ModeFreeForm, ""))
	assert.Equal(t, Decision{Action: ActionDeactivateService}, r.Route("i'm done", ModeGuidedService, "painting"))
}
