package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/korylprince/tevor-concierge/api"
	"github.com/korylprince/tevor-concierge/chatbot"
	"github.com/korylprince/tevor-concierge/service"
	"github.com/korylprince/tevor-concierge/service/demolition"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	mu       sync.Mutex
	requests []*chatbot.ChatRequest

	resp   *chatbot.ChatResponse
	frames []chatbot.StreamFrame
	err    error
}

func (f *fakeChat) record(r *chatbot.ChatRequest) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()
}

func (f *fakeChat) SendMessage(ctx context.Context, r *chatbot.ChatRequest) (*chatbot.ChatResponse, error) {
	f.record(r)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeChat) SendMessageStream(ctx context.Context, r *chatbot.ChatRequest) (<-chan chatbot.StreamFrame, error) {
	f.record(r)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan chatbot.StreamFrame, len(f.frames))
	for _, fr := range f.frames {
		ch <- fr
	}
	close(ch)
	return ch, nil
}

type fakeHistory struct {
	resp *chatbot.HistoryResponse
	err  error

	mu          sync.Mutex
	invalidated []string
}

func (f *fakeHistory) Invalidate(projectID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, projectID)
}

func (f *fakeHistory) History(ctx context.Context, projectID string, skip, limit int) (*chatbot.HistoryResponse, error) {
	return f.resp, f.err
}

// brokenService fails to initialize
type brokenService struct {
	*service.Session
}

func (b *brokenService) Config() service.Config {
	return service.Config{ID: "broken", Name: "고장", Enabled: true}
}

func (b *brokenService) Initialize(ctx context.Context, sc service.Context) error {
	return errors.New("backend down")
}

func (b *brokenService) HandleMessage(ctx context.Context, in service.Input) ([]service.Output, error) {
	return nil, nil
}

func (b *brokenService) HandleAction(ctx context.Context, actionID string, payload json.RawMessage) ([]service.Output, error) {
	return nil, nil
}

func (b *brokenService) AvailableActions() []service.ActionDescriptor { return nil }

func (b *brokenService) Terminate(ctx context.Context) error { return nil }

var testNow = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestOrchestrator(t *testing.T, chat ChatClient, streaming bool) (*Orchestrator, *manualScheduler) {
	t.Helper()

	sched := new(manualScheduler)
	catalog := service.NewCatalog(zerolog.Nop())
	catalog.Register(demolition.New(
		demolition.WithClock(func() time.Time { return testNow }),
		demolition.WithRand(rand.New(rand.NewPCG(1, 2))),
	))
	catalog.Register(&brokenService{Session: service.NewSession("broken")})

	o := New(Config{
		Catalog:   catalog,
		Chat:      chat,
		Scheduler: sched,
		Log:       zerolog.Nop(),
		ProjectID: "p1",
		Streaming: streaming,
	})
	return o, sched
}

func lastMessage(t *testing.T, o *Orchestrator) *api.Message {
	t.Helper()
	msgs := o.Transcript().Messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func TestStreamToleratesSingleErrorFrame(t *testing.T) {
	chat := &fakeChat{frames: []chatbot.StreamFrame{
		{Type: chatbot.FrameContent, Text: "Hello"},
		{Type: chatbot.FrameContent, Text: " world"},
		{Type: chatbot.FrameError, Error: "x"},
	}}
	o, _ := newTestOrchestrator(t, chat, true)

	require.NoError(t, o.SendMessage(context.Background(), "안녕하세요"))

	msgs := o.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, api.RoleUser, msgs[0].Role)

	reply := msgs[1]
	assert.Equal(t, "Hello world", reply.Text)
	assert.False(t, reply.IsStreaming())
	assert.Empty(t, reply.Metadata.Error)
}

func TestStreamEndFrame(t *testing.T) {
	chat := &fakeChat{frames: []chatbot.StreamFrame{
		{Type: chatbot.FrameContent, Text: "답변"},
		{Type: chatbot.FrameEnd, MessageID: "remote-1"},
		{Type: chatbot.FrameContent, Text: "ignored"},
	}}
	o, _ := newTestOrchestrator(t, chat, true)

	require.NoError(t, o.SendMessage(context.Background(), "질문"))

	reply := lastMessage(t, o)
	assert.Equal(t, "답변", reply.Text)
	assert.False(t, reply.IsStreaming())
	assert.Equal(t, "remote-1", reply.Metadata.RemoteID)
	assert.Equal(t, api.OriginAI, reply.Metadata.Origin)
}

func TestStreamAbortsAfterConsecutiveErrors(t *testing.T) {
	chat := &fakeChat{frames: []chatbot.StreamFrame{
		{Type: chatbot.FrameContent, Text: "Hi"},
		{Type: chatbot.FrameError, Error: "a"},
		{Type: chatbot.FrameError, Error: "b"},
		{Type: chatbot.FrameError, Error: "c"},
		{Type: chatbot.FrameContent, Text: " ignored"},
	}}
	o, _ := newTestOrchestrator(t, chat, true)

	err := o.SendMessage(context.Background(), "질문")
	require.Error(t, err)
	assert.True(t, chatbot.IsKind(err, chatbot.ErrorKindServer))

	reply := lastMessage(t, o)
	assert.Equal(t, "Hi", reply.Text)
	assert.False(t, reply.IsStreaming())
	assert.Equal(t, "server", reply.Metadata.Error)
}

func TestStreamErrorCountResetsOnContent(t *testing.T) {
	chat := &fakeChat{frames: []chatbot.StreamFrame{
		{Type: chatbot.FrameError, Error: "a"},
		{Type: chatbot.FrameError, Error: "b"},
		{Type: chatbot.FrameContent, Text: "ok"},
		{Type: chatbot.FrameError, Error: "c"},
		{Type: chatbot.FrameError, Error: "d"},
		{Type: chatbot.FrameEnd},
	}}
	o, _ := newTestOrchestrator(t, chat, true)

	require.NoError(t, o.SendMessage(context.Background(), "질문"))
	reply := lastMessage(t, o)
	assert.Equal(t, "ok", reply.Text)
	assert.Empty(t, reply.Metadata.Error)
}

func TestStreamTransportFailure(t *testing.T) {
	chat := &fakeChat{frames: []chatbot.StreamFrame{
		{Err: &chatbot.Error{Kind: chatbot.ErrorKindNetwork}},
	}}
	o, _ := newTestOrchestrator(t, chat, true)

	require.Error(t, o.SendMessage(context.Background(), "질문"))

	reply := lastMessage(t, o)
	assert.Equal(t, StreamFailedText, reply.Text)
	assert.False(t, reply.IsStreaming())
	assert.Equal(t, "network", reply.Metadata.Error)
}

func TestStreamOpenFailure(t *testing.T) {
	chat := &fakeChat{err: &chatbot.Error{Kind: chatbot.ErrorKindTimeout}}
	o, _ := newTestOrchestrator(t, chat, true)

	require.Error(t, o.SendMessage(context.Background(), "질문"))
	reply := lastMessage(t, o)
	assert.Equal(t, StreamFailedText, reply.Text)
	assert.Equal(t, "timeout", reply.Metadata.Error)
}

func TestReplyHistoryExcludesCurrentMessage(t *testing.T) {
	chat := &fakeChat{resp: &chatbot.ChatResponse{MessageID: "m1", Response: "네"}}
	o, _ := newTestOrchestrator(t, chat, false)

	require.NoError(t, o.SendMessage(context.Background(), "첫번째"))
	require.NoError(t, o.SendMessage(context.Background(), "두번째"))

	require.Len(t, chat.requests, 2)
	assert.Empty(t, chat.requests[0].ConversationHistory)

	second := chat.requests[1]
	assert.Equal(t, "p1", second.ProjectID)
	assert.Equal(t, "두번째", second.Message)
	require.Len(t, second.ConversationHistory, 2)
	assert.Equal(t, "user", second.ConversationHistory[0].Role)
	assert.Equal(t, "첫번째", second.ConversationHistory[0].Content)
	assert.Equal(t, "assistant", second.ConversationHistory[1].Role)

	reply := lastMessage(t, o)
	assert.Equal(t, "네", reply.Text)
	assert.Equal(t, "m1", reply.Metadata.RemoteID)
}

func TestChatExchangeInvalidatesHistory(t *testing.T) {
	for _, streaming := range []bool{false, true} {
		chat := &fakeChat{
			resp:   &chatbot.ChatResponse{MessageID: "m1", Response: "네"},
			frames: []chatbot.StreamFrame{{Type: chatbot.FrameContent, Text: "네"}, {Type: chatbot.FrameEnd, MessageID: "m1"}},
		}
		o, _ := newTestOrchestrator(t, chat, streaming)
		h := &fakeHistory{}
		o.history = h

		require.NoError(t, o.SendMessage(context.Background(), "안녕하세요"))
		assert.Equal(t, []string{"p1"}, h.invalidated, "streaming=%v", streaming)
	}
}

func TestReplyHistoryLength(t *testing.T) {
	chat := &fakeChat{resp: &chatbot.ChatResponse{Response: "네"}}
	o, _ := newTestOrchestrator(t, chat, false)

	for i := 0; i < 15; i++ {
		require.NoError(t, o.SendMessage(context.Background(), "메시지"))
	}

	last := chat.requests[len(chat.requests)-1]
	assert.Len(t, last.ConversationHistory, DefaultHistoryLength)
}

func TestReplyFailure(t *testing.T) {
	err := &chatbot.Error{Kind: chatbot.ErrorKindTimeout}
	o, _ := newTestOrchestrator(t, &fakeChat{err: err}, false)

	require.Error(t, o.SendMessage(context.Background(), "질문"))

	msg := lastMessage(t, o)
	assert.Equal(t, api.RoleSystem, msg.Role)
	assert.Equal(t, chatbot.UserMessage(err), msg.Text)
	assert.Equal(t, "timeout", msg.Metadata.Error)
}

func TestKeywordStartsGuidedService(t *testing.T) {
	chat := new(fakeChat)
	o, sched := newTestOrchestrator(t, chat, false)

	var components []*RenderedComponent
	o.Transcript().Subscribe(func(e Event) {
		if e.Kind == EventComponent {
			components = append(components, e.Component)
		}
	})

	require.NoError(t, o.SendMessage(context.Background(), "철거 견적 받고 싶어요"))
	assert.Empty(t, chat.requests)
	assert.Equal(t, ModeState{ModeTransitioning, demolition.ServiceID}, o.Mode().State())
	assert.Equal(t, demolition.ServiceID, o.Catalog().ActiveServiceID())

	msgs := o.Transcript().Messages()
	require.Len(t, msgs, 3)
	require.NotNil(t, msgs[0].Metadata.ServiceActivation)
	assert.Equal(t, api.ActivationStart, msgs[0].Metadata.ServiceActivation.Kind)
	assert.Equal(t, "프리미엄철거", msgs[0].Metadata.ServiceActivation.ServiceName)
	assert.Equal(t, api.RoleSystem, msgs[1].Role)
	assert.Equal(t, api.RoleAssistant, msgs[2].Role)
	assert.Equal(t, api.OriginService, msgs[2].Metadata.Origin)

	//component is revealed only after the intro has been shown
	sched.Advance(DefaultSettleDelay)
	assert.Equal(t, ModeState{ModeGuidedService, demolition.ServiceID}, o.Mode().State())
	assert.Empty(t, components)

	sched.Advance(DefaultRevealDelay)
	require.Len(t, components, 1)
	assert.Equal(t, service.ComponentPhotoUpload, components[0].Component.Kind)

	//free text in guided mode stays with the service
	require.NoError(t, o.SendMessage(context.Background(), "주소가 뭐였더라"))
	assert.Empty(t, chat.requests)
	assert.Equal(t, demolition.InProgressText, lastMessage(t, o).Text)

	require.NoError(t, o.SendMessage(context.Background(), "종료"))
	assert.Equal(t, ModeTransitioning, o.Mode().State().Mode)
	assert.Empty(t, o.Catalog().ActiveServiceID())
	assert.Empty(t, o.Transcript().Components())

	sched.Advance(DefaultSettleDelay)
	assert.Equal(t, ModeState{Mode: ModeFreeForm}, o.Mode().State())

	var end bool
	for _, m := range o.Transcript().Messages() {
		if a := m.Metadata.ServiceActivation; a != nil && a.Kind == api.ActivationEnd {
			end = true
		}
	}
	assert.True(t, end)
}

func TestDeferredRevealDroppedAfterExit(t *testing.T) {
	o, sched := newTestOrchestrator(t, new(fakeChat), false)

	require.NoError(t, o.SelectService(context.Background(), demolition.ServiceID))
	sched.Advance(DefaultSettleDelay)
	require.NoError(t, o.EndService(context.Background()))

	sched.Advance(DefaultRevealDelay)
	assert.Empty(t, o.Transcript().Components())
}

func TestActivationFailure(t *testing.T) {
	o, sched := newTestOrchestrator(t, new(fakeChat), false)

	err := o.SelectService(context.Background(), "broken")
	require.ErrorIs(t, err, service.ErrActivationFailed)

	assert.Equal(t, service.UnavailableText, lastMessage(t, o).Text)
	assert.Empty(t, o.Catalog().ActiveServiceID())

	sched.Advance(DefaultSettleDelay)
	assert.Equal(t, ModeState{Mode: ModeFreeForm}, o.Mode().State())
}

func TestSendActionValidation(t *testing.T) {
	o, sched := newTestOrchestrator(t, new(fakeChat), false)

	var validations []*service.Validation
	o.Transcript().Subscribe(func(e Event) {
		if e.Kind == EventValidation {
			validations = append(validations, e.Validation)
		}
	})

	require.NoError(t, o.SelectService(context.Background(), demolition.ServiceID))
	sched.Advance(DefaultSettleDelay)
	require.NoError(t, o.SendAction(context.Background(), demolition.ServiceID, demolition.ActionPhotoSkip, nil))

	before := o.Transcript().Len()
	require.NoError(t, o.SendAction(context.Background(), demolition.ServiceID, demolition.ActionAddressSubmit, json.RawMessage(`{"address":"a"}`)))

	assert.Equal(t, before, o.Transcript().Len())
	require.Len(t, validations, 1)
	assert.Equal(t, demolition.ActionAddressSubmit, validations[0].ActionID)
	assert.Contains(t, validations[0].Errors, "address")
}

func TestSendActionActivatesService(t *testing.T) {
	o, _ := newTestOrchestrator(t, new(fakeChat), false)

	require.NoError(t, o.SendAction(context.Background(), demolition.ServiceID, demolition.ActionRestart, nil))
	assert.Equal(t, demolition.ServiceID, o.Catalog().ActiveServiceID())
	assert.Equal(t, demolition.ServiceID, o.Mode().State().ActiveServiceID)

	msgs := o.Transcript().Messages()
	require.NotEmpty(t, msgs)
	require.NotNil(t, msgs[0].Metadata.ServiceActivation)
}

func TestSendActionUnknownService(t *testing.T) {
	o, _ := newTestOrchestrator(t, new(fakeChat), false)

	err := o.SendAction(context.Background(), "nope", "x", nil)
	require.ErrorIs(t, err, service.ErrUnknownService)
	assert.Equal(t, UnknownServiceText, lastMessage(t, o).Text)
}

func TestQuickActionActivate(t *testing.T) {
	o, _ := newTestOrchestrator(t, new(fakeChat), false)

	require.NoError(t, o.SendAction(context.Background(), demolition.ServiceID, service.ActivateActionID, nil))
	assert.Equal(t, demolition.ServiceID, o.Catalog().ActiveServiceID())
}

func TestConfirmedSummaryCarriesAttachment(t *testing.T) {
	o, _ := newTestOrchestrator(t, new(fakeChat), false)
	ctx := context.Background()

	require.NoError(t, o.SelectService(ctx, demolition.ServiceID))
	for _, step := range []struct {
		action  string
		payload string
	}{
		{demolition.ActionPhotoSkip, ``},
		{demolition.ActionAddressSubmit, `{"address":"서울시 강남구 테헤란로 1"}`},
		{demolition.ActionDateSelect, `"2025-05-01"`},
		{demolition.ActionWasteDisposal, `true`},
		{demolition.ActionAreaInput, `32`},
		{demolition.ActionElevatorCheck, `false`},
		{demolition.ActionConfirm, ``},
	} {
		var payload json.RawMessage
		if step.payload != "" {
			payload = json.RawMessage(step.payload)
		}
		require.NoError(t, o.SendAction(ctx, demolition.ServiceID, step.action, payload), step.action)
	}

	msg := lastMessage(t, o)
	assert.NotEmpty(t, msg.Metadata.ApplicationID)
	assert.Contains(t, msg.Metadata.Summary, "[프리미엄철거 서비스 요약]")
}

func TestLoadHistory(t *testing.T) {
	o, _ := newTestOrchestrator(t, new(fakeChat), false)
	o.history = &fakeHistory{resp: &chatbot.HistoryResponse{Messages: []*chatbot.HistoryMessage{
		{ID: "2", Type: "assistant", Content: "두번째", Timestamp: chatbot.Timestamp{Time: testNow.Add(time.Minute)}},
		{ID: "1", Type: "user", Content: "첫번째", Timestamp: chatbot.Timestamp{Time: testNow}},
	}}}

	require.NoError(t, o.LoadHistory(context.Background()))

	msgs := o.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "첫번째", msgs[0].Text)
	assert.Equal(t, "두번째", msgs[1].Text)
	assert.False(t, msgs[0].IsNewlyArrived)
}

func TestLoadHistoryFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, new(fakeChat), false)
	o.history = &fakeHistory{err: &chatbot.Error{Kind: chatbot.ErrorKindNetwork}}

	require.Error(t, o.LoadHistory(context.Background()))
	assert.Equal(t, HistoryFailedText, lastMessage(t, o).Text)
}

func TestCloseCancelsReveals(t *testing.T) {
	o, sched := newTestOrchestrator(t, new(fakeChat), false)

	require.NoError(t, o.SelectService(context.Background(), demolition.ServiceID))
	require.NoError(t, o.Close(context.Background()))

	assert.Equal(t, 0, sched.Pending())
	assert.Empty(t, o.Catalog().ActiveServiceID())

	sched.Advance(time.Minute)
	assert.Empty(t, o.Transcript().Components())
}
