package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/korylprince/tevor-concierge/api"
	"github.com/korylprince/tevor-concierge/chatbot"
	"github.com/korylprince/tevor-concierge/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Defaults used by New
const (
	DefaultRevealDelay     = 3200 * time.Millisecond
	DefaultHistoryLength   = 20
	DefaultMaxStreamErrors = 3
	DefaultHistoryPage     = 50
)

// User-facing texts produced by the Orchestrator
const (
	ServiceErrorText   = "서비스 처리 중 오류가 발생했습니다."
	StreamFailedText   = "응답을 생성하는 중 오류가 발생했습니다."
	HistoryFailedText  = "채팅 기록을 불러오는데 실패했습니다."
	UnknownServiceText = "알 수 없는 서비스입니다."
)

var routeTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "concierge_route_decisions_total",
		Help: "Message routing decisions by action",
	},
	[]string{"action"},
)

// ChatClient is the AI chat backend
type ChatClient interface {
	SendMessage(ctx context.Context, r *chatbot.ChatRequest) (*chatbot.ChatResponse, error)
	SendMessageStream(ctx context.Context, r *chatbot.ChatRequest) (<-chan chatbot.StreamFrame, error)
}

// Config configures an Orchestrator. Catalog and Chat are required; other nil fields get defaults.
type Config struct {
	Catalog    *service.Catalog
	Chat       ChatClient
	History    chatbot.HistorySource
	Router     *Router
	Mode       *ModeController
	Transcript *Transcript
	Scheduler  Scheduler
	Log        zerolog.Logger

	ProjectID string
	UserID    string
	SessionID string

	// Streaming selects the streaming chat endpoint
	Streaming       bool
	RevealDelay     time.Duration
	HistoryLength   int
	MaxStreamErrors int
}

// Orchestrator turns routed user input into transcript effects for one conversation.
// Input methods are meant to be called from a single goroutine; deferred reveals run on
// the Scheduler and may interleave with them.
type Orchestrator struct {
	log        zerolog.Logger
	catalog    *service.Catalog
	chat       ChatClient
	history    chatbot.HistorySource
	router     *Router
	mode       *ModeController
	transcript *Transcript
	sched      Scheduler

	projectID       string
	streaming       bool
	revealDelay     time.Duration
	historyLength   int
	maxStreamErrors int

	// chatMu allows one chat call in flight
	chatMu sync.Mutex

	mu      sync.Mutex
	timers  map[uint64]Timer
	timerID uint64
	closed  bool
}

// New returns a new Orchestrator
func New(cfg Config) *Orchestrator {
	if cfg.Scheduler == nil {
		cfg.Scheduler = RealScheduler{}
	}
	if cfg.Router == nil {
		cfg.Router = NewRouter(nil, nil)
	}
	if cfg.Mode == nil {
		cfg.Mode = NewModeController(cfg.Scheduler, DefaultSettleDelay)
	}
	if cfg.Transcript == nil {
		cfg.Transcript = NewTranscript(nil)
	}
	if cfg.RevealDelay <= 0 {
		cfg.RevealDelay = DefaultRevealDelay
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = DefaultHistoryLength
	}
	if cfg.MaxStreamErrors <= 0 {
		cfg.MaxStreamErrors = DefaultMaxStreamErrors
	}

	cfg.Catalog.SetContext(service.Context{UserID: cfg.UserID, ProjectID: cfg.ProjectID, SessionID: cfg.SessionID})

	return &Orchestrator{
		log:             cfg.Log.With().Str("component", "orchestrator").Str("project_id", cfg.ProjectID).Logger(),
		catalog:         cfg.Catalog,
		chat:            cfg.Chat,
		history:         cfg.History,
		router:          cfg.Router,
		mode:            cfg.Mode,
		transcript:      cfg.Transcript,
		sched:           cfg.Scheduler,
		projectID:       cfg.ProjectID,
		streaming:       cfg.Streaming,
		revealDelay:     cfg.RevealDelay,
		historyLength:   cfg.HistoryLength,
		maxStreamErrors: cfg.MaxStreamErrors,
		timers:          make(map[uint64]Timer),
	}
}

// Transcript returns the conversation transcript
func (o *Orchestrator) Transcript() *Transcript {
	return o.transcript
}

// Mode returns the mode controller
func (o *Orchestrator) Mode() *ModeController {
	return o.mode
}

// Catalog returns the service catalog
func (o *Orchestrator) Catalog() *service.Catalog {
	return o.catalog
}

// SendMessage routes text and applies the result. Failures are reported in the transcript;
// the returned error is only for logging.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	state := o.mode.State()
	d := o.router.Route(text, state.Mode, state.ActiveServiceID)
	routeTotal.WithLabelValues(string(d.Action)).Inc()
	o.log.Debug().Str("mode", string(state.Mode)).Str("action", string(d.Action)).Str("service", d.ServiceID).Msg("routed message")

	switch d.Action {
	case ActionActivateService:
		return o.SelectService(ctx, d.ServiceID)
	case ActionDeactivateService:
		return o.EndService(ctx)
	case ActionServiceHandle:
		return o.handleServiceMessage(ctx, d.ServiceID, text)
	default:
		return o.chatMessage(ctx, text)
	}
}

func (o *Orchestrator) serviceInfo(id string) ServiceInfo {
	if def, ok := o.catalog.Get(id); ok {
		cfg := def.Config()
		return ServiceInfo{Name: cfg.Name, Emoji: cfg.Emoji}
	}
	if info, ok := KnownServices[id]; ok {
		return info
	}
	return ServiceInfo{Name: id}
}

// SelectService starts the guided service id
func (o *Orchestrator) SelectService(ctx context.Context, id string) error {
	o.mode.StartService(id)
	o.appendActivation(id, api.ActivationStart)

	outputs, err := o.catalog.ActivateService(ctx, id)
	if err != nil {
		o.log.Warn().Err(err).Str("service", id).Msg("could not activate service")
		if len(outputs) == 0 {
			outputs = []service.Output{service.Text{Content: service.UnavailableText}}
		}
		o.applyOutputs(id, outputs)
		o.mode.EndService()
		return err
	}
	o.applyOutputs(id, outputs)

	outputs, err = o.catalog.RouteSignal(ctx, service.SignalStart)
	if err != nil {
		o.log.Error().Err(err).Str("service", id).Msg("could not start service")
		o.appendServiceText(id, ServiceErrorText)
		return err
	}
	o.applyOutputs(id, outputs)
	return nil
}

// EndService ends the active guided service
func (o *Orchestrator) EndService(ctx context.Context) error {
	id := o.mode.State().ActiveServiceID
	if id == "" {
		id = o.catalog.ActiveServiceID()
	}
	if id != "" {
		o.appendActivation(id, api.ActivationEnd)
	}

	outputs, err := o.catalog.DeactivateService(ctx)
	for _, out := range outputs {
		//summary and status notes from a terminated service are system messages
		switch v := out.(type) {
		case service.Text:
			o.appendSystem(id, v.Content)
		case service.System:
			o.appendSystem(id, v.Content)
		}
	}
	o.transcript.ClearComponents()
	o.mode.EndService()

	if err != nil {
		o.log.Warn().Err(err).Str("service", id).Msg("service did not terminate cleanly")
	}
	return err
}

func (o *Orchestrator) handleServiceMessage(ctx context.Context, serviceID, text string) error {
	o.transcript.Append(&api.Message{
		Role:     api.RoleUser,
		Text:     text,
		Metadata: &api.Metadata{Origin: api.OriginUser, ServiceID: serviceID},
	})

	outputs, err := o.catalog.RouteMessage(ctx, text)
	if err != nil {
		o.log.Error().Err(err).Str("service", serviceID).Msg("service could not handle message")
		o.appendServiceText(serviceID, ServiceErrorText)
		return err
	}

	//an activation command switched services
	if active := o.catalog.ActiveServiceID(); active != "" && active != serviceID {
		o.mode.StartService(active)
		serviceID = active
	}
	o.applyOutputs(serviceID, outputs)
	return nil
}

// SendAction delivers a value collected by a step component, or a quick action, to serviceID
func (o *Orchestrator) SendAction(ctx context.Context, serviceID, actionID string, payload json.RawMessage) error {
	if actionID == service.ActivateActionID {
		return o.SelectService(ctx, serviceID)
	}

	if _, ok := o.catalog.Get(serviceID); !ok {
		o.appendSystem(serviceID, UnknownServiceText)
		return fmt.Errorf("%w: %s", service.ErrUnknownService, serviceID)
	}

	if o.catalog.ActiveServiceID() != serviceID {
		o.mode.StartService(serviceID)
		o.appendActivation(serviceID, api.ActivationStart)
	}

	outputs, err := o.catalog.RouteAction(ctx, serviceID, actionID, payload)
	o.applyOutputs(serviceID, outputs)
	if err != nil {
		o.log.Error().Err(err).Str("service", serviceID).Str("action", actionID).Msg("service could not handle action")
		if errors.Is(err, service.ErrActivationFailed) {
			o.mode.EndService()
		} else {
			o.appendServiceText(serviceID, ServiceErrorText)
		}
		return err
	}
	return nil
}

// applyOutputs turns service outputs into transcript effects
func (o *Orchestrator) applyOutputs(serviceID string, outputs []service.Output) {
	for _, out := range outputs {
		switch v := out.(type) {
		case service.Text:
			summary, appID := "", ""
			if v.Attachment != nil {
				summary, appID = v.Attachment.Summary, v.Attachment.ApplicationID
			}
			o.appendServiceText(serviceID, v.Content, summary, appID)
		case service.System:
			o.appendSystem(serviceID, v.Content)
		case service.Component:
			o.transcript.RenderComponent(serviceID, v)
		case service.Action:
			o.transcript.RenderAction(v.Descriptor)
		case service.Validation:
			o.transcript.ReportValidation(serviceID, v)
		case service.Deferred:
			o.deferSignal(serviceID, v.Signal)
		default:
			o.log.Warn().Str("type", fmt.Sprintf("%T", out)).Msg("unknown service output")
		}
	}
}

// deferSignal replays s to serviceID after the reveal delay if it is still active
func (o *Orchestrator) deferSignal(serviceID string, s service.Signal) {
	o.schedule(o.revealDelay, func() {
		if o.catalog.ActiveServiceID() != serviceID {
			return
		}
		outputs, err := o.catalog.RouteSignal(context.Background(), s)
		if err != nil {
			o.log.Warn().Err(err).Str("signal", string(s)).Msg("could not replay deferred signal")
			return
		}
		o.applyOutputs(serviceID, outputs)
	})
}

func (o *Orchestrator) schedule(d time.Duration, f func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}

	o.timerID++
	id := o.timerID
	o.timers[id] = o.sched.AfterFunc(d, func() {
		o.mu.Lock()
		_, ok := o.timers[id]
		delete(o.timers, id)
		o.mu.Unlock()

		if ok {
			f()
		}
	})
}

func (o *Orchestrator) appendActivation(serviceID string, kind api.ActivationKind) {
	info := o.serviceInfo(serviceID)
	o.transcript.Append(&api.Message{
		Role: api.RoleSystem,
		Text: fmt.Sprintf("service_activation_%s_%s", info.Name, kind),
		Metadata: &api.Metadata{
			Origin:    api.OriginSystem,
			ServiceID: serviceID,
			ServiceActivation: &api.ServiceActivation{
				ServiceName:  info.Name,
				ServiceEmoji: info.Emoji,
				Kind:         kind,
			},
		},
	})
}

// appendServiceText appends an assistant message from serviceID. extra is an optional summary and application id.
func (o *Orchestrator) appendServiceText(serviceID, text string, extra ...string) {
	md := &api.Metadata{Origin: api.OriginService, ServiceID: serviceID}
	if len(extra) > 0 {
		md.Summary = extra[0]
	}
	if len(extra) > 1 {
		md.ApplicationID = extra[1]
	}
	o.transcript.Append(&api.Message{Role: api.RoleAssistant, Text: text, Metadata: md})
}

func (o *Orchestrator) appendSystem(serviceID, text string) {
	o.transcript.Append(&api.Message{
		Role:     api.RoleSystem,
		Text:     text,
		Metadata: &api.Metadata{Origin: api.OriginService, ServiceID: serviceID},
	})
}

func (o *Orchestrator) appendError(err error) {
	kind := "client"
	var e *chatbot.Error
	if errors.As(err, &e) {
		kind = e.Kind.String()
	}
	o.transcript.Append(&api.Message{
		Role:     api.RoleSystem,
		Text:     chatbot.UserMessage(err),
		Metadata: &api.Metadata{Origin: api.OriginSystem, Error: kind},
	})
}

// chatMessage appends text as a user message and sends it to the AI chat backend
func (o *Orchestrator) chatMessage(ctx context.Context, text string) error {
	o.chatMu.Lock()
	defer o.chatMu.Unlock()

	req := &chatbot.ChatRequest{
		ProjectID:           o.projectID,
		Message:             text,
		ConversationHistory: o.conversationHistory(),
	}

	o.transcript.Append(&api.Message{
		Role:     api.RoleUser,
		Text:     text,
		Metadata: &api.Metadata{Origin: api.OriginUser},
	})

	defer o.invalidateHistory()

	if o.streaming {
		return o.streamReply(ctx, req)
	}
	return o.reply(ctx, req)
}

// invalidateHistory drops cached backend history for the project once the backend has stored a new exchange
func (o *Orchestrator) invalidateHistory() {
	if c, ok := o.history.(chatbot.Invalidator); ok {
		c.Invalidate(o.projectID)
	}
}

func (o *Orchestrator) conversationHistory() []chatbot.HistoryEntry {
	recent := o.transcript.Recent(o.historyLength)
	history := make([]chatbot.HistoryEntry, len(recent))
	for i, m := range recent {
		history[i] = chatbot.HistoryEntry{Role: string(m.Role), Content: m.Text, Metadata: m.Metadata}
	}
	return history
}

func (o *Orchestrator) reply(ctx context.Context, req *chatbot.ChatRequest) error {
	resp, err := o.chat.SendMessage(ctx, req)
	if err != nil {
		o.appendError(err)
		return err
	}

	remoteID := resp.MessageID
	if remoteID == "" {
		remoteID = string(resp.ID)
	}
	o.transcript.Append(&api.Message{
		Role:      api.RoleAssistant,
		Text:      resp.Response,
		CreatedAt: resp.CreatedAt.Time,
		Metadata: &api.Metadata{
			Origin:     api.OriginAI,
			RemoteID:   remoteID,
			Confidence: resp.Confidence,
		},
	})
	return nil
}

// streamReply mutates one placeholder assistant message as frames arrive. Partial content
// is kept when the stream fails; error frames are tolerated until maxStreamErrors arrive in a row.
func (o *Orchestrator) streamReply(ctx context.Context, req *chatbot.ChatRequest) error {
	placeholder := o.transcript.Append(&api.Message{
		Role:     api.RoleAssistant,
		Metadata: &api.Metadata{Origin: api.OriginAI, Streaming: true},
	})
	id := placeholder.ID

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames, err := o.chat.SendMessageStream(ctx, req)
	if err != nil {
		o.failStream(id, err)
		return err
	}

	consecutive := 0
	for f := range frames {
		if f.Err != nil {
			o.failStream(id, f.Err)
			return f.Err
		}

		switch f.Type {
		case chatbot.FrameContent:
			consecutive = 0
			o.transcript.Update(id, func(m *api.Message) {
				m.Text += f.Text
			})
		case chatbot.FrameEnd:
			o.transcript.Update(id, func(m *api.Message) {
				m.Metadata.Streaming = false
				m.Metadata.RemoteID = f.MessageID
			})
			return nil
		case chatbot.FrameError:
			consecutive++
			o.log.Warn().Str("error", f.Error).Int("consecutive", consecutive).Msg("chat stream error frame")
			if consecutive >= o.maxStreamErrors {
				err := &chatbot.Error{Kind: chatbot.ErrorKindServer, Detail: f.Error}
				cancel()
				for range frames {
				}
				o.failStream(id, err)
				return err
			}
		}
	}

	//closed without an end frame
	o.transcript.Update(id, func(m *api.Message) {
		m.Metadata.Streaming = false
	})
	return nil
}

func (o *Orchestrator) failStream(id string, err error) {
	kind := "client"
	var e *chatbot.Error
	if errors.As(err, &e) {
		kind = e.Kind.String()
	}

	o.transcript.Update(id, func(m *api.Message) {
		if m.Text == "" {
			m.Text = StreamFailedText
		}
		m.Metadata.Streaming = false
		m.Metadata.Error = kind
	})
}

// LoadHistory replaces the transcript with the stored history of the project, oldest first
func (o *Orchestrator) LoadHistory(ctx context.Context) error {
	if o.history == nil {
		return nil
	}

	resp, err := o.history.History(ctx, o.projectID, 0, DefaultHistoryPage)
	if err != nil {
		o.log.Warn().Err(err).Msg("could not load history")
		o.transcript.Append(&api.Message{
			Role:     api.RoleSystem,
			Text:     HistoryFailedText,
			Metadata: &api.Metadata{Origin: api.OriginSystem, Error: "history"},
		})
		return err
	}

	msgs := make([]*api.Message, len(resp.Messages))
	for i, h := range resp.Messages {
		msgs[i] = h.Message()
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })

	o.transcript.Replace(msgs)
	return nil
}

// Close cancels pending reveals and mode transitions and ends the active service
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for id, t := range o.timers {
		t.Stop()
		delete(o.timers, id)
	}
	o.mu.Unlock()

	o.mode.Stop()
	return o.catalog.Close(ctx)
}
