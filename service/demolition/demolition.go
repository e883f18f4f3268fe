// Package demolition implements the premium demolition quote flow: photos, address,
// desired date, waste disposal, area, and elevator access, followed by a confirmed summary.
package demolition

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/korylprince/tevor-concierge/api"
	"github.com/korylprince/tevor-concierge/service"
	"github.com/rs/zerolog"
)

//ServiceID is the catalog id of the flow
const ServiceID = "premium-demolition"

//Steps of the flow, in order
const (
	StepWelcome       = "welcome"
	StepPhotoUpload   = "photo_upload"
	StepAddressInput  = "address_input"
	StepDateSelect    = "date_select"
	StepWasteDisposal = "waste_disposal"
	StepAreaInput     = "area_input"
	StepElevatorCheck = "elevator_check"
	StepSummary       = "summary"
	StepComplete      = "complete"
)

//Action ids handled by the flow
const (
	ActionPhotoUpload   = "photo_upload"
	ActionPhotoSkip     = "photo_skip"
	ActionAddressSubmit = "address_submit"
	ActionDateSelect    = "date_select"
	ActionWasteDisposal = "waste_disposal"
	ActionAreaInput     = "area_input"
	ActionElevatorCheck = "elevator_check"
	ActionConfirm       = "confirm_application"
	ActionRestart       = "restart"
	ActionQuoteForm     = "quote_form"
)

//Texts shown outside of a step transition
const (
	InProgressText    = "프리미엄철거 서비스 진행 중입니다."
	UnknownActionText = "알 수 없는 액션입니다."
	IncompleteText    = "아직 입력되지 않은 정보가 있습니다. 이전 단계를 먼저 완료해주세요."
)

//session data keys
const (
	keyPhotos         = "photo_count"
	keyDemolitionType = "demolition_type"
	keyAddress        = "address"
	keyAddressDetail  = "address_detail"
	keyDesiredDate    = "desired_date"
	keyWasteDisposal  = "waste_disposal"
	keyArea           = "area"
	keyElevator       = "has_elevator"
	keyContact        = "contact"
	keyApplicationID  = "application_id"
)

//Recorder persists confirmed applications
type Recorder interface {
	RecordQuote(ctx context.Context, q *api.QuoteRequest) error
}

//Option configures a Service
type Option func(*Service)

//WithRecorder hands confirmed applications to r
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

//WithClock sets the clock used for date validation and event timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

//WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

//WithRand sets the random source used for confirmation ids
func WithRand(r *rand.Rand) Option {
	return func(s *Service) { s.rand = r }
}

//Service is the premium demolition flow. It implements service.Definition.
type Service struct {
	*service.Session

	//mu serializes whole handler calls
	mu       sync.Mutex
	log      zerolog.Logger
	recorder Recorder
	now      func() time.Time
	rand     *rand.Rand
}

//New returns a new, inactive Service
func New(opts ...Option) *Service {
	s := &Service{
		Session: service.NewSession(ServiceID),
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.rand == nil {
		seed := uint64(time.Now().UnixNano())
		s.rand = rand.New(rand.NewPCG(seed, seed>>1))
	}
	s.log = s.log.With().Str("service", ServiceID).Logger()
	s.Session.SetClock(s.now)
	return s
}

//Config implements service.Definition
func (s *Service) Config() service.Config {
	return service.Config{
		ID:          ServiceID,
		Name:        "프리미엄철거",
		Emoji:       "🏗️",
		Description: "안전하고 깨끗한 철거 서비스",
		Version:     "1.0.0",
		Enabled:     true,
	}
}

//Initialize implements service.Definition
func (s *Service) Initialize(ctx context.Context, sc service.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Reset(sc, StepWelcome)
	s.log.Debug().Str("project_id", sc.ProjectID).Msg("initialized")
	return nil
}

//AvailableActions implements service.Definition
func (s *Service) AvailableActions() []service.ActionDescriptor {
	return []service.ActionDescriptor{
		{ID: ActionRestart, ServiceID: ServiceID, Label: "처음부터 다시", Icon: "🔄", Type: service.ActionTypeButton},
		{ID: ActionQuoteForm, ServiceID: ServiceID, Label: "견적 요청서 작성", Icon: "📝", Type: service.ActionTypeForm},
	}
}

//HandleMessage implements service.Definition
func (s *Service) HandleMessage(ctx context.Context, in service.Input) ([]service.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AddEvent(service.Event{Kind: service.EventInput, Name: in.String()})

	var outputs []service.Output
	sig, ok := in.Signal()
	switch {
	case ok && sig == service.SignalStart:
		outputs = s.start()
	case ok && sig == service.SignalShowPhotoUpload && s.Step() == StepPhotoUpload:
		outputs = []service.Output{photoComponent()}
	case ok && sig == service.SignalShowPhotoUpload:
		//the user moved on before the component was revealed
		outputs = nil
	default:
		outputs = []service.Output{service.Text{Content: InProgressText}}
	}

	s.recordOutputs(outputs)
	return outputs, nil
}

//HandleAction implements service.Definition
func (s *Service) HandleAction(ctx context.Context, actionID string, payload json.RawMessage) ([]service.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AddEvent(service.Event{Kind: service.EventAction, Name: actionID, Detail: string(payload)})

	var outputs []service.Output
	switch actionID {
	case ActionPhotoUpload:
		outputs = s.photoUpload(payload)
	case ActionPhotoSkip:
		outputs = s.photoSkip()
	case ActionAddressSubmit:
		outputs = s.addressSubmit(payload)
	case ActionDateSelect:
		outputs = s.dateSelect(payload)
	case ActionWasteDisposal:
		outputs = s.wasteDisposal(payload)
	case ActionAreaInput:
		outputs = s.areaInput(payload)
	case ActionElevatorCheck:
		outputs = s.elevatorCheck(payload)
	case ActionConfirm:
		outputs = s.confirm(ctx)
	case ActionRestart:
		outputs = s.restart()
	case ActionQuoteForm:
		outputs = s.quoteForm(payload)
	default:
		s.log.Debug().Str("action", actionID).Msg("unknown action")
		outputs = []service.Output{service.Text{Content: UnknownActionText}}
	}

	s.recordOutputs(outputs)
	return outputs, nil
}

//Terminate implements service.Definition
func (s *Service) Terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app := s.application()
	switch {
	case s.Step() == StepComplete:
		s.log.Info().Str("application_id", app.ApplicationID).Str("summary", app.Summary()).Msg("flushed completed application")
	case app.Address != "" || app.PhotoCount > 0:
		s.log.Info().Str("step", s.Step()).Msg("application abandoned before confirmation")
	}

	s.Clear(StepWelcome)
	return nil
}

func (s *Service) recordOutputs(outputs []service.Output) {
	if len(outputs) == 0 {
		return
	}
	s.AddEvent(service.Event{Kind: service.EventOutput, Name: strconv.Itoa(len(outputs))})
}

func (s *Service) start() []service.Output {
	s.SetStep(StepPhotoUpload)
	return []service.Output{
		service.Text{Content: "프리미엄철거 서비스를 이용하기 위해 🏗️\n몇 가지 정보를 순서대로 여쭤보겠습니다.\n\n먼저 철거할 현장의 사진을 올려주세요."},
		service.Deferred{Signal: service.SignalShowPhotoUpload},
	}
}

func (s *Service) restart() []service.Output {
	s.Reset(service.Context{}, StepWelcome)
	return append([]service.Output{service.System{Content: "처음부터 다시 시작합니다."}}, s.start()...)
}

func (s *Service) photoUpload(payload json.RawMessage) []service.Output {
	n, err := decodePhotoCount(payload)
	if err != nil {
		return invalid(ActionPhotoUpload, "photos", "사진 정보를 확인할 수 없습니다.")
	}
	s.Set(keyPhotos, n)
	s.SetStep(StepAddressInput)
	return []service.Output{
		service.Text{Content: fmt.Sprintf("사진 %d장을 받았습니다. 감사합니다!\n\n이제 철거할 현장의 주소를 알려주세요.", n)},
		addressComponent(),
	}
}

func (s *Service) photoSkip() []service.Output {
	s.Set(keyPhotos, 0)
	s.SetStep(StepAddressInput)
	return []service.Output{
		service.Text{Content: "사진은 나중에 추가하실 수 있습니다.\n\n철거할 현장의 주소를 알려주세요."},
		addressComponent(),
	}
}

func (s *Service) addressSubmit(payload json.RawMessage) []service.Output {
	var addr struct {
		Address string `json:"address"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(payload, &addr); err != nil {
		//a bare string is accepted as the address
		if sErr := json.Unmarshal(payload, &addr.Address); sErr != nil {
			return invalid(ActionAddressSubmit, "address", "주소를 입력해주세요.")
		}
	}

	errs := make(api.FieldErrors)
	if err := CheckAddress(addr.Address); err != nil {
		errs.Add("address", err.Error())
	}
	if err := CheckAddressDetail(addr.Detail); err != nil {
		errs.Add("detail", err.Error())
	}
	if !errs.Valid() {
		return []service.Output{service.Validation{ActionID: ActionAddressSubmit, Errors: errs}}
	}

	address, detail := api.SanitizeText(addr.Address), api.SanitizeText(addr.Detail)
	s.Set(keyAddress, address)
	s.Set(keyAddressDetail, detail)
	s.SetStep(StepDateSelect)

	return []service.Output{
		service.Text{Content: fmt.Sprintf("주소: %s\n\n언제부터 시공을 시작하면 좋을까요?", strings.TrimSpace(address+" "+detail))},
		s.dateComponent(),
	}
}

func (s *Service) dateSelect(payload json.RawMessage) []service.Output {
	raw, err := decodeString(payload, "date")
	if err != nil {
		return invalid(ActionDateSelect, "date", "올바른 날짜를 선택해주세요.")
	}

	date, err := ParseDate(raw, s.now())
	if err != nil {
		return invalid(ActionDateSelect, "date", err.Error())
	}

	s.Set(keyDesiredDate, date)
	s.SetStep(StepWasteDisposal)

	return []service.Output{
		service.Text{Content: fmt.Sprintf("희망일: %s\n\n철거 후 발생하는 폐기물 처리도 함께 진행할까요?", formatDate(date))},
		selectComponent(ActionWasteDisposal, "폐기물 처리", []service.Option{
			{ID: "yes", Label: "포함", Icon: "♻️"},
			{ID: "no", Label: "미포함", Icon: "🚫"},
		}),
	}
}

func (s *Service) wasteDisposal(payload json.RawMessage) []service.Output {
	waste, err := decodeBool(payload)
	if err != nil {
		return invalid(ActionWasteDisposal, "waste_disposal", "포함 여부를 선택해주세요.")
	}

	s.Set(keyWasteDisposal, waste)
	s.SetStep(StepAreaInput)

	text := "폐기물 처리를 포함하여 진행하겠습니다."
	if !waste {
		text = "폐기물 처리는 제외하고 진행하겠습니다."
	}

	return []service.Output{
		service.Text{Content: text + "\n\n철거할 공간의 면적은 몇 평인가요?"},
		service.Component{Kind: service.ComponentNumberInput, ActionID: ActionAreaInput, Props: map[string]any{
			"title": "면적",
			"unit":  "평",
			"min":   MinArea,
			"max":   MaxArea,
		}},
	}
}

func (s *Service) areaInput(payload json.RawMessage) []service.Output {
	raw, err := decodeNumber(payload)
	if err != nil {
		return invalid(ActionAreaInput, "area", "올바른 면적을 입력해주세요.")
	}

	area, err := ParseArea(raw)
	if err != nil {
		return invalid(ActionAreaInput, "area", err.Error())
	}

	s.Set(keyArea, area)
	s.SetStep(StepElevatorCheck)

	return []service.Output{
		service.Text{Content: fmt.Sprintf("면적: %s평\n\n마지막으로, 현장에 엘리베이터가 있나요?", formatArea(area))},
		selectComponent(ActionElevatorCheck, "엘리베이터", []service.Option{
			{ID: "yes", Label: "있음", Icon: "🛗"},
			{ID: "no", Label: "없음", Icon: "🚶"},
		}),
	}
}

func (s *Service) elevatorCheck(payload json.RawMessage) []service.Output {
	elevator, err := decodeBool(payload)
	if err != nil {
		return invalid(ActionElevatorCheck, "has_elevator", "엘리베이터 여부를 선택해주세요.")
	}

	s.Set(keyElevator, elevator)
	s.SetStep(StepSummary)
	return s.summaryOutputs()
}

func (s *Service) quoteForm(payload json.RawMessage) []service.Output {
	var form QuoteForm
	if err := json.Unmarshal(payload, &form); err != nil {
		return invalid(ActionQuoteForm, "form", "견적 요청서를 확인할 수 없습니다.")
	}

	if errs := form.Validate(s.now()); !errs.Valid() {
		return []service.Output{service.Validation{ActionID: ActionQuoteForm, Errors: errs}}
	}

	form = form.Sanitized()
	area, _ := ParseArea(form.Area)

	s.Set(keyDemolitionType, form.DemolitionType)
	s.Set(keyAddress, form.Location)
	s.Set(keyArea, area)
	if form.DesiredDate != "" {
		date, _ := ParseDate(form.DesiredDate, s.now())
		s.Set(keyDesiredDate, date)
	}
	if form.Contact != "" {
		s.Set(keyContact, form.Contact)
	}
	s.SetStep(StepSummary)

	return s.summaryOutputs()
}

func (s *Service) summaryOutputs() []service.Output {
	app := s.application()
	return []service.Output{
		service.Text{Content: "입력하신 내용을 확인해주세요."},
		service.Component{Kind: service.ComponentSummary, ActionID: ActionConfirm, Props: map[string]any{
			"summary": app.Summary(),
			"data":    app.Data(),
		}},
	}
}

func (s *Service) confirm(ctx context.Context) []service.Output {
	app := s.application()

	if s.Step() == StepComplete {
		return []service.Output{service.Text{Content: fmt.Sprintf("이미 신청이 완료되었습니다. (접수번호: %s)", app.ApplicationID)}}
	}
	if !app.Complete() {
		return []service.Output{service.Text{Content: IncompleteText}}
	}

	app.ApplicationID = newApplicationID(s.rand)
	s.Set(keyApplicationID, app.ApplicationID)
	s.SetStep(StepComplete)

	summary := app.Summary()
	s.record(ctx, app, summary)

	return []service.Output{
		service.Text{Content: fmt.Sprintf("🎉 신청이 완료되었습니다!\n\n접수번호: %s\n24시간 이내에 담당자가 연락드리겠습니다.", app.ApplicationID)},
		service.Text{
			Content: "추가 문의사항이 있으시면 언제든 말씀해주세요.",
			Attachment: &service.Attachment{
				ApplicationID: app.ApplicationID,
				Summary:       summary,
				Data:          app.Data(),
			},
		},
	}
}

func (s *Service) record(ctx context.Context, app *Application, summary string) {
	if s.recorder == nil {
		return
	}

	sc := s.Context()
	q := &api.QuoteRequest{
		ApplicationID:  app.ApplicationID,
		ServiceID:      ServiceID,
		ProjectID:      sc.ProjectID,
		UserID:         sc.UserID,
		DemolitionType: app.DemolitionType,
		Address:        app.Address,
		AddressDetail:  app.AddressDetail,
		DesiredDate:    app.DesiredDate.Format(dateLayout),
		Area:           app.Area,
		PhotoCount:     app.PhotoCount,
		Contact:        app.Contact,
		Summary:        summary,
	}
	if app.WasteDisposal != nil {
		q.WasteDisposal = *app.WasteDisposal
	}
	if app.HasElevator != nil {
		q.HasElevator = *app.HasElevator
	}

	if err := s.recorder.RecordQuote(ctx, q); err != nil {
		s.log.Error().Err(err).Str("application_id", app.ApplicationID).Msg("could not record quote request")
		return
	}
	s.log.Info().Str("application_id", app.ApplicationID).Int64("id", q.ID).Msg("quote request recorded")
}

//application reads the collected values out of the session
func (s *Service) application() *Application {
	data := s.Data()
	app := new(Application)

	app.ApplicationID, _ = data[keyApplicationID].(string)
	app.DemolitionType, _ = data[keyDemolitionType].(string)
	app.Address, _ = data[keyAddress].(string)
	app.AddressDetail, _ = data[keyAddressDetail].(string)
	app.DesiredDate, _ = data[keyDesiredDate].(time.Time)
	app.Area, _ = data[keyArea].(float64)
	app.PhotoCount, _ = data[keyPhotos].(int)
	app.Contact, _ = data[keyContact].(string)
	if b, ok := data[keyWasteDisposal].(bool); ok {
		app.WasteDisposal = &b
	}
	if b, ok := data[keyElevator].(bool); ok {
		app.HasElevator = &b
	}
	return app
}

func invalid(actionID, field, msg string) []service.Output {
	return []service.Output{service.Validation{ActionID: actionID, Errors: api.FieldErrors{field: msg}}}
}

func photoComponent() service.Component {
	return service.Component{Kind: service.ComponentPhotoUpload, ActionID: ActionPhotoUpload, Props: map[string]any{
		"max_files":      10,
		"skip_action_id": ActionPhotoSkip,
	}}
}

func addressComponent() service.Component {
	return service.Component{Kind: service.ComponentAddressInput, ActionID: ActionAddressSubmit, Props: map[string]any{
		"max_length": MaxAddressLen,
	}}
}

func (s *Service) dateComponent() service.Component {
	now := s.now()
	return service.Component{Kind: service.ComponentDatePicker, ActionID: ActionDateSelect, Props: map[string]any{
		"label": "시공 희망일",
		"min":   now.Format(dateLayout),
		"max":   now.AddDate(bookingHorizon, 0, 0).Format(dateLayout),
	}}
}

func selectComponent(actionID, title string, options []service.Option) service.Component {
	return service.Component{Kind: service.ComponentSelectOptions, ActionID: actionID, Props: map[string]any{
		"title":   title,
		"options": options,
	}}
}
