package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

//Errors returned by Catalog
var (
	ErrUnknownService   = errors.New("unknown service")
	ErrActivationFailed = errors.New("service activation failed")
	ErrNoActiveService  = errors.New("no active service")
)

//User-facing texts produced by the Catalog
const (
	UnavailableText      = "서비스를 시작할 수 없습니다. 잠시 후 다시 시도해주세요."
	SuggestionFoundText  = "관련 서비스를 찾았습니다. 원하시는 서비스를 선택해주세요."
	SuggestionPromptText = "어떤 서비스를 이용하시겠습니까?"
)

//ActivateActionID is the ActionDescriptor id offered to start a suggested service
const ActivateActionID = "activate"

//activationPattern matches "@<id>" and "/service <id>" at the start of a message
var activationPattern = regexp.MustCompile(`^(@|/service\s+)([\w-]+)`)

var (
	activationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_service_activations_total",
			Help: "Guided service activation attempts by result",
		},
		[]string{"service", "result"},
	)

	activeServices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "concierge_active_services",
			Help: "Number of guided services currently active across all sessions",
		},
	)
)

//Catalog holds the registered Definitions of one conversation and tracks the single active one.
//Activation and deactivation are serialized: a request arriving while another is in flight
//waits in a FIFO queue and runs after the in-flight one settles, success or failure.
type Catalog struct {
	log zerolog.Logger

	mu       sync.Mutex
	services map[string]Definition
	active   Definition
	sctx     Context

	inFlight bool
	pending  []chan struct{}
}

//NewCatalog returns an empty Catalog
func NewCatalog(log zerolog.Logger) *Catalog {
	return &Catalog{
		log:      log.With().Str("component", "catalog").Logger(),
		services: make(map[string]Definition),
	}
}

//Register adds def. Registering an id twice is a no-op; the first Definition is kept.
func (c *Catalog) Register(def Definition) {
	cfg := def.Config()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.services[cfg.ID]; ok {
		c.log.Debug().Str("service", cfg.ID).Msg("service already registered")
		return
	}
	c.services[cfg.ID] = def
	c.log.Debug().Str("service", cfg.ID).Str("name", cfg.Name).Msg("service registered")
}

//Unregister removes the service with the given id, deactivating it first if it is active
func (c *Catalog) Unregister(ctx context.Context, id string) error {
	c.mu.Lock()
	def, ok := c.services[id]
	isActive := ok && c.active == def
	c.mu.Unlock()

	if !ok {
		return nil
	}

	if isActive {
		if _, err := c.DeactivateService(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	delete(c.services, id)
	c.mu.Unlock()
	return nil
}

//Get returns the Definition registered as id
func (c *Catalog) Get(id string) (Definition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.services[id]
	return def, ok
}

//List returns the Configs of all registered services sorted by id
func (c *Catalog) List() []Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	configs := make([]Config, 0, len(c.services))
	for _, def := range c.services {
		configs = append(configs, def.Config())
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs
}

//ListEnabled returns the Configs of enabled services sorted by id
func (c *Catalog) ListEnabled() []Config {
	var enabled []Config
	for _, cfg := range c.List() {
		if cfg.Enabled {
			enabled = append(enabled, cfg)
		}
	}
	return enabled
}

//SetContext merges sc into the context passed to Initialize on the next activation
func (c *Catalog) SetContext(sc Context) {
	c.mu.Lock()
	c.sctx = c.sctx.Merge(sc)
	c.mu.Unlock()
}

//ActiveServiceID returns the id of the active service, or an empty string
func (c *Catalog) ActiveServiceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.Config().ID
}

func (c *Catalog) activeDefinition() Definition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

//acquire waits until no other transition is in flight. Waiters are released in arrival order.
func (c *Catalog) acquire(ctx context.Context) error {
	c.mu.Lock()
	if !c.inFlight {
		c.inFlight = true
		c.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	c.pending = append(c.pending, ch)
	n := len(c.pending)
	c.mu.Unlock()

	c.log.Debug().Int("queued", n).Msg("transition in flight; queueing request")

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		for i, p := range c.pending {
			if p == ch {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				c.mu.Unlock()
				return ctx.Err()
			}
		}
		c.mu.Unlock()
		//ch was closed concurrently: this request owns the transition and must hand it on
		c.release()
		return ctx.Err()
	}
}

//release hands the transition to the oldest waiter, or marks none in flight
func (c *Catalog) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		close(next)
		return
	}
	c.inFlight = false
}

//ActivateService makes id the active service, terminating any other active service first.
//If id is already active, a single System note is returned. If Initialize fails, no service
//is left active and the returned Outputs hold a user-facing "unavailable" Text.
func (c *Catalog) ActivateService(ctx context.Context, id string) ([]Output, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	return c.activate(ctx, id)
}

func (c *Catalog) activate(ctx context.Context, id string) ([]Output, error) {
	c.mu.Lock()
	def, ok := c.services[id]
	current := c.active
	sctx := c.sctx
	c.mu.Unlock()

	if !ok {
		activationTotal.WithLabelValues(id, "unknown").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, id)
	}

	cfg := def.Config()

	if current == def {
		activationTotal.WithLabelValues(id, "already_active").Inc()
		return []Output{System{Content: fmt.Sprintf("%s 서비스가 이미 활성화되어 있습니다.", cfg.Name)}}, nil
	}

	if current != nil {
		if _, err := c.deactivate(ctx); err != nil {
			c.log.Warn().Err(err).Str("service", current.Config().ID).Msg("could not terminate previous service")
		}
	}

	if err := def.Initialize(ctx, sctx); err != nil {
		activationTotal.WithLabelValues(id, "failed").Inc()
		c.log.Error().Err(err).Str("service", id).Msg("could not initialize service")
		return []Output{Text{Content: UnavailableText}}, fmt.Errorf("%w: %s: %w", ErrActivationFailed, id, err)
	}
	def.Activate()

	c.mu.Lock()
	c.active = def
	c.mu.Unlock()

	activeServices.Inc()
	activationTotal.WithLabelValues(id, "activated").Inc()
	c.log.Info().Str("service", id).Msg("service activated")

	return []Output{System{Content: fmt.Sprintf("%s 서비스가 활성화되었습니다.", cfg.Name)}}, nil
}

//DeactivateService terminates the active service. It is a no-op if no service is active.
func (c *Catalog) DeactivateService(ctx context.Context) ([]Output, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	return c.deactivate(ctx)
}

func (c *Catalog) deactivate(ctx context.Context) ([]Output, error) {
	c.mu.Lock()
	def := c.active
	c.active = nil
	c.mu.Unlock()

	if def == nil {
		return nil, nil
	}

	activeServices.Dec()
	cfg := def.Config()
	outputs := []Output{System{Content: fmt.Sprintf("[서비스 종료: %s]", cfg.Name)}}

	if err := def.Terminate(ctx); err != nil {
		c.log.Error().Err(err).Str("service", cfg.ID).Msg("could not terminate service")
		return outputs, fmt.Errorf("could not terminate %s: %w", cfg.ID, err)
	}

	c.log.Info().Str("service", cfg.ID).Msg("service deactivated")
	return outputs, nil
}

//RouteMessage handles user text outside the router's decision table: an activation
//command ("@id" or "/service id") for a registered id activates it; otherwise the text goes
//to the active service; with no active service, matching services are suggested.
func (c *Catalog) RouteMessage(ctx context.Context, text string) ([]Output, error) {
	if m := activationPattern.FindStringSubmatch(text); m != nil {
		if _, ok := c.Get(m[2]); ok {
			return c.ActivateService(ctx, m[2])
		}
	}

	if def := c.activeDefinition(); def != nil {
		return def.HandleMessage(ctx, TextInput(text))
	}

	return c.suggest(text), nil
}

//RouteSignal sends s to the active service
func (c *Catalog) RouteSignal(ctx context.Context, s Signal) ([]Output, error) {
	def := c.activeDefinition()
	if def == nil {
		return nil, ErrNoActiveService
	}
	return def.HandleMessage(ctx, SignalInput(s))
}

//RouteAction forwards an action to serviceID, activating it first if it isn't active.
//Outputs from an activation are returned ahead of the action's outputs.
func (c *Catalog) RouteAction(ctx context.Context, serviceID, actionID string, payload []byte) ([]Output, error) {
	def, ok := c.Get(serviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, serviceID)
	}

	var outputs []Output
	if c.activeDefinition() != def {
		activated, err := c.ActivateService(ctx, serviceID)
		if err != nil {
			return activated, err
		}
		outputs = append(outputs, activated...)
	}

	actionOutputs, err := def.HandleAction(ctx, actionID, payload)
	return append(outputs, actionOutputs...), err
}

//suggest matches the words of text against the name and description of enabled services
func (c *Catalog) suggest(text string) []Output {
	keywords := strings.Fields(strings.ToLower(text))

	var suggestions []Output
	for _, cfg := range c.ListEnabled() {
		search := strings.ToLower(cfg.Name + " " + cfg.Description)
		for _, k := range keywords {
			if strings.Contains(search, k) {
				suggestions = append(suggestions, Action{Descriptor: ActionDescriptor{
					ID:        ActivateActionID,
					ServiceID: cfg.ID,
					Label:     cfg.Name,
					Icon:      cfg.Emoji,
					Type:      ActionTypeButton,
				}})
				break
			}
		}
	}

	if len(suggestions) == 0 {
		return []Output{Text{Content: SuggestionPromptText}}
	}
	return append([]Output{Text{Content: SuggestionFoundText}}, suggestions...)
}

//Close deactivates the active service
func (c *Catalog) Close(ctx context.Context) error {
	_, err := c.DeactivateService(ctx)
	return err
}
