package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//fakeService records lifecycle calls. If gate is set, Initialize blocks until it is closed.
type fakeService struct {
	*Session
	cfg     Config
	gate    chan struct{}
	entered chan struct{}
	initErr error

	mu      sync.Mutex
	calls   *[]string
	actions []string
}

func newFake(id, name, desc string, calls *[]string) *fakeService {
	return &fakeService{
		Session: NewSession(id),
		cfg:     Config{ID: id, Name: name, Description: desc, Enabled: true},
		calls:   calls,
	}
}

func (f *fakeService) log(s string) {
	f.mu.Lock()
	*f.calls = append(*f.calls, s)
	f.mu.Unlock()
}

func (f *fakeService) Config() Config { return f.cfg }

func (f *fakeService) Initialize(ctx context.Context, sc Context) error {
	if f.entered != nil {
		close(f.entered)
	}
	if f.gate != nil {
		<-f.gate
	}
	f.log("init:" + f.cfg.ID)
	if f.initErr != nil {
		return f.initErr
	}
	f.Reset(sc, "start")
	return nil
}

func (f *fakeService) HandleMessage(ctx context.Context, in Input) ([]Output, error) {
	return []Output{Text{Content: f.cfg.ID + ":" + in.String()}}, nil
}

func (f *fakeService) HandleAction(ctx context.Context, actionID string, payload json.RawMessage) ([]Output, error) {
	f.mu.Lock()
	f.actions = append(f.actions, actionID)
	f.mu.Unlock()
	return []Output{Text{Content: "did " + actionID}}, nil
}

func (f *fakeService) AvailableActions() []ActionDescriptor { return nil }

func (f *fakeService) Terminate(ctx context.Context) error {
	f.log("term:" + f.cfg.ID)
	f.Clear("start")
	return nil
}

func (c *Catalog) pendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func waitPending(t *testing.T, c *Catalog, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.pendingLen() == n }, time.Second, time.Millisecond)
}

func TestCatalogRegisterIdempotent(t *testing.T) {
	var calls []string
	c := NewCatalog(zerolog.Nop())
	first := newFake("a", "A", "", &calls)
	c.Register(first)
	c.Register(newFake("a", "Other", "", &calls))

	require.Len(t, c.List(), 1)
	def, ok := c.Get("a")
	require.True(t, ok)
	assert.Same(t, first, def)
}

func TestCatalogActivateSwitches(t *testing.T) {
	var calls []string
	c := NewCatalog(zerolog.Nop())
	a, b := newFake("a", "A", "", &calls), newFake("b", "B", "", &calls)
	c.Register(a)
	c.Register(b)
	ctx := context.Background()

	out, err := c.ActivateService(ctx, "a")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.IsType(t, System{}, out[0])
	assert.True(t, a.IsActive())

	out, err = c.ActivateService(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, out, 1, "already active yields a single note")

	_, err = c.ActivateService(ctx, "b")
	require.NoError(t, err)
	assert.False(t, a.IsActive())
	assert.True(t, b.IsActive())
	assert.Equal(t, "b", c.ActiveServiceID())
	assert.Equal(t, []string{"init:a", "term:a", "init:b"}, calls)

	out, err = c.DeactivateService(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Output{System{Content: "[서비스 종료: B]"}}, out)
	assert.Empty(t, c.ActiveServiceID())

	out, err = c.DeactivateService(ctx)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCatalogActivateUnknown(t *testing.T) {
	c := NewCatalog(zerolog.Nop())
	_, err := c.ActivateService(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownService)
}

func TestCatalogActivateFailure(t *testing.T) {
	var calls []string
	c := NewCatalog(zerolog.Nop())
	a := newFake("a", "A", "", &calls)
	a.initErr = errors.New("boom")
	c.Register(a)

	out, err := c.ActivateService(context.Background(), "a")
	assert.ErrorIs(t, err, ErrActivationFailed)
	assert.Equal(t, []Output{Text{Content: UnavailableText}}, out)
	assert.Empty(t, c.ActiveServiceID())
	assert.False(t, a.IsActive())

	//the queue must not be wedged by a failure
	a.initErr = nil
	_, err = c.ActivateService(context.Background(), "a")
	assert.NoError(t, err)
}

func TestCatalogSerializesFIFO(t *testing.T) {
	var calls []string
	c := NewCatalog(zerolog.Nop())
	a := newFake("a", "A", "", &calls)
	a.gate, a.entered = make(chan struct{}), make(chan struct{})
	b, d := newFake("b", "B", "", &calls), newFake("d", "D", "", &calls)
	c.Register(a)
	c.Register(b)
	c.Register(d)
	ctx := context.Background()

	var wg sync.WaitGroup
	activate := func(id string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ActivateService(ctx, id)
			assert.NoError(t, err)
		}()
	}

	activate("a")
	<-a.entered
	activate("b")
	waitPending(t, c, 1)
	activate("d")
	waitPending(t, c, 2)

	close(a.gate)
	wg.Wait()

	assert.Equal(t, []string{"init:a", "term:a", "init:b", "term:b", "init:d"}, calls)
	assert.Equal(t, "d", c.ActiveServiceID())
	assert.False(t, a.IsActive())
	assert.False(t, b.IsActive())
	assert.True(t, d.IsActive())
}

func TestCatalogQueuedCancel(t *testing.T) {
	var calls []string
	c := NewCatalog(zerolog.Nop())
	a := newFake("a", "A", "", &calls)
	a.gate, a.entered = make(chan struct{}), make(chan struct{})
	c.Register(a)
	c.Register(newFake("b", "B", "", &calls))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.ActivateService(context.Background(), "a")
		assert.NoError(t, err)
	}()
	<-a.entered

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.ActivateService(ctx, "b")
		errc <- err
	}()
	waitPending(t, c, 1)
	cancel()

	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, 0, c.pendingLen())

	close(a.gate)
	<-done
	assert.Equal(t, "a", c.ActiveServiceID())
}

func TestCatalogRouteMessage(t *testing.T) {
	var calls []string
	c := NewCatalog(zerolog.Nop())
	c.Register(newFake("premium-demolition", "프리미엄철거", "안전하고 깨끗한 철거 서비스", &calls))
	c.Register(newFake("site-photo", "현장사진", "현장 사진 기록", &calls))
	ctx := context.Background()

	out, err := c.RouteMessage(ctx, "철거")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, Text{Content: SuggestionFoundText}, out[0])
	act, ok := out[1].(Action)
	require.True(t, ok)
	assert.Equal(t, "premium-demolition", act.Descriptor.ServiceID)
	assert.Equal(t, ActivateActionID, act.Descriptor.ID)

	out, err = c.RouteMessage(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, []Output{Text{Content: SuggestionPromptText}}, out)

	out, err = c.RouteMessage(ctx, "/service site-photo please")
	require.NoError(t, err)
	assert.Equal(t, "site-photo", c.ActiveServiceID())
	assert.Len(t, out, 1)

	out, err = c.RouteMessage(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []Output{Text{Content: "site-photo:hello"}}, out)

	_, err = c.RouteMessage(ctx, "@premium-demolition")
	require.NoError(t, err)
	assert.Equal(t, "premium-demolition", c.ActiveServiceID())
}

func TestCatalogRouteAction(t *testing.T) {
	var calls []string
	c := NewCatalog(zerolog.Nop())
	a := newFake("a", "A", "", &calls)
	c.Register(a)
	ctx := context.Background()

	_, err := c.RouteSignal(ctx, SignalStart)
	assert.ErrorIs(t, err, ErrNoActiveService)

	out, err := c.RouteAction(ctx, "a", "go", nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.IsType(t, System{}, out[0])
	assert.Equal(t, Text{Content: "did go"}, out[1])

	out, err = c.RouteAction(ctx, "a", "again", nil)
	require.NoError(t, err)
	assert.Equal(t, []Output{Text{Content: "did again"}}, out)
	assert.Equal(t, []string{"go", "again"}, a.actions)

	_, err = c.RouteAction(ctx, "zzz", "go", nil)
	assert.ErrorIs(t, err, ErrUnknownService)
}
