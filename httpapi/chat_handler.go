package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/korylprince/tevor-concierge/api"
	"github.com/korylprince/tevor-concierge/chatbot"
	"github.com/korylprince/tevor-concierge/conversation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 64 * 1024
	outQueueLength = 256
)

//User-facing texts for rejected client frames
const (
	MalformedFrameText = "메시지 형식이 올바르지 않습니다."
	MissingFieldText   = "필수 항목이 누락되었습니다."
)

var chatConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "concierge_chat_connections",
	Help: "Number of open chat WebSocket connections",
})

//ProjectSource looks up a project on the chat backend
type ProjectSource interface {
	Project(ctx context.Context, id string) (*chatbot.Project, error)
}

//ChatConfig configures a ChatHandler. Chat and Catalogs are required.
type ChatConfig struct {
	Chat     conversation.ChatClient
	History  chatbot.HistorySource
	Projects ProjectSource
	Catalogs CatalogFactory
	Log      zerolog.Logger

	Streaming     bool
	SettleDelay   time.Duration
	RevealDelay   time.Duration
	HistoryLength int

	//CheckOrigin is passed to the WebSocket upgrader. nil allows every origin.
	CheckOrigin func(r *http.Request) bool
}

//ChatHandler serves chat WebSocket connections. Every connection gets its own Orchestrator.
type ChatHandler struct {
	cfg      ChatConfig
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

//NewChatHandler returns a new ChatHandler
func NewChatHandler(cfg ChatConfig) *ChatHandler {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = conversation.DefaultSettleDelay
	}

	return &ChatHandler{
		cfg: cfg,
		log: cfg.Log.With().Str("component", "chat_handler").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

//GET /chat/:projectID
func (h *ChatHandler) serve(w http.ResponseWriter, r *http.Request) *handlerResponse {
	projectID := mux.Vars(r)["projectID"]
	user := r.Context().Value(api.UserKey).(*api.User)

	if h.cfg.Projects != nil {
		if _, err := h.cfg.Projects.Project(r.Context(), projectID); err != nil {
			if chatbot.IsKind(err, chatbot.ErrorKindNotFound) {
				resp := handleError(http.StatusNotFound, fmt.Errorf("Could not find project %s: %w", projectID, err))
				if wErr := writeResponse(w, resp); wErr != nil {
					resp.Err = errors.Join(resp.Err, wErr)
				}
				return resp
			}
			//the backend being down doesn't block guided services
			h.log.Warn().Err(err).Str("project_id", projectID).Msg("could not check project")
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		//Upgrade has already written an error response
		return &handlerResponse{Code: http.StatusBadRequest, Err: fmt.Errorf("Could not upgrade connection: %w", err)}
	}

	chatConnections.Inc()
	defer chatConnections.Dec()

	sessionID := uuid.NewString()
	c := newChatConn(conn, h.log.With().Str("project_id", projectID).Str("session_id", sessionID).Int64("user_id", user.ID).Logger())

	orch := conversation.New(conversation.Config{
		Catalog:       h.cfg.Catalogs(c.log),
		Chat:          h.cfg.Chat,
		History:       h.cfg.History,
		Mode:          conversation.NewModeController(nil, h.cfg.SettleDelay),
		Log:           c.log,
		ProjectID:     projectID,
		UserID:        strconv.FormatInt(user.ID, 10),
		SessionID:     sessionID,
		Streaming:     h.cfg.Streaming,
		RevealDelay:   h.cfg.RevealDelay,
		HistoryLength: h.cfg.HistoryLength,
	})

	err = c.run(r.Context(), orch)
	return &handlerResponse{Code: http.StatusSwitchingProtocols, Err: err}
}

//chatConn is one chat WebSocket connection. All writes go through the writer goroutine.
type chatConn struct {
	conn *websocket.Conn
	log  zerolog.Logger

	out  chan ServerFrame
	quit chan struct{}
	done chan struct{}
}

func newChatConn(conn *websocket.Conn, log zerolog.Logger) *chatConn {
	return &chatConn{
		conn: conn,
		log:  log,
		out:  make(chan ServerFrame, outQueueLength),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

//send queues f for the writer. It blocks while the queue is full and drops f once the writer has exited.
func (c *chatConn) send(f ServerFrame) {
	select {
	case c.out <- f:
	case <-c.done:
	}
}

func (c *chatConn) write(f ServerFrame) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *chatConn) writeLoop() {
	defer close(c.done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.out:
			if err := c.write(f); err != nil {
				c.log.Debug().Err(err).Msg("could not write frame")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.quit:
			for {
				select {
				case f := <-c.out:
					if err := c.write(f); err != nil {
						return
					}
				default:
					c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

//run serves the connection until the client disconnects
func (c *chatConn) run(ctx context.Context, orch *conversation.Orchestrator) error {
	defer c.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writeLoop()

	orch.Transcript().Subscribe(func(e conversation.Event) {
		if f, ok := eventFrame(e); ok {
			c.send(f)
		}
	})
	orch.Mode().OnChange(func(s conversation.ModeState) {
		c.send(modeFrame(s))
	})

	c.send(ServerFrame{Type: ServerFrameServices, Services: orch.Catalog().ListEnabled()})
	c.send(modeFrame(orch.Mode().State()))
	if err := orch.LoadHistory(ctx); err != nil {
		c.log.Warn().Err(err).Msg("could not load history")
	}

	err := c.readLoop(ctx, orch)

	if cErr := orch.Close(context.Background()); cErr != nil {
		c.log.Warn().Err(cErr).Msg("could not close conversation")
	}
	close(c.quit)
	<-c.done

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil
	}
	return err
}

func (c *chatConn) readLoop(ctx context.Context, orch *conversation.Orchestrator) error {
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}

		var f ClientFrame
		if err := json.Unmarshal(buf, &f); err != nil {
			//malformed frames leave the connection usable
			c.send(errorFrame(MalformedFrameText))
			continue
		}

		if err := c.dispatch(ctx, orch, &f); err != nil {
			c.log.Debug().Err(err).Str("type", string(f.Type)).Msg("frame handled with error")
		}
		//pongs aren't read while a reply is streaming
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

//dispatch hands f to the orchestrator. Failures are already reported in the transcript.
func (c *chatConn) dispatch(ctx context.Context, orch *conversation.Orchestrator, f *ClientFrame) error {
	switch f.Type {
	case ClientFrameMessage:
		return orch.SendMessage(ctx, f.Message)
	case ClientFrameAction:
		if f.ServiceID == "" || f.ActionID == "" {
			c.send(errorFrame(MissingFieldText + " (service_id, action_id)"))
			return nil
		}
		return orch.SendAction(ctx, f.ServiceID, f.ActionID, f.Payload)
	case ClientFrameSelectService:
		if f.ServiceID == "" {
			c.send(errorFrame(MissingFieldText + " (service_id)"))
			return nil
		}
		return orch.SelectService(ctx, f.ServiceID)
	default:
		c.send(errorFrame(fmt.Sprintf("알 수 없는 메시지 유형입니다: %s", f.Type)))
		return nil
	}
}
