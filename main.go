package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/handlers"
	"github.com/korylprince/tevor-concierge/api"
	"github.com/korylprince/tevor-concierge/chatbot"
	"github.com/korylprince/tevor-concierge/httpapi"
	"github.com/korylprince/tevor-concierge/service"
	"github.com/korylprince/tevor-concierge/service/demolition"
	"github.com/rs/zerolog"
)

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var l zerolog.Logger
	if config.LogFormat == "console" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		l = zerolog.New(os.Stdout)
	}
	return l.Level(level).With().Timestamp().Logger()
}

func main() {
	log := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open(config.SQLDriver, config.SQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open database")
	}
	defer db.Close()

	chat := chatbot.NewClient(config.ChatAPIURL, config.ChatTimeout, log)
	go func() {
		if err := chat.WaitReady(ctx, config.ChatReadyAttempts); err != nil {
			log.Warn().Err(err).Msg("chat API not ready; chat replies will fail until it is")
			return
		}
		log.Info().Str("url", config.ChatAPIURL).Msg("chat API ready")
	}()

	history := chatbot.NewHistoryCache(chat, config.HistoryCacheBytes, config.HistoryCacheTTL)
	quotes := api.NewQuoteStore(db)

	catalogs := func(l zerolog.Logger) *service.Catalog {
		c := service.NewCatalog(l)
		c.Register(demolition.New(demolition.WithRecorder(quotes), demolition.WithLogger(l)))
		return c
	}

	s := httpapi.NewMemorySessionStore(ctx, time.Hour*time.Duration(config.SessionDuration))

	chatHandler := httpapi.NewChatHandler(httpapi.ChatConfig{
		Chat:          chat,
		History:       history,
		Projects:      chat,
		Catalogs:      catalogs,
		Log:           log,
		Streaming:     config.ChatStreaming,
		SettleDelay:   config.SettleDelay,
		RevealDelay:   config.RevealDelay,
		HistoryLength: config.HistoryLength,
	})

	r := httpapi.NewRouter(log, s, db, chatHandler, catalogs, chat)

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Session-Key"}),
	)

	chain := cors(handlers.CompressHandler(http.StripPrefix(config.Prefix, r)))

	server := &http.Server{Addr: config.ListenAddr, Handler: chain}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Could not shut down cleanly")
		}
	}()

	log.Info().Str("addr", config.ListenAddr).Str("prefix", config.Prefix+httpapi.Prefix).Msg("Listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
