package main

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

//Config represents options given in the environment
type Config struct {
	SessionDuration int //in hours; default: 24

	SQLDriver string //required
	SQLDSN    string //required

	ListenAddr string //addr format used for net.Dial; required
	Prefix     string //url prefix to mount api to without trailing slash

	//AllowedOrigins are the CORS origins; default: all
	AllowedOrigins []string

	LogLevel  string //zerolog level; default: info
	LogFormat string //json or console; default: json

	ChatAPIURL        string        //base URL of the AI chat backend; required
	ChatTimeout       time.Duration //non-streaming request timeout; default: 60s
	ChatStreaming     bool          //use the streaming chat endpoint
	ChatReadyAttempts int           //health probes at startup; default: 5

	SettleDelay   time.Duration //default: 300ms
	RevealDelay   time.Duration //default: 3.2s
	HistoryLength int           //transcript entries sent as chat context; default: 20

	HistoryCacheBytes int           //default: 8MB
	HistoryCacheTTL   time.Duration //default: 1m
}

var config = &Config{}

func checkEmpty(val, name string) {
	if val == "" {
		log.Fatal().Msgf("CONCIERGE_%s must be configured", name)
	}
}

func init() {
	err := envconfig.Process("CONCIERGE", config)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading configuration from environment")
	}

	if config.SessionDuration == 0 {
		config.SessionDuration = 24
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.ChatReadyAttempts == 0 {
		config.ChatReadyAttempts = 5
	}
	if config.HistoryCacheBytes == 0 {
		config.HistoryCacheBytes = 8 << 20
	}
	if config.HistoryCacheTTL == 0 {
		config.HistoryCacheTTL = time.Minute
	}

	checkEmpty(config.SQLDriver, "SQLDRIVER")
	checkEmpty(config.SQLDSN, "SQLDSN")

	if config.SQLDriver == "mysql" && !strings.Contains(config.SQLDSN, "parseTime=true") {
		log.Fatal().Msg("mysql DSN must contain \"parseTime=true\"")
	}

	checkEmpty(config.ListenAddr, "LISTENADDR")
	checkEmpty(config.ChatAPIURL, "CHATAPIURL")
}
