package config

import "time"

const (
	// Push channel
	PushBufferSize     = 256
	MaxCommandSize     = 8 << 10
	WriteWait          = 10 * time.Second
	PongWait           = 60 * time.Second
	PingPeriod         = (PongWait * 9) / 10
	RelayChannel       = "chat:events"
	RelayReconnectWait = 2 * time.Second

	// Messages
	MaxMessageLength = 4000
	MaxReasonLength  = 500

	// Hand-off
	DefaultIdleRevert  = 15 * time.Minute
	ReaperInterval     = 30 * time.Second
	DefaultSendLimit   = 20
	DefaultSendWindow  = 10 * time.Second
	RateLimitKeyPrefix = "ratelimit:send:"

	// Auth
	TokenIssuer    = "supportchat-service"
	DevTokenTTL    = 72 * time.Hour
	RequestTimeout = 10 * time.Second
)
