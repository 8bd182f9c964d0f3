package kafka

import "github.com/kochabx/vidchat/errors"

var (
	ErrClientClosed = errors.New(503, "kafka client is closed")
	ErrEmptyBrokers = errors.New(500, "kafka brokers are required")
	ErrEmptyTopic   = errors.New(500, "kafka topic is required")
)
