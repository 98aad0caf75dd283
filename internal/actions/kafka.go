package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/loqalabs/jarvis/internal/config"
	"github.com/loqalabs/jarvis/internal/protocol"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder writes JSON commands keyed by device id, so commands for
// one device stay on one partition.
type KafkaForwarder struct {
	writer messageWriter
	log    *slog.Logger
}

func NewKafkaForwarder(cfg config.KafkaConfig, log *slog.Logger) *KafkaForwarder {
	return &KafkaForwarder{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: parseAcks(cfg.RequiredAcks),
			Compression:  parseCompression(cfg.Compression),
		},
		log: log,
	}
}

func (f *KafkaForwarder) Forward(ctx context.Context, cmd protocol.DeviceCommand) error {
	value, err := encode(cmd)
	if err != nil {
		return err
	}
	err = f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(cmd.DeviceID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "command", Value: []byte(cmd.Command)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}

func parseCompression(s string) kafka.Compression {
	switch strings.ToLower(s) {
	case "", "none", "no", "off", "0":
		return kafka.Compression(0)
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}

func parseAcks(s string) kafka.RequiredAcks {
	switch strings.ToLower(s) {
	case "none":
		return kafka.RequireNone
	case "all":
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}
