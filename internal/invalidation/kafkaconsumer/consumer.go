// Package kafkaconsumer consumes listing-change events and evicts the tile
// cache entries whose viewports cover the changed listing.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/casavista/listing-tile-cache/internal/invalidation"
	"github.com/casavista/listing-tile-cache/internal/observability"
)

// KeyLookup resolves a coordinate to the tile keys whose viewports cover it.
type KeyLookup interface {
	KeysForPoint(ctx context.Context, lat, lng float64) ([]string, error)
}

// Dropper evicts tile keys from the cache.
type Dropper interface {
	Drop(ctx context.Context, keys ...string) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	index  KeyLookup
	cache  Dropper
}

func New(cfg Config, logger *slog.Logger, index KeyLookup, cache Dropper) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg.withDefaults(), logger: logger, index: index, cache: cache}
}

// Start joins the consumer group and processes events until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.index == nil || c.cache == nil {
		return errors.New("kafkaconsumer: missing dependencies (index/cache)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("listing-change consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("listing-change consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "topic", c.cfg.Topic, "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single listing-change message. Malformed events are
// counted and skipped; cache failures return an error so the message is not
// committed and the group retries it.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncInvalidation("decode_error")
		c.logger.Warn("listing-change event undecodable, skipping",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.IncInvalidation("invalid")
		c.logger.Warn("listing-change event invalid, skipping",
			"listing_id", ev.ListingID, "op", ev.Op, "err", err)
		return nil
	}

	keys, err := c.index.KeysForPoint(ctx, ev.Lat, ev.Lng)
	if err != nil {
		observability.IncInvalidation("index_error")
		return fmt.Errorf("key lookup for listing %s: %w", ev.ListingID, err)
	}
	if len(keys) == 0 {
		observability.IncInvalidation("no_tiles")
		return nil
	}

	if err := c.cache.Drop(ctx, keys...); err != nil {
		observability.IncInvalidation("drop_error")
		return fmt.Errorf("drop %d tile keys: %w", len(keys), err)
	}

	observability.IncInvalidation("ok")
	c.logger.Debug("tiles invalidated",
		"listing_id", ev.ListingID, "op", ev.Op, "keys", len(keys))
	return nil
}
