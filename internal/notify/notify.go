// Package notify fans job state transitions out over Redis pub/sub so
// frontends can push live progress without polling.
package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"orbit/internal/pkg/logger"
	"orbit/internal/render"
)

// DefaultChannel is the pub/sub channel for job events.
const DefaultChannel = "orbit:jobs"

// Publisher implements render.EventSink on a Redis client. Publishing is
// best-effort: a down broker never fails a render.
type Publisher struct {
	rdb     *redis.Client
	channel string
	log     *logger.Logger
}

// NewPublisher builds a Publisher. channel defaults to DefaultChannel.
func NewPublisher(rdb *redis.Client, channel string, log *logger.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{
		rdb:     rdb,
		channel: channel,
		log:     log.WithComponent("notify"),
	}
}

// jobEvent is the wire form of a job transition.
type jobEvent struct {
	JobID      string   `json:"job_id"`
	State      string   `json:"state"`
	Progress   float64  `json:"progress"`
	Message    string   `json:"message"`
	ETASeconds *float64 `json:"eta_seconds"`
	Axis       string   `json:"axis,omitempty"`
}

// JobEvent publishes one snapshot.
func (p *Publisher) JobEvent(ctx context.Context, v render.View) {
	payload, err := json.Marshal(jobEvent{
		JobID:      v.ID,
		State:      string(v.State),
		Progress:   v.Progress,
		Message:    v.Message,
		ETASeconds: v.ETASeconds,
		Axis:       v.Axis,
	})
	if err != nil {
		return
	}

	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.WithJobID(v.ID).WithError(err).Debug("job event not published")
	}
}
