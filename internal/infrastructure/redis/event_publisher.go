package redis

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"auction-site/internal/domain"
)

const bidEventsChannel = "auction_site_events"

type EventPublisher struct {
	client *redis.Client
}

func NewEventPublisher(client *redis.Client) *EventPublisher {
	return &EventPublisher{client: client}
}

func (p *EventPublisher) PublishBidEvent(ctx context.Context, event *domain.BidEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, bidEventsChannel, payload).Err(); err != nil {
		return domain.Wrap(domain.KindStorageUnavailable, "publish bid event", err)
	}
	return nil
}
