package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/valkey-io/valkey-go"
)

// ValkeyBroker publishes through Valkey so every instance's Hub sees every event.
type ValkeyBroker struct {
	client valkey.Client
	hub    *Hub
	logger *logrus.Logger
}

func NewValkeyBroker(addr string, hub *Hub, logger *logrus.Logger) (*ValkeyBroker, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect valkey %s: %w", addr, err)
	}
	return &ValkeyBroker{client: client, hub: hub, logger: logger}, nil
}

func (b *ValkeyBroker) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	cmd := b.client.B().Publish().Channel(channel).Message(string(data)).Build()
	return b.client.Do(ctx, cmd).Error()
}

// Run relays every user and conversation channel into the local hub until ctx is done.
func (b *ValkeyBroker) Run(ctx context.Context) error {
	cmd := b.client.B().Psubscribe().Pattern(UserChannelPrefix+"*", ConversationChannelPrefix+"*").Build()

	b.logger.Info("Relaying Valkey pub/sub into local hub")
	err := b.client.Receive(ctx, cmd, func(msg valkey.PubSubMessage) {
		b.hub.Deliver(msg.Channel, []byte(msg.Message))
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("valkey subscription: %w", err)
	}
	return nil
}

func (b *ValkeyBroker) Close() {
	b.client.Close()
}
