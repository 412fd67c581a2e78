package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Lynt445/ticket-system/internal/models"
)

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer}
}

// Publish writes a single keyed message to topic. A nil producer discards
// messages, which is how a deployment without Kafka runs.
func (p *Producer) Publish(topic, key string, value []byte) error {
	if p == nil || p.Writer == nil {
		return nil
	}
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

func (p *Producer) publishJSON(topic, key string, payload interface{}) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Publish(topic, key, msgBytes)
}

type TicketEvent struct {
	TicketID   string    `json:"ticket_id"`
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	TicketType string    `json:"ticket_type"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

func ticketEvent(t models.Ticket) TicketEvent {
	return TicketEvent{
		TicketID:   t.ID,
		EventID:    t.EventID,
		UserID:     t.UserID,
		TicketType: t.TicketType,
		Status:     string(t.Status),
		OccurredAt: time.Now(),
	}
}

func (p *Producer) PublishTicketActivated(t models.Ticket) error {
	return p.publishJSON(TopicTicketActivated, t.ID, ticketEvent(t))
}

func (p *Producer) PublishTicketTransferred(t models.Ticket) error {
	return p.publishJSON(TopicTicketTransferred, t.ID, ticketEvent(t))
}

func (p *Producer) PublishTicketScanned(t models.Ticket, result models.ScanResult) error {
	evt := struct {
		TicketEvent
		Result string `json:"result"`
	}{ticketEvent(t), string(result)}
	return p.publishJSON(TopicTicketScanned, t.ID, evt)
}

func (p *Producer) PublishListingSold(listing models.MarketplaceListing, buyerID string) error {
	evt := struct {
		ListingID  string    `json:"listing_id"`
		TicketID   string    `json:"ticket_id"`
		EventID    string    `json:"event_id"`
		SellerID   string    `json:"seller_id"`
		BuyerID    string    `json:"buyer_id"`
		Price      float64   `json:"price"`
		OccurredAt time.Time `json:"occurred_at"`
	}{listing.ID, listing.TicketID, listing.EventID, listing.SellerID, buyerID, listing.ListingPrice, time.Now()}
	return p.publishJSON(TopicListingSold, listing.ID, evt)
}

// Notification is the contract with the external delivery service. The core
// fires and forgets; the dispatcher owns retries and channel selection.
type Notification struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

func (p *Producer) PublishNotification(n Notification) error {
	return p.publishJSON(TopicNotifications, n.UserID, n)
}
