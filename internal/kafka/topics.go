package kafka

import (
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TopicTicketActivated   = "ticketly.tickets.activated"
	TopicTicketTransferred = "ticketly.tickets.transferred"
	TopicTicketScanned     = "ticketly.tickets.scanned"
	TopicListingSold       = "ticketly.marketplace.sold"
	TopicNotifications     = "ticketly.notifications"
)

func AllTopics() []string {
	return []string{
		TopicTicketActivated,
		TopicTicketTransferred,
		TopicTicketScanned,
		TopicListingSold,
		TopicNotifications,
	}
}

// EnsureTopicsExist creates the given topics if they are not present yet.
// Individual failures are non-fatal; publishing retries topic creation on
// demand.
func EnsureTopicsExist(brokers []string, topics []string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		cfg := kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
		if err := controllerConn.CreateTopics(cfg); err != nil {
			// "already exists" is fine; anything else is retried lazily.
			continue
		}
	}

	// Give the broker a moment to propagate metadata.
	time.Sleep(1 * time.Second)
	return nil
}

// CreateTopicIfNotExists creates a single topic if it doesn't exist.
func CreateTopicIfNotExists(brokers []string, topic string) error {
	return EnsureTopicsExist(brokers, []string{topic})
}
