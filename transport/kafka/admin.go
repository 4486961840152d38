package kafka

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Shopify/sarama"
	"github.com/purposeinplay/go-artifact/transport"
)

// TopicAdmin is the part of sarama.ClusterAdmin the transport uses.
type TopicAdmin interface {
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error)
	Close() error
}

var _ TopicAdmin = (sarama.ClusterAdmin)(nil)

// Shared topics.
const (
	PresenceTopic = "artifact.presence"
	mailboxPrefix = "artifact.mailbox."
)

// TopicName returns the kafka topic backing node on service. Characters
// kafka rejects in topic names are replaced.
func TopicName(service, node string) string {
	return sanitize(service + "." + node)
}

// MailboxTopic returns the topic holding messages addressed to bare.
func MailboxTopic(bare string) string {
	return sanitize(mailboxPrefix + bare)
}

func sanitize(s string) string {
	var b strings.Builder

	for _, r := range s {
		switch {
		case r == '@':
			b.WriteString("_at_")
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	return b.String()
}

// kafkaError extracts the broker error code from err.
func kafkaError(err error) (sarama.KError, bool) {
	var topicErr *sarama.TopicError

	if errors.As(err, &topicErr) {
		return topicErr.Err, true
	}

	var kerr sarama.KError

	if errors.As(err, &kerr) {
		return kerr, true
	}

	return 0, false
}

func isAuthError(err error) bool {
	if errors.Is(err, sarama.ErrSASLAuthenticationFailed) {
		return true
	}

	code, ok := kafkaError(err)

	return ok && code == sarama.ErrSASLAuthenticationFailed
}

// classify maps admin errors onto the transport conditions.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	code, ok := kafkaError(err)
	if !ok {
		if errors.Is(err, sarama.ErrClosedClient) {
			return fmt.Errorf("%s: %w", op, transport.ErrNotConnected)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	switch code {
	case sarama.ErrTopicAlreadyExists:
		return fmt.Errorf("%s: %w", op, transport.ErrConflict)
	case sarama.ErrTopicAuthorizationFailed, sarama.ErrClusterAuthorizationFailed:
		return fmt.Errorf("%s: %w: %v", op, transport.ErrForbidden, code)
	case sarama.ErrUnknownTopicOrPartition:
		return fmt.Errorf("%s: %w", op, transport.ErrItemNotFound)
	default:
		return fmt.Errorf("%s: %w", op, code)
	}
}

// describe fails with transport.ErrItemNotFound when topic is missing.
func describe(admin TopicAdmin, op, topic string) error {
	metadata, err := admin.DescribeTopics([]string{topic})
	if err != nil {
		return classify(op, err)
	}

	for _, m := range metadata {
		if m.Name != topic {
			continue
		}

		if m.Err != sarama.ErrNoError {
			return classify(op, m.Err)
		}

		return nil
	}

	return fmt.Errorf("%s: %w", op, transport.ErrItemNotFound)
}
