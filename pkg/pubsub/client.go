// Package pubsub publishes outbox events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/pharmaflow-backend/pkg/config"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub topic is required")
	errClosed            = errors.New("pubsub client closed")
)

// Message is one event bound for a topic. OrderingKey keeps events for the
// same aggregate in order.
type Message struct {
	Topic       string
	OrderingKey string
	Data        []byte
	Attributes  map[string]string
}

// Client keeps one ordered publisher per topic for the life of the process.
type Client struct {
	raw       *gcppubsub.Client
	projectID string
	topic     string

	mu         sync.Mutex
	publishers map[string]*gcppubsub.Publisher
}

// NewClient dials Pub/Sub and fails fast when the domain topic is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	raw, err := gcppubsub.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("dial pubsub: %w", err)
	}
	c := &Client{
		raw:        raw,
		projectID:  projectID,
		topic:      cfg.DomainTopic,
		publishers: make(map[string]*gcppubsub.Publisher),
	}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"project": projectID, "topic": cfg.DomainTopic}), "pubsub client ready")
	}
	return c, nil
}

// clientOptions prefers inline credentials over a credentials file. With
// neither set the library falls back to application default credentials.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if strings.TrimSpace(gcp.CredentialsJSON) != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	}
	if strings.TrimSpace(gcp.ApplicationCredentials) != "" {
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// Ping checks that the domain topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.raw == nil {
		return errClosed
	}
	path := topicPath(c.projectID, c.topic)
	if path == "" {
		return errTopicRequired
	}
	_, err := c.raw.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: path})
	switch {
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q does not exist", c.topic)
	case err != nil:
		return fmt.Errorf("get topic %q: %w", c.topic, err)
	}
	return nil
}

// Publish blocks until the server acknowledges msg and returns its server id.
// A failed ordered publish pauses its key, so the key is resumed before the
// error is returned to let the outbox retry it.
func (c *Client) Publish(ctx context.Context, msg Message) (string, error) {
	pub, err := c.publisher(msg.Topic)
	if err != nil {
		return "", err
	}
	id, err := pub.Publish(ctx, &gcppubsub.Message{
		Data:        msg.Data,
		Attributes:  msg.Attributes,
		OrderingKey: msg.OrderingKey,
	}).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			pub.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish to %s: %w", msg.Topic, err)
	}
	return id, nil
}

func (c *Client) publisher(topic string) (*gcppubsub.Publisher, error) {
	if c == nil || c.raw == nil {
		return nil, errClosed
	}
	if topic == "" {
		topic = c.topic
	}
	path := topicPath(c.projectID, topic)
	if path == "" {
		return nil, errTopicRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishers == nil {
		return nil, errClosed
	}
	if pub, ok := c.publishers[path]; ok {
		return pub, nil
	}
	pub := c.raw.Publisher(path)
	pub.EnableMessageOrdering = true
	c.publishers[path] = pub
	return pub, nil
}

// Close flushes every publisher before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	c.mu.Lock()
	for _, pub := range c.publishers {
		pub.Stop()
	}
	c.publishers = nil
	c.mu.Unlock()
	return c.raw.Close()
}

// topicPath accepts a bare topic id or a full resource name.
func topicPath(projectID, topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ""
	}
	if strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/") {
		return topic
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/topics/" + topic
}
