package pubsub

import (
	"testing"

	"github.com/angelmondragon/ledgermatch-backend/pkg/config"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "recon-prod"}

	if got := c.topicResourceName("lm-ingest-requests"); got != "projects/recon-prod/topics/lm-ingest-requests" {
		t.Fatalf("unexpected topic name %q", got)
	}
	full := "projects/other/topics/t"
	if got := c.topicResourceName(full); got != full {
		t.Fatalf("full topic names should pass through, got %q", got)
	}
	if got := c.subscriptionResourceName(" lm-ingest-worker "); got != "projects/recon-prod/subscriptions/lm-ingest-worker" {
		t.Fatalf("unexpected subscription name %q", got)
	}
	if got := c.subscriptionResourceName(""); got != "" {
		t.Fatalf("empty name should stay empty, got %q", got)
	}
	if got := (&Client{}).subscriptionResourceName("x"); got != "" {
		t.Fatalf("missing project should yield empty name, got %q", got)
	}
}

func TestSubscriptionNames(t *testing.T) {
	names := subscriptionNames(config.PubSubConfig{IngestSubscription: "lm-ingest-worker"})
	if len(names) != 1 || names[0] != "lm-ingest-worker" {
		t.Fatalf("unexpected names %v", names)
	}
	if len(subscriptionNames(config.PubSubConfig{})) != 0 {
		t.Fatal("expected no names for empty config")
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.Subscription("x") != nil || c.Publisher("x") != nil {
		t.Fatal("nil client should return nil handles")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
