package notify

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/fleetsync/internal/pipeline"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

const (
	// StageCompletedType is the CloudEvents type of stage events.
	StageCompletedType = "com.fleetsync.pipeline.stage.completed"
	DefaultSource      = "fleetsync/stage-completer"
)

// Sender is the part of the CloudEvents client used here.
type Sender interface {
	Send(ctx context.Context, e cloudevents.Event) cloudevents.Result
}

// CloudEvents publishes stage events to an HTTP endpoint as CloudEvents.
type CloudEvents struct {
	client Sender
	target string
	source string
}

// NewCloudEvents returns a notifier sending to target over HTTP.
func NewCloudEvents(target, source string) (*CloudEvents, error) {
	if target == "" {
		return nil, fmt.Errorf("cloudevents target must be set")
	}
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("failed to create CloudEvents client: %w", err)
	}
	return NewCloudEventsWithSender(client, target, source), nil
}

// NewCloudEventsWithSender uses an existing client.
func NewCloudEventsWithSender(client Sender, target, source string) *CloudEvents {
	if source == "" {
		source = DefaultSource
	}
	return &CloudEvents{client: client, target: target, source: source}
}

func (c *CloudEvents) Notify(ctx context.Context, e pipeline.StageCompleted) error {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(c.source)
	event.SetType(StageCompletedType)
	event.SetSubject(e.RecordID)
	event.SetTime(e.CompletedAt)
	if e.TenantID != "" {
		event.SetExtension("tenantid", e.TenantID)
	}
	if err := event.SetData(cloudevents.ApplicationJSON, e); err != nil {
		return fmt.Errorf("failed to encode stage event: %w", err)
	}

	if c.target != "" {
		ctx = cloudevents.ContextWithTarget(ctx, c.target)
	}
	if result := c.client.Send(ctx, event); !cloudevents.IsACK(result) {
		return fmt.Errorf("failed to send stage event for %s/%s: %w", e.RecordID, e.Stage, result)
	}
	return nil
}
