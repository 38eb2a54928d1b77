package event

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// TopicVideoResults carries one message per successfully generated video,
// published by the webhook reconciler when it applies the terminal update.
const TopicVideoResults = "video-results"

type VideoResultMessage struct {
	TaskID   string `json:"task_id"`
	UserID   string `json:"user_id"`
	VideoURL string `json:"video_url"`
}

// Publisher publishes pipeline events to the message broker.
type Publisher struct {
	publisher message.Publisher
}

func NewPublisher(publisher message.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

func (p *Publisher) PublishVideoResult(resultMsg VideoResultMessage) error {
	payload, err := json.Marshal(resultMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal video result message: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.publisher.Publish(TopicVideoResults, msg); err != nil {
		return fmt.Errorf("failed to publish video result message: %w", err)
	}

	return nil
}
