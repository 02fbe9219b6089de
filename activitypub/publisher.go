package activitypub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/util"
)

// Publisher hands jobs to the delivery queue.
type Publisher interface {
	Publish(ctx context.Context, msg domain.JobMessage) error
}

// NewJob builds a job whose id is derived from name and key, so publishing
// the same work twice yields the same id.
func NewJob(name string, key string, payload interface{}) (domain.JobMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.JobMessage{}, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return domain.JobMessage{
		Id:   util.GetHashFromString(name + ":" + key),
		Name: name,
		Data: data,
	}, nil
}

func publish(ctx context.Context, p Publisher, name string, key string, payload interface{}) error {
	msg, err := NewJob(name, key, payload)
	if err != nil {
		return err
	}
	if err := p.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}
