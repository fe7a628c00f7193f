package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/assetflow/internal/asset"
	"github.com/dunamismax/assetflow/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeIngestAsset = "asset:ingest"

type IngestPayload struct {
	JobID       string            `json:"job_id"`
	Source      domain.SourceSpec `json:"source"`
	Options     asset.Options     `json:"options"`
	WebhookURL  string            `json:"webhook_url,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}

func NewIngestTask(payload IngestPayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("ingest payload: job_id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ingest payload: %w", err)
	}
	return asynq.NewTask(TypeIngestAsset, body), nil
}

func ParseIngestPayload(task *asynq.Task) (IngestPayload, error) {
	var payload IngestPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return IngestPayload{}, fmt.Errorf("unmarshal ingest payload: %w", err)
	}
	return payload, nil
}
