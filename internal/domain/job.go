package domain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/assetflow/internal/asset"
	"github.com/dunamismax/assetflow/internal/dataurl"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceKindURL     = "url"
	SourceKindPath    = "path"
	SourceKindObject  = "object"
	SourceKindBase64  = "base64"
	SourceKindDataURL = "data_url"
)

var ErrLocalPathsDisabled = errors.New("path sources are disabled")

// SourceSpec is the wire form of an asset.Input.
type SourceSpec struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func (s SourceSpec) normalizedKind() string {
	return strings.ToLower(strings.TrimSpace(s.Kind))
}

func (s SourceSpec) Validate() error {
	if strings.TrimSpace(s.Value) == "" {
		return errors.New("source.value is required")
	}

	switch s.normalizedKind() {
	case "":
		return errors.New("source.kind is required")
	case SourceKindURL:
		lower := strings.ToLower(s.Value)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			return fmt.Errorf("source.value must be an http or https url")
		}
	case SourceKindPath, SourceKindObject:
	case SourceKindBase64:
		if !dataurl.IsBase64(s.Value) {
			return errors.New("source.value is not valid base64")
		}
	case SourceKindDataURL:
		if !dataurl.IsBase64DataURL(s.Value, "") {
			return errors.New("source.value is not a base64 data url")
		}
	default:
		return fmt.Errorf("unsupported source.kind: %s", s.Kind)
	}
	return nil
}

// ToInput maps the source onto a pipeline input. Inline payloads are decoded
// here; a data URL keeps its declared type as a blob.
func (s SourceSpec) ToInput() (asset.Input, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	switch s.normalizedKind() {
	case SourceKindURL:
		return asset.URLInput{URL: s.Value}, nil
	case SourceKindPath:
		return asset.PathInput{Path: s.Value}, nil
	case SourceKindObject:
		return asset.ObjectInput{Key: s.Value}, nil
	case SourceKindBase64:
		data, err := base64.StdEncoding.DecodeString(s.Value)
		if err != nil {
			return nil, fmt.Errorf("decode base64 source: %w", err)
		}
		return asset.BufferInput{Data: data}, nil
	default:
		mimeType, data, err := dataurl.Parse(s.Value)
		if err != nil {
			return nil, err
		}
		return asset.BlobInput{Blob: asset.Blob{Data: data, Type: mimeType}}, nil
	}
}

type IngestRequest struct {
	Source     SourceSpec    `json:"source"`
	Options    asset.Options `json:"options"`
	WebhookURL string        `json:"webhook_url,omitempty"`
}

// Validate checks the request shape. allowLocalPaths gates path sources,
// which read from the server's filesystem.
func (r IngestRequest) Validate(allowLocalPaths bool) error {
	if err := r.Source.Validate(); err != nil {
		return err
	}
	if r.Source.normalizedKind() == SourceKindPath && !allowLocalPaths {
		return ErrLocalPathsDisabled
	}
	if err := r.Options.Validate(); err != nil {
		return err
	}
	if url := strings.ToLower(strings.TrimSpace(r.WebhookURL)); url != "" {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return errors.New("webhook_url must be an http or https url")
		}
	}
	return nil
}

// Output describes where a finished job's asset was written.
type Output struct {
	ObjectKey string `json:"object_key"`
	MIMEType  string `json:"mime_type,omitempty"`
	Bytes     int    `json:"bytes"`
	IsImage   bool   `json:"is_image"`
}

type Job struct {
	ID         string
	Status     string
	Source     SourceSpec
	Options    asset.Options
	WebhookURL string
	Output     *Output
	Usage      Usage
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Usage records how much work a job took.
type Usage struct {
	SourceBytes   int64 `json:"source_bytes"`
	OutputBytes   int64 `json:"output_bytes"`
	ComputeTimeMS int64 `json:"compute_time_ms"`
}

// Result is the terminal state a worker records for a job.
type Result struct {
	Status string
	Output *Output
	Usage  Usage
	Error  string
}
