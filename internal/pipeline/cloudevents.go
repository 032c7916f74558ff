package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
)

const contentTypeCloudEvents = "application/cloudevents+json"

// CloudEventsConfig wraps each payload in a structured-mode CloudEvent. The
// payload is carried as data_base64.
type CloudEventsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Type            string `yaml:"type,omitempty"`
	Source          string `yaml:"source,omitempty"`
	Subject         string `yaml:"subject,omitempty"`
	DataContentType string `yaml:"dataContentType,omitempty"`
}

type envelope struct {
	cfg CloudEventsConfig
}

func newEnvelope(cfg CloudEventsConfig) *envelope {
	if cfg.Type == "" {
		cfg.Type = "eventlogger.event"
	}
	if cfg.Source == "" {
		cfg.Source = "event-logger"
	}
	if cfg.DataContentType == "" {
		cfg.DataContentType = "application/octet-stream"
	}
	return &envelope{cfg: cfg}
}

// wrap builds the envelope. The correlation ID doubles as the event ID, so
// the same event always maps to the same CloudEvent identity.
func (e *envelope) wrap(id string, seq uint64, at time.Time, payload []byte) ([]byte, error) {
	ce := event.New()
	ce.SetID(id)
	ce.SetType(e.cfg.Type)
	ce.SetSource(e.cfg.Source)
	ce.SetTime(at)
	if e.cfg.Subject != "" {
		ce.SetSubject(e.cfg.Subject)
	}
	ce.SetExtension("sequence", strconv.FormatUint(seq, 10))
	if err := ce.SetData(e.cfg.DataContentType, payload); err != nil {
		return nil, fmt.Errorf("cloudevent data: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return nil, fmt.Errorf("cloudevent: %w", err)
	}
	return json.Marshal(ce)
}
