package consumer

import (
	"encoding/json"
	"fmt"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// JSONEventParser implements MessageParser for JSON raw event messages.
type JSONEventParser struct{}

// NewJSONEventParser creates a JSON event parser.
func NewJSONEventParser() *JSONEventParser {
	return &JSONEventParser{}
}

// Parse parses a JSON message body into a raw event. A body missing its
// tenant or event name is malformed; ingestion could never route it.
func (p *JSONEventParser) Parse(body []byte) (*domain.RawEvent, error) {
	var raw domain.RawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message body: %w", err)
	}
	if raw.TenantID == "" {
		return nil, fmt.Errorf("message carries no tenant id")
	}
	if raw.Name == "" {
		return nil, fmt.Errorf("message carries no event name")
	}
	if raw.Source == "" {
		raw.Source = domain.SourceWebhook
	}
	return &raw, nil
}
