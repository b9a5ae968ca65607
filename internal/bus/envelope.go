package bus

import (
	"encoding/json"
	"time"

	"fincontrol/pkg/exception"

	"github.com/google/uuid"
)

// MessageType is the topic a message is addressed to.
type MessageType string

const (
	TypeBudgetRequest         MessageType = "BUDGET_REQUEST"
	TypeFundAllocationRequest MessageType = "FUND_ALLOCATION_REQUEST"
	TypeRiskAssessmentResult  MessageType = "RISK_ASSESSMENT_RESULT"
	TypeEmergencyStop         MessageType = "EMERGENCY_STOP"
	TypeSystemRecovery        MessageType = "SYSTEM_RECOVERY"
	TypeSystemStatus          MessageType = "SYSTEM_STATUS"
)

func (t MessageType) IsAvailable() bool {
	switch t {
	case TypeBudgetRequest, TypeFundAllocationRequest, TypeRiskAssessmentResult,
		TypeEmergencyStop, TypeSystemRecovery, TypeSystemStatus:
		return true
	default:
		return false
	}
}

// Message is the envelope carried on every bus topic. Data stays raw until a
// handler decodes it through DecodePayload; handlers must tolerate duplicate
// delivery of the same logical message.
type Message struct {
	ID            string          `json:"id"`
	Type          MessageType     `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	Data          json.RawMessage `json:"data"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// NewMessage builds an envelope with a fresh id and the current timestamp.
func NewMessage(msgType MessageType, source string, payload any) (Message, error) {
	if !msgType.IsAvailable() {
		return Message{}, exception.ErrBusUnknownMessageType
	}
	if source == "" {
		return Message{}, exception.ErrBusEmptySource
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      raw,
	}, nil
}

// Reply builds a response envelope carrying the request's correlation id.
func (m Message) Reply(source string, payload any) (Message, error) {
	resp, err := NewMessage(TypeSystemStatus, source, payload)
	if err != nil {
		return Message{}, err
	}
	resp.CorrelationID = m.CorrelationID
	if resp.CorrelationID == "" {
		resp.CorrelationID = m.ID
	}
	return resp, nil
}

// Validate checks the envelope fields that every message must carry.
func (m Message) Validate() error {
	if !m.Type.IsAvailable() {
		return exception.ErrBusUnknownMessageType
	}
	if m.Source == "" {
		return exception.ErrBusEmptySource
	}
	return nil
}
