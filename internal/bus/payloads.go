package bus

import (
	"encoding/json"

	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
	"fincontrol/pkg/exception"

	"github.com/yanun0323/errors"
)

// Sub-tags carried in data.type for SYSTEM_STATUS messages.
const (
	SubTypeHeartbeat          = "heartbeat"
	SubTypeBudgetResponse     = "budget_response"
	SubTypeAllocationResponse = "allocation_response"
	SubTypeAlertCreated       = "alert_created"
	SubTypeEmergencyAck       = "emergency_ack"
	SubTypeStatusRequest      = "status_request"
	SubTypeStatusReport       = "status_report"
	SubTypeAccountHealthIssue = "account_health_issue"
)

// BudgetRequestPayload is the data of a BUDGET_REQUEST message. Amounts come
// in as JSON numbers or quoted decimal strings; both decode into model.Amount.
type BudgetRequestPayload struct {
	StrategyID      int64                  `json:"strategyId"`
	RequestType     enum.BudgetRequestType `json:"requestType"`
	RequestedAmount model.Amount           `json:"requestedAmount"`
	Priority        enum.Priority          `json:"priority"`
	Justification   string                 `json:"justification"`
	RequestedBy     string                 `json:"requestedBy"`
	ExpiresInHours  int                    `json:"expiresIn,omitempty"`
}

// AllocationRequestPayload is the data of a FUND_ALLOCATION_REQUEST message.
type AllocationRequestPayload struct {
	StrategyID      int64               `json:"strategyId"`
	AllocationType  enum.AllocationType `json:"allocationType"`
	RequestedAmount model.Amount        `json:"requestedAmount"`
	AllocationRatio *float64            `json:"allocationRatio,omitempty"`
	RiskLevel       enum.RiskLevel      `json:"riskLevel"`
	AllocatedBy     string              `json:"allocatedBy"`
	Reason          string              `json:"reason"`
}

// EmergencyCommand is the data of EMERGENCY_STOP and SYSTEM_RECOVERY messages.
type EmergencyCommand struct {
	Action      enum.EmergencyAction `json:"action"`
	Scope       enum.EmergencyScope  `json:"scope"`
	TargetID    string               `json:"targetId,omitempty"`
	Reason      string               `json:"reason"`
	Severity    enum.CommandSeverity `json:"severity"`
	InitiatedBy string               `json:"initiatedBy"`
}

// RiskAssessmentResult updates the cached risk level of a strategy.
type RiskAssessmentResult struct {
	StrategyID int64          `json:"strategyId"`
	RiskLevel  enum.RiskLevel `json:"riskLevel"`
	Score      float64        `json:"score,omitempty"`
	AssessedBy string         `json:"assessedBy"`
}

// Heartbeat is a SYSTEM_STATUS sub-payload reporting module liveness.
type Heartbeat struct {
	SubType     string  `json:"type"`
	ModuleName  string  `json:"moduleName"`
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
	ErrorCount  int64   `json:"errorCount"`
}

// BudgetResponse reports the outcome of a budget submission or review.
type BudgetResponse struct {
	SubType        string                   `json:"type"`
	Success        bool                     `json:"success"`
	RequestID      string                   `json:"requestId,omitempty"`
	Status         enum.BudgetRequestStatus `json:"status,omitempty"`
	ApprovedAmount model.Amount             `json:"approvedAmount,omitempty"`
	AutoApproved   bool                     `json:"autoApproved,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

// AllocationResponse reports the outcome of an allocation request.
type AllocationResponse struct {
	SubType         string       `json:"type"`
	Success         bool         `json:"success"`
	AllocationID    string       `json:"allocationId,omitempty"`
	AllocatedAmount model.Amount `json:"allocatedAmount,omitempty"`
	AllocationRatio float64      `json:"allocationRatio,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// AlertNotice re-publishes a drained alert for other modules.
type AlertNotice struct {
	SubType      string        `json:"type"`
	AlertType    string        `json:"alertType"`
	Severity     enum.Severity `json:"severity"`
	SourceModule string        `json:"sourceModule"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	EventID      string        `json:"eventId,omitempty"`
}

// EmergencyAck acknowledges a stop or recovery broadcast.
type EmergencyAck struct {
	SubType    string `json:"type"`
	ModuleName string `json:"moduleName"`
	Action     string `json:"action"`
	Accepted   bool   `json:"accepted"`
}

// StatusRequest asks the core for a status report.
type StatusRequest struct {
	SubType string `json:"type"`
}

// StatusReport is the reply to a StatusRequest.
type StatusReport struct {
	SubType        string               `json:"type"`
	HealthScore    int                  `json:"healthScore"`
	EmergencyStop  bool                 `json:"emergencyStop"`
	Modules        []model.ModuleStatus `json:"modules"`
	PendingBudgets int                  `json:"pendingBudgets"`
}

type subTagProbe struct {
	Type string `json:"type"`
}

// DecodePayload decodes the envelope data as a tagged union keyed by
// (message type, data.type). Handlers should use this instead of decoding
// ad hoc.
func DecodePayload(m Message) (any, error) {
	switch m.Type {
	case TypeBudgetRequest:
		return decodeAs[BudgetRequestPayload](m.Data)
	case TypeFundAllocationRequest:
		return decodeAs[AllocationRequestPayload](m.Data)
	case TypeRiskAssessmentResult:
		return decodeAs[RiskAssessmentResult](m.Data)
	case TypeEmergencyStop, TypeSystemRecovery:
		return decodeAs[EmergencyCommand](m.Data)
	case TypeSystemStatus:
		var probe subTagProbe
		if err := json.Unmarshal(m.Data, &probe); err != nil {
			return nil, errors.Wrap(err, "probe data.type")
		}
		switch probe.Type {
		case SubTypeHeartbeat:
			return decodeAs[Heartbeat](m.Data)
		case SubTypeBudgetResponse:
			return decodeAs[BudgetResponse](m.Data)
		case SubTypeAllocationResponse:
			return decodeAs[AllocationResponse](m.Data)
		case SubTypeAlertCreated, SubTypeAccountHealthIssue:
			return decodeAs[AlertNotice](m.Data)
		case SubTypeEmergencyAck:
			return decodeAs[EmergencyAck](m.Data)
		case SubTypeStatusRequest:
			return decodeAs[StatusRequest](m.Data)
		case SubTypeStatusReport:
			return decodeAs[StatusReport](m.Data)
		default:
			return nil, errors.Wrap(exception.ErrBusUnknownPayload, "system status").With("subType", probe.Type)
		}
	default:
		return nil, exception.ErrBusUnknownMessageType
	}
}

func decodeAs[T any](raw json.RawMessage) (T, error) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, errors.Wrap(err, "decode payload")
	}
	return payload, nil
}
