package bus

import (
	"encoding/json"
	"testing"

	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBudgetRequestPayload(t *testing.T) {
	raw := `{
		"strategyId": 7,
		"requestType": "initial",
		"requestedAmount": 5000.50,
		"priority": "high",
		"justification": "scale out the grid strategy",
		"requestedBy": "trading-engine",
		"expiresIn": 24
	}`
	m := Message{Type: TypeBudgetRequest, Source: "trading-engine", Data: json.RawMessage(raw)}

	decoded, err := DecodePayload(m)
	require.NoError(t, err)
	payload, ok := decoded.(BudgetRequestPayload)
	require.True(t, ok)

	assert.Equal(t, int64(7), payload.StrategyID)
	assert.Equal(t, enum.BudgetRequestInitial, payload.RequestType)
	assert.Equal(t, enum.PriorityHigh, payload.Priority)
	assert.Equal(t, 24, payload.ExpiresInHours)
	assert.Equal(t, model.Amount(500050), payload.RequestedAmount)
}

func TestDecodeAmountsAcceptNumbersAndStrings(t *testing.T) {
	for _, raw := range []string{`5000.50`, `"5000.50"`} {
		data := `{"strategyId":1,"allocationType":"initial","requestedAmount":` + raw + `,"riskLevel":"low","allocatedBy":"ops"}`
		m := Message{Type: TypeFundAllocationRequest, Source: "ops", Data: json.RawMessage(data)}

		decoded, err := DecodePayload(m)
		require.NoErrorf(t, err, "amount %s", raw)
		payload, ok := decoded.(AllocationRequestPayload)
		require.True(t, ok)
		assert.Equalf(t, model.Amount(500050), payload.RequestedAmount, "amount %s", raw)
	}
}

func TestDecodeEmergencyCommand(t *testing.T) {
	raw := `{"action":"stop","scope":"strategy","targetId":"2","reason":"drawdown breach","severity":"critical","initiatedBy":"ops"}`
	for _, msgType := range []MessageType{TypeEmergencyStop, TypeSystemRecovery} {
		m := Message{Type: msgType, Source: "master-control", Data: json.RawMessage(raw)}
		decoded, err := DecodePayload(m)
		require.NoError(t, err)
		cmd, ok := decoded.(EmergencyCommand)
		require.True(t, ok)
		assert.Equal(t, enum.EmergencyActionStop, cmd.Action)
		assert.Equal(t, enum.EmergencyScopeStrategy, cmd.Scope)
		assert.Equal(t, "2", cmd.TargetID)
	}
}

func TestDecodeSystemStatusSubTags(t *testing.T) {
	cases := []struct {
		name string
		data string
		want any
	}{
		{"heartbeat", `{"type":"heartbeat","moduleName":"risk-engine","cpuUsage":12.5}`, Heartbeat{}},
		{"budget response", `{"type":"budget_response","success":true}`, BudgetResponse{}},
		{"allocation response", `{"type":"allocation_response","success":true}`, AllocationResponse{}},
		{"alert", `{"type":"alert_created","alertType":"high_cpu","severity":"warning"}`, AlertNotice{}},
		{"ack", `{"type":"emergency_ack","moduleName":"trading-engine","accepted":true}`, EmergencyAck{}},
		{"status request", `{"type":"status_request"}`, StatusRequest{}},
	}
	for _, c := range cases {
		m := Message{Type: TypeSystemStatus, Source: "x", Data: json.RawMessage(c.data)}
		decoded, err := DecodePayload(m)
		require.NoErrorf(t, err, "case %s", c.name)
		assert.IsTypef(t, c.want, decoded, "case %s", c.name)
	}
}

func TestDecodeUnknownSubTagFails(t *testing.T) {
	m := Message{Type: TypeSystemStatus, Source: "x", Data: json.RawMessage(`{"type":"mystery"}`)}
	_, err := DecodePayload(m)
	assert.Error(t, err)
}

func TestReplyCarriesCorrelation(t *testing.T) {
	req, err := NewMessage(TypeBudgetRequest, "caller", BudgetRequestPayload{StrategyID: 1})
	require.NoError(t, err)

	reply, err := req.Reply("core", BudgetResponse{SubType: SubTypeBudgetResponse})
	require.NoError(t, err)
	assert.Equal(t, TypeSystemStatus, reply.Type)
	assert.Equal(t, req.ID, reply.CorrelationID)

	req.CorrelationID = "existing"
	reply, err = req.Reply("core", BudgetResponse{SubType: SubTypeBudgetResponse})
	require.NoError(t, err)
	assert.Equal(t, "existing", reply.CorrelationID)
}

func TestNewMessageValidation(t *testing.T) {
	_, err := NewMessage("BOGUS", "src", nil)
	assert.Error(t, err)

	_, err = NewMessage(TypeSystemStatus, "", nil)
	assert.Error(t, err)
}
