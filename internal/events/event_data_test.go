package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventWithData_MarshalUnmarshalJSON_FollowerOutcome(t *testing.T) {
	original := EventWithData{
		Type:      FollowerOutcome,
		Timestamp: time.Now().Truncate(time.Second),
		Data: &FollowerOutcomeData{
			MasterOrderID:   "m1",
			FollowerAccount: "f1",
			FollowerOrderID: "fo1",
			Outcome:         "dispatched",
			LatencyMs:       12.5,
		},
	}

	raw, err := json.Marshal(&original)
	require.NoError(t, err)

	var decoded EventWithData
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, FollowerOutcome, decoded.Type)
	data, ok := decoded.Data.(*FollowerOutcomeData)
	require.True(t, ok)
	assert.Equal(t, "m1", data.MasterOrderID)
	assert.Equal(t, 12.5, data.LatencyMs)
}

func TestEventWithData_MarshalUnmarshalJSON_ReplicationSealed(t *testing.T) {
	original := EventWithData{
		Type: ReplicationSealed,
		Data: &ReplicationSealedData{MasterOrderID: "m1", Total: 5, Dispatched: 3},
	}

	raw, err := json.Marshal(&original)
	require.NoError(t, err)

	var decoded EventWithData
	require.NoError(t, json.Unmarshal(raw, &decoded))
	data, ok := decoded.Data.(*ReplicationSealedData)
	require.True(t, ok)
	assert.Equal(t, 5, data.Total)
	assert.Equal(t, 3, data.Dispatched)
}

func TestEventWithData_UnmarshalJSON_UnknownTypeLeavesDataNil(t *testing.T) {
	raw := []byte(`{"type":"something_else","data":{"foo":"bar"}}`)
	var decoded EventWithData
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Nil(t, decoded.Data)
}
