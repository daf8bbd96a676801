package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_CanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{Queued, Queued, true},
		{Queued, Running, true},
		{Queued, Complete, true},
		{Running, Running, true},
		{Running, Complete, true},
		{Running, Queued, false},
		{Complete, Running, false},
		{Complete, Queued, false},
		{Complete, Complete, true},
		{Queued, Status("Bogus"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvanceTo(tt.to))
		})
	}
}

func TestPayload_Validate(t *testing.T) {
	assert.NoError(t, CreateStarPayload(Star{Name: "Vega"}).Validate())
	assert.Error(t, Payload{}.Validate())
	assert.Error(t, Payload{Kind: KindCreateStar}.Validate())
	assert.Error(t, Payload{Kind: "launchRocket"}.Validate())
	assert.Error(t, CreateStarPayload(Star{Name: "   "}).Validate())
	assert.Error(t, CreateStarPayload(Star{Name: strings.Repeat("x", 51)}).Validate())
	assert.NoError(t, CreateStarPayload(Star{Name: strings.Repeat("x", 50)}).Validate())
}

func TestJob_JSONShape(t *testing.T) {
	j := Job{ID: 7, Type: JobType, Status: Queued, Payload: CreateStarPayload(Star{Name: "Vega"})}

	b, err := json.Marshal(j)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": 7,
		"type": "job",
		"status": "Queued",
		"kind": "createStar",
		"createStar": {"id": 0, "name": "Vega"}
	}`, string(b))
	assert.Equal(t, "job-7", j.Key())
}
