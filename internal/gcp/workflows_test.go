package gcp

import (
	"testing"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/documentrouting/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobResultFromExecution(t *testing.T) {
	tests := []struct {
		state executionspb.Execution_State
		want  models.JobStatus
	}{
		{executionspb.Execution_ACTIVE, models.JobInProgress},
		{executionspb.Execution_QUEUED, models.JobInProgress},
		{executionspb.Execution_FAILED, models.JobFailed},
		{executionspb.Execution_CANCELLED, models.JobFailed},
	}
	for _, tt := range tests {
		got, err := jobResultFromExecution(&executionspb.Execution{Name: "exec-1", State: tt.state})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Status, tt.state.String())
	}
}

func TestJobResultFromSucceededExecution(t *testing.T) {
	exec := &executionspb.Execution{
		Name:   "exec-1",
		State:  executionspb.Execution_SUCCEEDED,
		Result: `{"blocks":[{"blockType":"LINE","text":"Delivery note","confidence":98.5,"page":1,"geometry":{"left":0.1,"top":0.05,"width":0.4,"height":0.02}}]}`,
	}

	got, err := jobResultFromExecution(exec)

	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, got.Status)
	require.Len(t, got.Blocks, 1)
	assert.Equal(t, "Delivery note", got.Blocks[0].Text)
	assert.InDelta(t, 0.4, got.Blocks[0].Geometry.Width, 1e-9)
}

func TestJobResultFromSucceededExecutionWithBadResult(t *testing.T) {
	_, err := jobResultFromExecution(&executionspb.Execution{
		Name:   "exec-1",
		State:  executionspb.Execution_SUCCEEDED,
		Result: "not json",
	})
	require.Error(t, err)
}
