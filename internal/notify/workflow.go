package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/fleetsync/internal/pipeline"
	"github.com/googleapis/gax-go/v2"
)

// ExecutionCreator is implemented by the Workflows executions client.
type ExecutionCreator interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// Workflow starts one execution of a Cloud Workflow per stage event, passing
// the event as the workflow argument.
type Workflow struct {
	client ExecutionCreator
	parent string
}

// NewWorkflow targets projects/{project}/locations/{location}/workflows/{workflow}.
func NewWorkflow(client ExecutionCreator, projectID, location, workflowID string) *Workflow {
	return &Workflow{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}
}

func (w *Workflow) Notify(ctx context.Context, e pipeline.StageCompleted) error {
	payload := map[string]any{
		"recordId":    e.RecordID,
		"stage":       e.Stage,
		"completedAt": e.CompletedAt,
		"progress":    e.Progress,
	}
	if e.TenantID != "" {
		payload["tenantId"] = e.TenantID
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: w.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	if _, err := w.client.CreateExecution(ctx, req); err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return nil
}
