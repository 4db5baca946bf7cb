package pipeline

// ExecutionResponse is the outbound wire shape of a finished
// PipelineExecution (spec §6 "Pipeline execution response shape").
type ExecutionResponse struct {
	Status     string             `json:"status"`
	FinalScore *float64           `json:"final_score"`
	Feedback   *string            `json:"feedback"`
	ResultTree any                `json:"result_tree"`
	Execution  ExecutionTraceView `json:"pipeline_execution"`
}

// ExecutionTraceView is the `pipeline_execution` sub-object of
// ExecutionResponse.
type ExecutionTraceView struct {
	FailedAtStep      *string    `json:"failed_at_step"`
	TotalStepsPlanned int        `json:"total_steps_planned"`
	StepsCompleted    int        `json:"steps_completed"`
	ExecutionTimeMs   int64      `json:"execution_time_ms"`
	Steps             []StepView `json:"steps"`
}

// StepView is one entry of ExecutionTraceView.Steps.
type StepView struct {
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	Message      string         `json:"message,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
}

// plannedSteps returns how many of the seven stages this pipeline's
// Config would run for any submission, used to report
// total_steps_planned regardless of how the run actually ended.
func (p *Pipeline) plannedSteps() int {
	n := 3 // LOAD_TEMPLATE, BUILD_TREE, GRADE always run
	if p.config.SetupConfig != nil {
		n++
	}
	if p.config.FeedbackEnabled {
		n += 2 // FOCUS, FEEDBACK
	}
	if p.config.ExportEnabled {
		n++
	}
	return n
}

// ToResponse renders a finished execution into spec §6's outbound shape.
func (p *Pipeline) ToResponse(exec *PipelineExecution) ExecutionResponse {
	resp := ExecutionResponse{
		Status:     string(exec.Status),
		FinalScore: exec.Result.FinalScore,
		ResultTree: resultTreeOrNil(exec),
		Execution: ExecutionTraceView{
			TotalStepsPlanned: p.plannedSteps(),
			StepsCompleted:    len(exec.Steps),
			ExecutionTimeMs:   exec.FinishedAt.Sub(exec.StartedAt).Milliseconds(),
		},
	}
	if exec.Result.Feedback != "" {
		feedback := exec.Result.Feedback
		resp.Feedback = &feedback
	}
	if exec.Status != StatusSuccess {
		failedAt := string(exec.FailedAt)
		resp.Execution.FailedAtStep = &failedAt
	}
	for _, step := range exec.Steps {
		resp.Execution.Steps = append(resp.Execution.Steps, StepView{
			Name:         string(step.Stage),
			Status:       step.Status,
			Message:      step.Message,
			ErrorDetails: step.ErrorDetails,
		})
	}
	return resp
}

func resultTreeOrNil(exec *PipelineExecution) any {
	if exec.Result.ResultTree == nil {
		return nil
	}
	return exec.Result.ResultTree
}
