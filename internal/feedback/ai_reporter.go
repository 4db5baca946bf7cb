package feedback

import (
	"context"
	"strings"

	"github.com/gradekit/gradesvc/internal/grading"
)

// CompletionProvider is the narrow LLM-backend seam the AI-backed
// reporter drives. Grounded on internal/brain/provider.go's LLMProvider
// interface (Complete/Name/Models) — generalized down to just Complete,
// since the reporter doesn't need model enumeration or provider identity.
type CompletionProvider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AIReporter renders feedback by handing the structured renderer's
// output to an LLM as grounding context and asking for a friendlier
// rewrite (spec §2: "AI-backed rendering is an external collaborator").
// It never invents scores or test outcomes — the structured report it
// builds first is the sole source of truth passed to the model.
type AIReporter struct {
	Provider CompletionProvider
	Fallback Reporter // used if Provider is nil or Complete errors
}

const aiSystemPrompt = "You are a programming instructor giving feedback on a graded assignment. " +
	"Rewrite the structured report you are given into encouraging, specific prose. " +
	"Do not invent test results, scores, or requirements not present in the report."

func (r AIReporter) Render(tree *grading.Tree, scores grading.Scores, focus []FocusEntry, cfg RenderConfig) (string, error) {
	structured, err := (StructuredReporter{}).Render(tree, scores, focus, cfg)
	if err != nil {
		return "", err
	}

	if r.Provider == nil {
		return r.renderFallback(structured, tree, scores, focus, cfg)
	}

	rewritten, err := r.Provider.Complete(context.Background(), aiSystemPrompt, structured)
	if err != nil {
		return r.renderFallback(structured, tree, scores, focus, cfg)
	}
	return strings.TrimSpace(rewritten), nil
}

func (r AIReporter) renderFallback(structured string, tree *grading.Tree, scores grading.Scores, focus []FocusEntry, cfg RenderConfig) (string, error) {
	if r.Fallback != nil {
		return r.Fallback.Render(tree, scores, focus, cfg)
	}
	return structured, nil
}
