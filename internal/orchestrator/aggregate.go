package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/conductor/internal/backend"
	"github.com/ShayCichocki/conductor/pkg/models"
)

const synthesisPrompt = `Combine the partial answers below into one short, direct reply to the user's request.
Do not mention that the answer was assembled from parts.

User request:
%s

Partial answers:
%s`

const taskPromptTemplate = `Answer the following request directly and concisely.

Request: %s`

// taskPrompt builds the backend prompt for a task, including resolved
// parent context.
func taskPrompt(def models.TaskDefinition, query string) string {
	prompt := fmt.Sprintf(taskPromptTemplate, query)
	if c := strings.TrimSpace(def.Param("context")); c != "" {
		prompt += "\n\nContext from earlier steps:\n" + c
	}
	if loc := def.Param("location"); loc != "" {
		prompt += "\n\nLocation: " + loc
	}
	return prompt
}

// aggregate merges results in dependency order into the final answer.
func (o *Orchestrator) aggregate(ctx context.Context, s *session) *models.Answer {
	results := s.ordered()
	state := s.finalState()

	texts := make([]string, 0, len(results))
	for _, r := range results {
		if t := strings.TrimSpace(r.Text); t != "" {
			texts = append(texts, t)
		}
	}
	text := strings.Join(texts, "\n")
	if text == "" {
		text = PlaceholderText
	}

	if len(texts) > 1 && state != models.SessionFailed {
		if synth, ok := o.synthesizeAnswer(ctx, s, texts); ok {
			text = synth
		}
	}

	return &models.Answer{
		SessionID: s.id,
		Text:      text,
		Degraded:  state != models.SessionCompleted,
		State:     state,
		Results:   results,
	}
}

// synthesizeAnswer asks the backend to merge partial answers. Any failure
// keeps the joined text.
func (o *Orchestrator) synthesizeAnswer(ctx context.Context, s *session, texts []string) (string, bool) {
	if !o.synthesize || o.generator == nil || ctx.Err() != nil {
		return "", false
	}
	id := backend.ID(o.modelParams.Model)
	if !o.breaker.Allow(id) {
		return "", false
	}

	var parts strings.Builder
	for i, t := range texts {
		fmt.Fprintf(&parts, "%d. %s\n", i+1, t)
	}
	sctx, cancel := context.WithTimeout(ctx, o.timeouts.Task)
	defer cancel()
	text, err := o.generator.Generate(sctx, fmt.Sprintf(synthesisPrompt, s.query, parts.String()), o.modelParams)
	if err != nil || strings.TrimSpace(text) == "" {
		o.breaker.RecordFailure(id)
		s.logger.Warn("answer synthesis failed, using joined text", "error", err)
		return "", false
	}
	o.breaker.RecordSuccess(id)
	return strings.TrimSpace(text), true
}
