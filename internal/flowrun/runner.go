package flowrun

import (
	"context"
	"fmt"
	"strings"

	"github.com/scriptorium-ai/creditd/pkg/credits"
)

// GenerationRequest describes one generation flow invocation.
type GenerationRequest struct {
	FlowName     string
	Prompt       string
	TargetWords  int64
	CurrentWords int64
	ProjectID    string
}

// GenerationResult is the delivered output with its charged cost.
type GenerationResult struct {
	Text         string
	WordsCharged int64
}

// Runner wraps generation flows with the credit preflight gate and the usage
// recorder: insufficiency fails before any provider call is issued, and only
// a delivered output is debited, at its actual word count.
type Runner struct {
	ledger       *credits.Service
	registry     *Registry
	policy       RetryPolicy
	minimumFloor int64
}

// NewRunner wires a Runner.
func NewRunner(ledger *credits.Service, registry *Registry, policy RetryPolicy, minimumFloor int64) (*Runner, error) {
	if ledger == nil || registry == nil {
		return nil, fmt.Errorf("%w: ledger and registry are required", ErrInvalidRetryPolicy)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if minimumFloor < 0 {
		minimumFloor = 0
	}
	return &Runner{ledger: ledger, registry: registry, policy: policy, minimumFloor: minimumFloor}, nil
}

// EstimateCost computes the preflight estimate for a request.
func (runner *Runner) EstimateCost(request GenerationRequest) int64 {
	estimate := request.TargetWords - request.CurrentWords
	if estimate < runner.minimumFloor {
		estimate = runner.minimumFloor
	}
	return estimate
}

// Run executes one flow: preflight, provider call with bounded retry, then a
// debit for the actual delivered word count. A failed or cancelled generation
// never reaches the debit.
func (runner *Runner) Run(ctx context.Context, userID credits.UserID, request GenerationRequest) (GenerationResult, error) {
	estimate, err := credits.NewAmount(runner.EstimateCost(request))
	if err != nil {
		return GenerationResult{}, fmt.Errorf("cost estimate: %w", err)
	}
	if err := runner.ledger.PreflightCheck(ctx, userID, credits.CategoryWords, estimate); err != nil {
		return GenerationResult{}, err
	}
	provider, err := runner.registry.Resolve(request.FlowName)
	if err != nil {
		return GenerationResult{}, err
	}

	var text string
	generationError := runner.policy.Do(ctx, func(ctx context.Context) error {
		generated, err := provider.Generate(ctx, request.Prompt)
		if err != nil {
			return err
		}
		text = generated
		return nil
	})
	if generationError != nil {
		return GenerationResult{}, generationError
	}

	actual := CountWords(text)
	if actual == 0 {
		return GenerationResult{Text: text}, nil
	}
	amount, err := credits.NewAmount(actual)
	if err != nil {
		return GenerationResult{}, err
	}
	metadata, err := credits.NewMetadataJSON(fmt.Sprintf(`{"flow":%q,"project_id":%q}`, request.FlowName, request.ProjectID))
	if err != nil {
		return GenerationResult{}, err
	}
	if _, err := runner.ledger.Debit(ctx, userID, credits.CategoryWords, amount, credits.TxnUsage, request.FlowName, metadata); err != nil {
		return GenerationResult{}, err
	}
	return GenerationResult{Text: text, WordsCharged: actual}, nil
}

// CountWords reports the whitespace-delimited word count of generated text.
func CountWords(text string) int64 {
	return int64(len(strings.Fields(text)))
}
