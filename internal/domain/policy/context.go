package policy

import "context"

// evaluationKey is the context key type for the in-flight Evaluation.
type evaluationKey struct{}

// WithEvaluation stores an Evaluation in the context so downstream stages
// of the orchestrator (audit, capability upgrade, approval creation) can
// read the decision the evaluator already made without threading an extra
// parameter through every call.
func WithEvaluation(ctx context.Context, e *Evaluation) context.Context {
	return context.WithValue(ctx, evaluationKey{}, e)
}

// EvaluationFromContext retrieves the Evaluation stored by WithEvaluation.
// Returns nil if none is present.
func EvaluationFromContext(ctx context.Context) *Evaluation {
	e, _ := ctx.Value(evaluationKey{}).(*Evaluation)
	return e
}
