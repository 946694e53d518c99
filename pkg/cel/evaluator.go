package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

// Evaluator compiles and runs optional per-rule CEL expressions. The
// expression is evaluated against a flattened view of the transaction and
// must return bool; it is combined (AND) with the rule's condition groups
// by the engine.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		// "type" is reserved by CEL itself, so the transaction type is
		// exposed as transaction_type.
		cel.Variable("transaction_type", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("note", cel.StringType),
		cel.Variable("recipient_note", cel.StringType),
		cel.Variable("place", cel.StringType),
		cel.Variable("partner", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("account", cel.StringType),
		cel.Variable("target_iban", cel.StringType),
		cel.Variable("source_iban", cel.StringType),
		cel.Variable("date", cel.TimestampType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("reconciled", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

func (e *Evaluator) Evaluate(ctx context.Context, expression string, tx *models.Transaction) (bool, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return false, fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("failed to create CEL program: %w", err)
	}

	result, _, err := program.ContextEval(ctx, e.transactionVars(tx))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func (e *Evaluator) transactionVars(tx *models.Transaction) map[string]interface{} {
	tags := tx.Tags
	if tags == nil {
		tags = []string{}
	}

	return map[string]interface{}{
		"amount":           tx.Amount,
		"currency":         tx.Currency,
		"transaction_type": tx.Type,
		"description":      tx.Description,
		"note":             tx.Note,
		"recipient_note":   tx.RecipientNote,
		"place":            tx.Place,
		"partner":          tx.PartnerName,
		"category":         tx.CategoryName,
		"merchant":         tx.MerchantName,
		"account":          tx.AccountName,
		"target_iban":      tx.TargetIBAN,
		"source_iban":      tx.SourceIBAN,
		"date":             tx.BookedAt,
		"tags":             tags,
		"reconciled":       tx.Reconciled,
	}
}
