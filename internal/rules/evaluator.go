package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

// Evaluator applies a single condition to a transaction. Internally it
// distinguishes "condition false" from "condition malformed"; at the
// public boundary both collapse to false so a broken user-authored
// condition makes its rule inert instead of failing the batch.
type Evaluator struct {
	log logger.Logger
}

func NewEvaluator(log logger.Logger) *Evaluator {
	return &Evaluator{log: log}
}

// Evaluate never returns an error. Malformed conditions resolve to false.
func (e *Evaluator) Evaluate(cond RuleCondition, tx *models.Transaction) bool {
	matched, err := e.evaluate(cond, tx)
	if err != nil {
		e.log.Debugw("Condition evaluation failed, treating as no match",
			"condition_id", cond.ID,
			"field", cond.Field,
			"operator", cond.Operator,
			"error", err,
		)
		return false
	}
	return matched
}

// evaluate keeps the error visible for tests. Negation is applied last,
// after the operator's own semantics, and only to a well-formed result;
// a malformed condition stays false even when negated.
func (e *Evaluator) evaluate(cond RuleCondition, tx *models.Transaction) (bool, error) {
	matched, err := e.apply(cond, tx)
	if err != nil {
		return false, err
	}
	if cond.IsNegated {
		matched = !matched
	}
	return matched, nil
}

func (e *Evaluator) apply(cond RuleCondition, tx *models.Transaction) (bool, error) {
	class, ok := fieldClasses[cond.Field]
	if !ok {
		return false, fmt.Errorf("unknown condition field: %s", cond.Field)
	}
	if !ValidOperator(cond.Operator) {
		return false, fmt.Errorf("unknown condition operator: %s", cond.Operator)
	}

	switch class {
	case ClassNumeric:
		return e.applyNumeric(cond, tx.Amount)
	case ClassDate:
		return e.applyDate(cond, tx.BookedAt)
	case ClassSet:
		return e.applySet(cond, tx.Tags)
	default:
		return e.applyString(cond, resolveStringField(cond.Field, tx))
	}
}

func resolveStringField(field ConditionField, tx *models.Transaction) string {
	switch field {
	case FieldDescription:
		return tx.Description
	case FieldPartner:
		return tx.PartnerName
	case FieldCategory:
		return tx.CategoryName
	case FieldMerchant:
		return tx.MerchantName
	case FieldAccount:
		return tx.AccountName
	case FieldType:
		return tx.Type
	case FieldNote:
		return tx.Note
	case FieldRecipientNote:
		return tx.RecipientNote
	case FieldPlace:
		return tx.Place
	case FieldTargetIBAN:
		return tx.TargetIBAN
	case FieldSourceIBAN:
		return tx.SourceIBAN
	}
	return ""
}

func (e *Evaluator) applyString(cond RuleCondition, actual string) (bool, error) {
	switch cond.Operator {
	case OpIsEmpty:
		return strings.TrimSpace(actual) == "", nil
	case OpIsNotEmpty:
		return strings.TrimSpace(actual) != "", nil

	case OpEquals:
		return fold(actual, cond.IsCaseSensitive) == fold(cond.Value, cond.IsCaseSensitive), nil
	case OpNotEquals:
		return fold(actual, cond.IsCaseSensitive) != fold(cond.Value, cond.IsCaseSensitive), nil
	case OpContains:
		return strings.Contains(fold(actual, cond.IsCaseSensitive), fold(cond.Value, cond.IsCaseSensitive)), nil
	case OpNotContains:
		return !strings.Contains(fold(actual, cond.IsCaseSensitive), fold(cond.Value, cond.IsCaseSensitive)), nil
	case OpStartsWith:
		return strings.HasPrefix(fold(actual, cond.IsCaseSensitive), fold(cond.Value, cond.IsCaseSensitive)), nil
	case OpEndsWith:
		return strings.HasSuffix(fold(actual, cond.IsCaseSensitive), fold(cond.Value, cond.IsCaseSensitive)), nil

	case OpIn:
		return memberOf(actual, cond.Value, cond.IsCaseSensitive), nil
	case OpNotIn:
		return !memberOf(actual, cond.Value, cond.IsCaseSensitive), nil

	case OpRegex:
		re, err := compilePattern(cond.Value, cond.IsCaseSensitive)
		if err != nil {
			return false, err
		}
		return re.MatchString(actual), nil
	case OpWildcard:
		re, err := compileWildcard(cond.Value, cond.IsCaseSensitive)
		if err != nil {
			return false, err
		}
		return re.MatchString(actual), nil

	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual, OpBetween:
		// Best-effort coercion when a numeric operator reaches a string field.
		value, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		if err != nil {
			return false, fmt.Errorf("field value %q is not numeric: %w", actual, err)
		}
		return compareNumeric(cond.Operator, value, cond.Value)
	}

	return false, fmt.Errorf("operator %s not supported for string fields", cond.Operator)
}

func (e *Evaluator) applyNumeric(cond RuleCondition, actual float64) (bool, error) {
	switch cond.Operator {
	case OpIsEmpty:
		return false, nil
	case OpIsNotEmpty:
		return true, nil

	case OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanOrEqual,
		OpLessThan, OpLessThanOrEqual, OpBetween:
		return compareNumeric(cond.Operator, actual, cond.Value)

	case OpIn, OpNotIn:
		member := false
		for _, part := range splitList(cond.Value) {
			v, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return false, fmt.Errorf("list value %q is not numeric: %w", part, err)
			}
			if v == actual {
				member = true
				break
			}
		}
		if cond.Operator == OpNotIn {
			return !member, nil
		}
		return member, nil
	}

	// Remaining operators fall back to string semantics on the formatted amount.
	return e.applyString(RuleCondition{
		Field:           cond.Field,
		Operator:        cond.Operator,
		Value:           cond.Value,
		IsCaseSensitive: cond.IsCaseSensitive,
	}, strconv.FormatFloat(actual, 'f', -1, 64))
}

func compareNumeric(op ConditionOperator, actual float64, condValue string) (bool, error) {
	if op == OpBetween {
		low, high, err := parseRange(condValue)
		if err != nil {
			return false, err
		}
		return actual >= low && actual <= high, nil
	}

	expected, err := strconv.ParseFloat(strings.TrimSpace(condValue), 64)
	if err != nil {
		return false, fmt.Errorf("condition value %q is not numeric: %w", condValue, err)
	}

	switch op {
	case OpEquals:
		return actual == expected, nil
	case OpNotEquals:
		return actual != expected, nil
	case OpGreaterThan:
		return actual > expected, nil
	case OpGreaterThanOrEqual:
		return actual >= expected, nil
	case OpLessThan:
		return actual < expected, nil
	case OpLessThanOrEqual:
		return actual <= expected, nil
	}

	return false, fmt.Errorf("operator %s is not a numeric comparison", op)
}

func parseRange(value string) (float64, float64, error) {
	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("between requires two comma-separated values, got %q", value)
	}
	low, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("lower bound %q is not numeric: %w", parts[0], err)
	}
	high, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("upper bound %q is not numeric: %w", parts[1], err)
	}
	return low, high, nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02.01.2006",
}

func parseDate(value string) (time.Time, bool, error) {
	s := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			dayOnly := layout == "2006-01-02" || layout == "02.01.2006"
			return t, dayOnly, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unparseable date: %q", value)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func (e *Evaluator) applyDate(cond RuleCondition, actual time.Time) (bool, error) {
	switch cond.Operator {
	case OpIsEmpty:
		return actual.IsZero(), nil
	case OpIsNotEmpty:
		return !actual.IsZero(), nil

	case OpBetween:
		parts := strings.SplitN(cond.Value, ",", 2)
		if len(parts) != 2 {
			return false, fmt.Errorf("between requires two comma-separated dates, got %q", cond.Value)
		}
		low, lowDay, err := parseDate(parts[0])
		if err != nil {
			return false, err
		}
		high, highDay, err := parseDate(parts[1])
		if err != nil {
			return false, err
		}
		v := actual
		if lowDay && highDay {
			v = truncateToDay(v.UTC())
			low = truncateToDay(low)
			high = truncateToDay(high)
		}
		return !v.Before(low) && !v.After(high), nil

	case OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanOrEqual,
		OpLessThan, OpLessThanOrEqual:
		expected, dayOnly, err := parseDate(cond.Value)
		if err != nil {
			return false, err
		}
		v := actual
		if dayOnly {
			v = truncateToDay(v.UTC())
			expected = truncateToDay(expected)
		}
		switch cond.Operator {
		case OpEquals:
			return v.Equal(expected), nil
		case OpNotEquals:
			return !v.Equal(expected), nil
		case OpGreaterThan:
			return v.After(expected), nil
		case OpGreaterThanOrEqual:
			return !v.Before(expected), nil
		case OpLessThan:
			return v.Before(expected), nil
		case OpLessThanOrEqual:
			return !v.After(expected), nil
		}
	}

	// String fallback on the formatted date.
	return e.applyString(RuleCondition{
		Field:           cond.Field,
		Operator:        cond.Operator,
		Value:           cond.Value,
		IsCaseSensitive: cond.IsCaseSensitive,
	}, actual.Format("2006-01-02"))
}

// applySet evaluates tag conditions. Except for emptiness checks, a set
// condition is satisfied when any tag satisfies the scalar semantics.
func (e *Evaluator) applySet(cond RuleCondition, tags []string) (bool, error) {
	switch cond.Operator {
	case OpIsEmpty:
		return len(tags) == 0, nil
	case OpIsNotEmpty:
		return len(tags) > 0, nil

	case OpIn:
		return tagsIntersect(tags, cond.Value, cond.IsCaseSensitive), nil
	case OpNotIn:
		return !tagsIntersect(tags, cond.Value, cond.IsCaseSensitive), nil

	case OpNotEquals:
		for _, tag := range tags {
			if fold(tag, cond.IsCaseSensitive) == fold(cond.Value, cond.IsCaseSensitive) {
				return false, nil
			}
		}
		return true, nil

	case OpNotContains:
		for _, tag := range tags {
			if strings.Contains(fold(tag, cond.IsCaseSensitive), fold(cond.Value, cond.IsCaseSensitive)) {
				return false, nil
			}
		}
		return true, nil
	}

	scalar := RuleCondition{
		Field:           cond.Field,
		Operator:        cond.Operator,
		Value:           cond.Value,
		IsCaseSensitive: cond.IsCaseSensitive,
	}
	var firstErr error
	for _, tag := range tags {
		matched, err := e.applyString(scalar, tag)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if matched {
			return true, nil
		}
	}
	if firstErr != nil && len(tags) > 0 {
		return false, firstErr
	}
	return false, nil
}

func tagsIntersect(tags []string, list string, caseSensitive bool) bool {
	wanted := make(map[string]bool)
	for _, item := range splitList(list) {
		wanted[fold(item, caseSensitive)] = true
	}
	for _, tag := range tags {
		if wanted[fold(tag, caseSensitive)] {
			return true
		}
	}
	return false
}

func fold(s string, caseSensitive bool) string {
	if caseSensitive {
		return s
	}
	return strings.ToLower(s)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func memberOf(actual, list string, caseSensitive bool) bool {
	needle := fold(strings.TrimSpace(actual), caseSensitive)
	for _, item := range splitList(list) {
		if fold(item, caseSensitive) == needle {
			return true
		}
	}
	return false
}

// compilePattern accepts both bare Go patterns and delimiter-wrapped ones
// like "/foo/i" carried over from imported rule sets.
func compilePattern(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	p := strings.TrimSpace(pattern)
	insensitive := !caseSensitive

	if len(p) > 1 && strings.HasPrefix(p, "/") {
		if idx := strings.LastIndex(p[1:], "/"); idx >= 0 {
			body := p[1 : idx+1]
			flags := p[idx+2:]
			if strings.Contains(flags, "i") {
				insensitive = true
			}
			p = body
		}
	}

	if insensitive && !strings.HasPrefix(p, "(?i)") {
		p = "(?i)" + p
	}
	return regexp.Compile(p)
}

// compileWildcard translates shell-style globbing into an anchored regex:
// '*' matches any run, '?' matches one character.
func compileWildcard(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	if !caseSensitive {
		b.Reset()
		b.WriteString("(?i)^")
	}
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// GroupMatches combines sibling conditions with the group's logic
// operator. An empty group matches vacuously.
func (e *Evaluator) GroupMatches(group ConditionGroup, tx *models.Transaction) bool {
	if len(group.Conditions) == 0 {
		return true
	}

	switch group.LogicOperator {
	case LogicOr:
		for _, cond := range group.Conditions {
			if e.Evaluate(cond, tx) {
				return true
			}
		}
		return false
	default: // AND, also the fallback for unknown operators
		for _, cond := range group.Conditions {
			if !e.Evaluate(cond, tx) {
				return false
			}
		}
		return true
	}
}

// RuleConditionsMatch requires every condition group to match. A rule
// with zero groups matches vacuously; write-time validation warns about
// such rules but the engine honors them.
func (e *Evaluator) RuleConditionsMatch(rule *Rule, tx *models.Transaction) bool {
	for _, group := range rule.ConditionGroups {
		if !e.GroupMatches(group, tx) {
			return false
		}
	}
	return true
}
