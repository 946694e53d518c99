package rules

// ConditionField names a transaction attribute a condition can test. The
// set is closed; unknown fields are rejected at write time and evaluate
// to false at run time.
type ConditionField string

const (
	FieldAmount        ConditionField = "amount"
	FieldDescription   ConditionField = "description"
	FieldPartner       ConditionField = "partner"
	FieldCategory      ConditionField = "category"
	FieldMerchant      ConditionField = "merchant"
	FieldAccount       ConditionField = "account"
	FieldType          ConditionField = "type"
	FieldNote          ConditionField = "note"
	FieldRecipientNote ConditionField = "recipient_note"
	FieldPlace         ConditionField = "place"
	FieldTargetIBAN    ConditionField = "target_iban"
	FieldSourceIBAN    ConditionField = "source_iban"
	FieldDate          ConditionField = "date"
	FieldTags          ConditionField = "tags"
)

type ConditionOperator string

const (
	OpEquals             ConditionOperator = "equals"
	OpNotEquals          ConditionOperator = "not_equals"
	OpContains           ConditionOperator = "contains"
	OpNotContains        ConditionOperator = "not_contains"
	OpStartsWith         ConditionOperator = "starts_with"
	OpEndsWith           ConditionOperator = "ends_with"
	OpGreaterThan        ConditionOperator = "greater_than"
	OpGreaterThanOrEqual ConditionOperator = "greater_than_or_equal"
	OpLessThan           ConditionOperator = "less_than"
	OpLessThanOrEqual    ConditionOperator = "less_than_or_equal"
	OpRegex              ConditionOperator = "regex"
	OpWildcard           ConditionOperator = "wildcard"
	OpIsEmpty            ConditionOperator = "is_empty"
	OpIsNotEmpty         ConditionOperator = "is_not_empty"
	OpIn                 ConditionOperator = "in"
	OpNotIn              ConditionOperator = "not_in"
	OpBetween            ConditionOperator = "between"
)

// ValueClass is the type class of a field's resolved value. Operator
// compatibility is declared against classes, not individual fields.
type ValueClass int

const (
	ClassString ValueClass = iota
	ClassNumeric
	ClassDate
	ClassRelational // resolves to the related entity's display name
	ClassSet        // tag names
)

var fieldClasses = map[ConditionField]ValueClass{
	FieldAmount:        ClassNumeric,
	FieldDescription:   ClassString,
	FieldPartner:       ClassString,
	FieldCategory:      ClassRelational,
	FieldMerchant:      ClassRelational,
	FieldAccount:       ClassRelational,
	FieldType:          ClassString,
	FieldNote:          ClassString,
	FieldRecipientNote: ClassString,
	FieldPlace:         ClassString,
	FieldTargetIBAN:    ClassString,
	FieldSourceIBAN:    ClassString,
	FieldDate:          ClassDate,
	FieldTags:          ClassSet,
}

var operatorClasses = map[ConditionOperator][]ValueClass{
	OpEquals:             {ClassString, ClassNumeric, ClassDate, ClassRelational, ClassSet},
	OpNotEquals:          {ClassString, ClassNumeric, ClassDate, ClassRelational, ClassSet},
	OpContains:           {ClassString, ClassRelational, ClassSet},
	OpNotContains:        {ClassString, ClassRelational, ClassSet},
	OpStartsWith:         {ClassString, ClassRelational, ClassSet},
	OpEndsWith:           {ClassString, ClassRelational, ClassSet},
	OpGreaterThan:        {ClassNumeric, ClassDate},
	OpGreaterThanOrEqual: {ClassNumeric, ClassDate},
	OpLessThan:           {ClassNumeric, ClassDate},
	OpLessThanOrEqual:    {ClassNumeric, ClassDate},
	OpRegex:              {ClassString, ClassRelational, ClassSet},
	OpWildcard:           {ClassString, ClassRelational, ClassSet},
	OpIsEmpty:            {ClassString, ClassNumeric, ClassDate, ClassRelational, ClassSet},
	OpIsNotEmpty:         {ClassString, ClassNumeric, ClassDate, ClassRelational, ClassSet},
	OpIn:                 {ClassString, ClassNumeric, ClassRelational, ClassSet},
	OpNotIn:              {ClassString, ClassNumeric, ClassRelational, ClassSet},
	OpBetween:            {ClassNumeric, ClassDate},
}

func ValidField(f ConditionField) bool {
	_, ok := fieldClasses[f]
	return ok
}

func ValidOperator(op ConditionOperator) bool {
	_, ok := operatorClasses[op]
	return ok
}

func FieldClass(f ConditionField) (ValueClass, bool) {
	class, ok := fieldClasses[f]
	return class, ok
}

// OperatorSupportsField reports whether the operator accepts the field's
// value class. Write-time validation rejects incompatible pairs; the
// evaluator itself stays permissive and coerces best-effort.
func OperatorSupportsField(op ConditionOperator, f ConditionField) bool {
	class, ok := fieldClasses[f]
	if !ok {
		return false
	}
	accepted, ok := operatorClasses[op]
	if !ok {
		return false
	}
	for _, c := range accepted {
		if c == class {
			return true
		}
	}
	return false
}

func Fields() []ConditionField {
	return []ConditionField{
		FieldAmount, FieldDescription, FieldPartner, FieldCategory,
		FieldMerchant, FieldAccount, FieldType, FieldNote,
		FieldRecipientNote, FieldPlace, FieldTargetIBAN, FieldSourceIBAN,
		FieldDate, FieldTags,
	}
}

func Operators() []ConditionOperator {
	return []ConditionOperator{
		OpEquals, OpNotEquals, OpContains, OpNotContains,
		OpStartsWith, OpEndsWith, OpGreaterThan, OpGreaterThanOrEqual,
		OpLessThan, OpLessThanOrEqual, OpRegex, OpWildcard,
		OpIsEmpty, OpIsNotEmpty, OpIn, OpNotIn, OpBetween,
	}
}
