package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/pkg/errors"
	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

// fakeResolver serves entities from in-memory maps keyed by id and by
// lowercase name, mimicking the user scoping of the real resolver.
type fakeResolver struct {
	categories map[int64]string
	merchants  map[int64]string
	tags       map[int64]string
	nextID     int64
	created    []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		categories: map[int64]string{10: "Groceries", 11: "Dining"},
		merchants:  map[int64]string{20: "Walmart"},
		tags:       map[int64]string{30: "essentials", 31: "weekly"},
		nextID:     100,
	}
}

func (f *fakeResolver) resolve(m map[int64]string, id int64) (string, error) {
	if name, ok := m[id]; ok {
		return name, nil
	}
	return "", errors.ErrNotFound
}

func (f *fakeResolver) find(m map[int64]string, name string) (int64, bool, error) {
	for id, n := range m {
		if n == name {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (f *fakeResolver) create(m map[int64]string, name string) (int64, error) {
	f.nextID++
	m[f.nextID] = name
	f.created = append(f.created, name)
	return f.nextID, nil
}

func (f *fakeResolver) ResolveCategory(ctx context.Context, userID, id int64) (string, error) {
	return f.resolve(f.categories, id)
}
func (f *fakeResolver) ResolveMerchant(ctx context.Context, userID, id int64) (string, error) {
	return f.resolve(f.merchants, id)
}
func (f *fakeResolver) ResolveTag(ctx context.Context, userID, id int64) (string, error) {
	return f.resolve(f.tags, id)
}
func (f *fakeResolver) FindCategoryByName(ctx context.Context, userID int64, name string) (int64, bool, error) {
	return f.find(f.categories, name)
}
func (f *fakeResolver) FindMerchantByName(ctx context.Context, userID int64, name string) (int64, bool, error) {
	return f.find(f.merchants, name)
}
func (f *fakeResolver) FindTagByName(ctx context.Context, userID int64, name string) (int64, bool, error) {
	return f.find(f.tags, name)
}
func (f *fakeResolver) CreateCategory(ctx context.Context, userID int64, name string) (int64, error) {
	return f.create(f.categories, name)
}
func (f *fakeResolver) CreateMerchant(ctx context.Context, userID int64, name string) (int64, error) {
	return f.create(f.merchants, name)
}
func (f *fakeResolver) CreateTag(ctx context.Context, userID int64, name string) (int64, error) {
	return f.create(f.tags, name)
}

type recordingNotifier struct {
	events []models.NotificationEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, event models.NotificationEvent) {
	n.events = append(n.events, event)
}

func action(t ActionType, raw string) RuleAction {
	a := RuleAction{ActionType: t, RawValue: raw}
	_ = a.Decode()
	return a
}

func TestExecuteSetCategory(t *testing.T) {
	resolver := newFakeResolver()
	x := NewExecutor(resolver, nil, logger.NopLogger())
	tx := testTransaction()
	rule := &Rule{ID: 1, Name: "categorize"}

	outcome := x.Execute(context.Background(), rule, action(ActionSetCategory, "10"), tx, ExecOptions{})
	require.True(t, outcome.Success)
	require.NotNil(t, tx.CategoryID)
	assert.Equal(t, int64(10), *tx.CategoryID)
	assert.Equal(t, "Groceries", tx.CategoryName)
	assert.Equal(t, "Groceries", outcome.Detail)
}

func TestExecuteSetCategoryUnknownIDFails(t *testing.T) {
	x := NewExecutor(newFakeResolver(), nil, logger.NopLogger())
	tx := testTransaction()
	before := tx.CategoryName

	outcome := x.Execute(context.Background(), &Rule{ID: 1}, action(ActionSetCategory, "999"), tx, ExecOptions{})
	assert.False(t, outcome.Success)
	assert.NotEmpty(t, outcome.Detail)
	assert.Nil(t, tx.CategoryID)
	assert.Equal(t, before, tx.CategoryName)
}

func TestExecuteTagActionsAreIdempotent(t *testing.T) {
	x := NewExecutor(newFakeResolver(), nil, logger.NopLogger())
	tx := testTransaction()
	tx.Tags = []string{"weekly"}
	rule := &Rule{ID: 1}

	addWeekly := action(ActionAddTag, "31") // resolves to "weekly"
	outcome := x.Execute(context.Background(), rule, addWeekly, tx, ExecOptions{})
	require.True(t, outcome.Success)
	assert.Equal(t, []string{"weekly"}, tx.Tags)

	addEssentials := action(ActionAddTag, "30")
	outcome = x.Execute(context.Background(), rule, addEssentials, tx, ExecOptions{})
	require.True(t, outcome.Success)
	assert.Equal(t, []string{"weekly", "essentials"}, tx.Tags)

	removeAbsent := action(ActionRemoveTag, "30")
	outcome = x.Execute(context.Background(), rule, removeAbsent, tx, ExecOptions{})
	require.True(t, outcome.Success)
	outcome = x.Execute(context.Background(), rule, removeAbsent, tx, ExecOptions{})
	require.True(t, outcome.Success, "removing an absent tag is still a success")
	assert.Equal(t, []string{"weekly"}, tx.Tags)
}

func TestExecuteTextEdits(t *testing.T) {
	x := NewExecutor(newFakeResolver(), nil, logger.NopLogger())
	rule := &Rule{ID: 1}

	tx := testTransaction()
	tx.Description = "base"
	tx.Note = ""

	x.Execute(context.Background(), rule, action(ActionAppendDescription, "suffix"), tx, ExecOptions{})
	assert.Equal(t, "base suffix", tx.Description)

	x.Execute(context.Background(), rule, action(ActionPrependDescription, "prefix"), tx, ExecOptions{})
	assert.Equal(t, "prefix base suffix", tx.Description)

	x.Execute(context.Background(), rule, action(ActionAppendNote, "first"), tx, ExecOptions{})
	assert.Equal(t, "first", tx.Note, "append to empty note omits the separator")

	x.Execute(context.Background(), rule, action(ActionSetDescription, "replaced"), tx, ExecOptions{})
	assert.Equal(t, "replaced", tx.Description)
}

func TestExecuteSetType(t *testing.T) {
	x := NewExecutor(newFakeResolver(), nil, logger.NopLogger())
	rule := &Rule{ID: 1}
	tx := testTransaction()

	outcome := x.Execute(context.Background(), rule, action(ActionSetType, "transfer"), tx, ExecOptions{})
	require.True(t, outcome.Success)
	assert.Equal(t, models.TransactionTypeTransfer, tx.Type)

	outcome = x.Execute(context.Background(), rule, action(ActionSetType, "bogus"), tx, ExecOptions{})
	assert.False(t, outcome.Success)
	assert.Equal(t, models.TransactionTypeTransfer, tx.Type, "failed set_type leaves the type unchanged")
}

func TestExecuteCreateIfNotExists(t *testing.T) {
	t.Run("existing entity is reused", func(t *testing.T) {
		resolver := newFakeResolver()
		x := NewExecutor(resolver, nil, logger.NopLogger())
		tx := testTransaction()

		outcome := x.Execute(context.Background(), &Rule{ID: 1}, action(ActionCreateCategoryIfNotExists, "Groceries"), tx, ExecOptions{})
		require.True(t, outcome.Success)
		require.NotNil(t, tx.CategoryID)
		assert.Equal(t, int64(10), *tx.CategoryID)
		assert.Empty(t, resolver.created)
	})

	t.Run("missing entity is created", func(t *testing.T) {
		resolver := newFakeResolver()
		x := NewExecutor(resolver, nil, logger.NopLogger())
		tx := testTransaction()

		outcome := x.Execute(context.Background(), &Rule{ID: 1}, action(ActionCreateMerchantIfNotExists, "Corner Bakery"), tx, ExecOptions{})
		require.True(t, outcome.Success)
		assert.Equal(t, []string{"Corner Bakery"}, resolver.created)
		assert.Equal(t, "Corner Bakery", tx.MerchantName)
	})

	t.Run("dry run never creates", func(t *testing.T) {
		resolver := newFakeResolver()
		x := NewExecutor(resolver, nil, logger.NopLogger())
		tx := testTransaction()

		outcome := x.Execute(context.Background(), &Rule{ID: 1}, action(ActionCreateTagIfNotExists, "brand-new"), tx, ExecOptions{DryRun: true})
		require.True(t, outcome.Success)
		assert.Contains(t, outcome.Detail, "would create tag")
		assert.Empty(t, resolver.created)
		assert.True(t, tx.HasTag("brand-new"), "the scratch copy still carries the tag")
	})
}

func TestExecuteSendNotification(t *testing.T) {
	notifier := &recordingNotifier{}
	x := NewExecutor(newFakeResolver(), notifier, logger.NopLogger())
	rule := &Rule{ID: 5, Name: "alert"}
	tx := testTransaction()

	outcome := x.Execute(context.Background(), rule, action(ActionSendNotification, "large purchase"), tx, ExecOptions{})
	require.True(t, outcome.Success)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, int64(5), notifier.events[0].RuleID)
	assert.Equal(t, "large purchase", notifier.events[0].Message)
	assert.Equal(t, tx.ID, notifier.events[0].TransactionID)

	outcome = x.Execute(context.Background(), rule, action(ActionSendNotification, "large purchase"), tx, ExecOptions{DryRun: true})
	require.True(t, outcome.Success)
	assert.Len(t, notifier.events, 1, "dry run sends nothing")
}

func TestExecuteValuelessActions(t *testing.T) {
	x := NewExecutor(newFakeResolver(), nil, logger.NopLogger())
	rule := &Rule{ID: 1}
	tx := testTransaction()
	tx.Tags = []string{"a", "b"}

	outcome := x.Execute(context.Background(), rule, action(ActionRemoveAllTags, ""), tx, ExecOptions{})
	require.True(t, outcome.Success)
	assert.Empty(t, tx.Tags)

	outcome = x.Execute(context.Background(), rule, action(ActionMarkReconciled, ""), tx, ExecOptions{})
	require.True(t, outcome.Success)
	assert.True(t, tx.Reconciled)
}

func TestExecuteUndecodedValueFails(t *testing.T) {
	x := NewExecutor(newFakeResolver(), nil, logger.NopLogger())
	tx := testTransaction()

	// RawValue never decoded: the zero ActionValue carries no identifier.
	raw := RuleAction{ActionType: ActionSetCategory, RawValue: "10"}
	outcome := x.Execute(context.Background(), &Rule{ID: 1}, raw, tx, ExecOptions{})
	assert.False(t, outcome.Success)
	assert.Nil(t, tx.CategoryID)
}

func TestParseActionValue(t *testing.T) {
	tests := []struct {
		name       string
		actionType ActionType
		raw        string
		wantErr    bool
		wantID     int64
		wantText   string
	}{
		{name: "plain identifier", actionType: ActionSetCategory, raw: "42", wantID: 42},
		{name: "json number identifier", actionType: ActionAddTag, raw: " 7 ", wantID: 7},
		{name: "quoted identifier", actionType: ActionSetMerchant, raw: `"13"`, wantID: 13},
		{name: "non-numeric identifier", actionType: ActionSetCategory, raw: "abc", wantErr: true},
		{name: "plain text", actionType: ActionSetNote, raw: "hello", wantText: "hello"},
		{name: "json quoted text", actionType: ActionSetDescription, raw: `"quoted text"`, wantText: "quoted text"},
		{name: "empty text rejected", actionType: ActionSetNote, raw: "  ", wantErr: true},
		{name: "none family ignores value", actionType: ActionMarkReconciled, raw: "whatever"},
		{name: "unknown action type", actionType: ActionType("explode"), raw: "1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseActionValue(tt.actionType, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantID != 0 {
				id, ok := v.Identifier()
				require.True(t, ok)
				assert.Equal(t, tt.wantID, id)
			}
			if tt.wantText != "" {
				text, ok := v.Text()
				require.True(t, ok)
				assert.Equal(t, tt.wantText, text)
			}
		})
	}
}

func TestValidateActionValue(t *testing.T) {
	assert.NoError(t, ValidateActionValue(ActionSetCategory, "10"))
	assert.Error(t, ValidateActionValue(ActionSetCategory, "ten"))
	assert.NoError(t, ValidateActionValue(ActionSetType, "payment"))
	assert.Error(t, ValidateActionValue(ActionSetType, "gift"))
	assert.Error(t, ValidateActionValue(ActionType("explode"), "1"))
	assert.NoError(t, ValidateActionValue(ActionRemoveAllTags, ""))
}

func TestDescribe(t *testing.T) {
	x := NewExecutor(newFakeResolver(), nil, logger.NopLogger())
	ctx := context.Background()

	tests := []struct {
		name   string
		action RuleAction
		want   string
	}{
		{name: "category resolves to its name", action: action(ActionSetCategory, "10"), want: "Set category to Groceries"},
		{name: "unknown category falls back to id", action: action(ActionSetCategory, "999"), want: "Set category to #999"},
		{name: "tag resolves to its name", action: action(ActionAddTag, "30"), want: "Add tag essentials"},
		{name: "text edit quotes the value", action: action(ActionAppendNote, "checked"), want: `Append "checked" to note`},
		{name: "set_type normalizes case", action: action(ActionSetType, "transfer"), want: "Set type to TRANSFER"},
		{name: "create if missing", action: action(ActionCreateTagIfNotExists, "alert"), want: `Add tag "alert", creating it if missing`},
		{name: "valueless action", action: action(ActionRemoveAllTags, ""), want: "Remove all tags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, x.Describe(ctx, 42, tt.action))
		})
	}
}

func TestExecuteStampsDescriptionOnOutcome(t *testing.T) {
	x := NewExecutor(newFakeResolver(), nil, logger.NopLogger())
	tx := testTransaction()

	outcome := x.Execute(context.Background(), &Rule{ID: 1}, action(ActionSetCategory, "10"), tx, ExecOptions{})
	assert.Equal(t, "Set category to Groceries", outcome.Description)

	// Failures keep the description too, so the log stays readable.
	outcome = x.Execute(context.Background(), &Rule{ID: 1}, action(ActionSetCategory, "999"), tx, ExecOptions{})
	assert.False(t, outcome.Success)
	assert.Equal(t, "Set category to #999", outcome.Description)
}
