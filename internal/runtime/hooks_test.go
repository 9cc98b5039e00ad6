package runtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHooksMergeCallsBothInOrder(t *testing.T) {
	var calls []string
	first := Hooks{
		OnReceived:  func(MessageContext) { calls = append(calls, "first-received") },
		OnProcessed: func(MessageContext, Outcome) { calls = append(calls, "first-processed") },
	}
	second := Hooks{
		OnProcessed: func(MessageContext, Outcome) { calls = append(calls, "second-processed") },
	}

	merged := first.Merge(second)
	merged.OnReceived(MessageContext{})
	merged.OnProcessed(MessageContext{}, Outcome{})

	assert.Equal(t, []string{"first-received", "first-processed", "second-processed"}, calls)
}

func TestHooksMergeKeepsNil(t *testing.T) {
	merged := Hooks{}.Merge(Hooks{})
	assert.Nil(t, merged.OnReceived)
	assert.Nil(t, merged.OnProcessed)
}

func TestOutcomeHooks(t *testing.T) {
	assert.Nil(t, OutcomeHooks(nil).OnProcessed)

	var got Outcome
	OutcomeHooks(func(out Outcome) { got = out }).OnProcessed(MessageContext{}, Outcome{Stage: StageAcknowledged, RowsAffected: 1})
	assert.Equal(t, StageAcknowledged, got.Stage)
	assert.Equal(t, int64(1), got.RowsAffected)
}

func TestAlertingHooksOnlyFireOnFailures(t *testing.T) {
	var alerts int
	hooks := AlertingHooks(func(MessageContext, Outcome) { alerts++ })

	hooks.OnProcessed(MessageContext{}, Outcome{Stage: StageAcknowledged})
	hooks.OnProcessed(MessageContext{}, Outcome{Stage: StageAcknowledged, Dropped: true, Err: errors.New("boom")})
	hooks.OnProcessed(MessageContext{}, Outcome{Stage: StageAbandoned})

	assert.Equal(t, 2, alerts)
}
