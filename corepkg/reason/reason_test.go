package reason

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durableflow/engine/corepkg/apperr"
)

func TestDetectBlockingReasons_Order(t *testing.T) {
	req := OutputRequirement{
		MissingContractRefs:     []string{"contract_a"},
		MissingContextKeys:      []string{"key_a"},
		UnavailableCapabilities: []string{"cap_a"},
		UserOnlyDependencies:    []UserOnlyDependency{{Detail: "needs human", StepId: "step_a"}},
		EvaluationErrors:        []string{"boom"},
	}
	reasons := DetectBlockingReasons(req)
	require.Len(t, reasons, 5)
	assert.Equal(t, KindMissingRequiredOutput, reasons[0].Kind)
	assert.Equal(t, KindMissingContextKey, reasons[1].Kind)
	assert.Equal(t, KindRequiredCapabilityUnavailable, reasons[2].Kind)
	assert.Equal(t, KindUserOnlyDependency, reasons[3].Kind)
	assert.Equal(t, KindEvaluationError, reasons[4].Kind)
}

func TestApplyGuardrails_AggressiveDemotesContextKey(t *testing.T) {
	reasons := []Reason{
		{Kind: KindMissingContextKey, Key: "k"},
		{Kind: KindUserOnlyDependency, Detail: "d", StepId: "s"},
	}
	result := ApplyGuardrails(RiskAggressive, reasons)
	assert.Len(t, result.Advisory, 1)
	assert.Len(t, result.Blocking, 1)
	assert.Equal(t, KindUserOnlyDependency, result.Blocking[0].Kind)
}

func TestApplyGuardrails_ConservativeNeverDemotes(t *testing.T) {
	reasons := []Reason{{Kind: KindMissingContextKey, Key: "k"}}
	result := ApplyGuardrails(RiskConservative, reasons)
	assert.Empty(t, result.Advisory)
	assert.Len(t, result.Blocking, 1)
}

func TestShouldBlock_Table(t *testing.T) {
	reasons := []Reason{{Kind: KindMissingContextKey, Key: "k"}}

	assert.False(t, ShouldBlock(AutonomyFullAutoNeverStop, reasons))
	assert.True(t, ShouldBlock(AutonomyFullAutoStopOnUserDeps, reasons))
	assert.True(t, ShouldBlock(AutonomyGuided, reasons))

	assert.False(t, ShouldBlock(AutonomyGuided, nil))
	assert.False(t, ShouldBlock(AutonomyFullAutoNeverStop, nil))
}

func TestReasonToBlocker_MissingRequiredOutput(t *testing.T) {
	r := Reason{Kind: KindMissingRequiredOutput, ContractRef: "contract_recap"}
	b, err := ReasonToBlocker(r, DefaultMaxBlockerMessageBytes, DefaultMaxBlockerSuggestedFixBytes)
	require.NoError(t, err)
	assert.Equal(t, "missing_required_output", b.Code)
	assert.Equal(t, PointerContract, b.Pointer.Kind)
	assert.Equal(t, "contract_recap", b.Pointer.Stable)
	assert.Contains(t, b.Message, "contract_recap")
}

func TestReasonToBlocker_InvalidContractRef(t *testing.T) {
	r := Reason{Kind: KindMissingRequiredOutput, ContractRef: "bad ref!"}
	_, err := ReasonToBlocker(r, DefaultMaxBlockerMessageBytes, DefaultMaxBlockerSuggestedFixBytes)
	assert.Error(t, err)
}

func TestReasonToBlocker_MessageTooLarge(t *testing.T) {
	big := make([]byte, 100)
	for i := range big {
		big[i] = 'x'
	}
	r := Reason{Kind: KindEvaluationError, Message: string(big)}
	_, err := ReasonToBlocker(r, 10, DefaultMaxBlockerSuggestedFixBytes)
	assert.ErrorIs(t, err, apperr.ErrBlockerMessageTooLarge)
}

func TestBuildBlockerReport_SortedAndCapped(t *testing.T) {
	reasons := []Reason{
		{Kind: KindMissingContextKey, Key: "zzz"},
		{Kind: KindMissingContextKey, Key: "aaa"},
		{Kind: KindMissingRequiredOutput, ContractRef: "contract_x"},
	}
	report, err := BuildBlockerReport(reasons, DefaultMaxBlockerMessageBytes, DefaultMaxBlockerSuggestedFixBytes, 2)
	require.NoError(t, err)
	require.Len(t, report.Blockers, 2)
	assert.Equal(t, "missing_context_key", report.Blockers[0].Code)
	assert.Equal(t, "aaa", report.Blockers[0].Pointer.Stable)
}
