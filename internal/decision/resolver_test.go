package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragaeeb/blackiya-sub001/internal/capture"
	"github.com/ragaeeb/blackiya-sub001/internal/eventlog"
	"github.com/ragaeeb/blackiya-sub001/internal/fusion"
	"github.com/ragaeeb/blackiya-sub001/internal/stabilize"
	"github.com/ragaeeb/blackiya-sub001/internal/testutil"
)

type resolverFixture struct {
	engine   *fusion.Engine
	resolver *Resolver
	fake     *testutil.FakeScheduler
	sink     *eventlog.MemorySink
}

func newResolverFixture(t *testing.T, legacy LegacyJudge) *resolverFixture {
	t.Helper()
	f := &resolverFixture{
		fake: testutil.NewFakeScheduler(1_000_000),
		sink: eventlog.NewMemorySink(),
	}
	eval := &testutil.ScriptedEvaluator{Verdicts: map[string]capture.Verdict{
		"final": {Ready: true, Terminal: true, ContentHash: "h-final"},
	}}
	policy := stabilize.Policy{RetryDelay: time.Second, MaxRetries: 1, Grace: time.Second}
	f.engine = fusion.New(eval, testutil.NoSource{}, f.sink, f.fake, f.fake,
		fusion.WithStabilizationPolicy(policy))
	f.resolver = NewResolver(f.engine, f.sink, legacy)
	return f
}

func (f *resolverFixture) dispatch(t *testing.T, sig fusion.Signal) {
	t.Helper()
	require.NoError(t, f.engine.Dispatch(context.Background(), sig))
}

func (f *resolverFixture) sample(t *testing.T, payload string, fidelity capture.Fidelity) {
	t.Helper()
	f.dispatch(t, fusion.Signal{
		Kind:           fusion.KindSample,
		AttemptID:      "a-1",
		ConversationID: "conv-1",
		Sample:         &capture.Sample{Fidelity: fidelity, Payload: []byte(payload)},
	})
}

// exhaust runs the retry budget down so the timeout condition is set.
func (f *resolverFixture) exhaust(t *testing.T) {
	t.Helper()
	f.dispatch(t, fusion.Signal{Kind: fusion.KindCompletedHint, AttemptID: "a-1", ConversationID: "conv-1"})
	for i := 0; i < 3; i++ {
		f.fake.Advance(time.Second)
		f.engine.Drain(context.Background())
	}
}

// TestResolver_NoBinding tests the decision for an unknown conversation.
func TestResolver_NoBinding(t *testing.T) {
	f := newResolverFixture(t, nil)

	d := f.resolver.DecideByConversation("conv-1")
	assert.Equal(t, NotReady, d.Outcome)
	assert.Equal(t, "no attempt bound to conversation", d.Reason)
	assert.Empty(t, d.AttemptID)
}

// TestResolver_CanonicalReady tests the happy path.
func TestResolver_CanonicalReady(t *testing.T) {
	f := newResolverFixture(t, nil)

	f.sample(t, "final", capture.FidelityCanonical)
	f.sample(t, "final", capture.FidelityCanonical)

	d := f.resolver.DecideByConversation("conv-1")
	assert.Equal(t, CanonicalReady, d.Outcome)
	assert.Equal(t, "a-1", d.AttemptID)
}

// TestResolver_DegradedManualOnly tests that the degraded path requires both
// a degraded sample and an exhausted canonical budget.
func TestResolver_DegradedManualOnly(t *testing.T) {
	f := newResolverFixture(t, nil)

	f.sample(t, "final", capture.FidelityDegraded)
	f.exhaust(t)

	d := f.resolver.DecideByConversation("conv-1")
	assert.Equal(t, DegradedManualOnly, d.Outcome)
	assert.Contains(t, d.Reason, "confirmation")
}

// TestResolver_DegradedWithoutTimeoutIsNotReady tests that a degraded sample
// alone never unlocks export.
func TestResolver_DegradedWithoutTimeoutIsNotReady(t *testing.T) {
	f := newResolverFixture(t, nil)

	f.sample(t, "final", capture.FidelityDegraded)

	d := f.resolver.DecideByConversation("conv-1")
	assert.Equal(t, NotReady, d.Outcome)
}

// TestResolver_TimeoutWithoutDegradedIsNotReady tests that an exhausted
// budget with nothing captured stays not_ready.
func TestResolver_TimeoutWithoutDegradedIsNotReady(t *testing.T) {
	f := newResolverFixture(t, nil)

	f.exhaust(t)

	d := f.resolver.DecideByConversation("conv-1")
	assert.Equal(t, NotReady, d.Outcome)
	assert.Equal(t, "stabilization retries exhausted without a verified copy", d.Reason)
}

// TestResolver_BlockingReasons tests that the reason tracks the most specific
// blocking condition and falls back to the phase.
func TestResolver_BlockingReasons(t *testing.T) {
	f := newResolverFixture(t, nil)

	f.dispatch(t, fusion.Signal{Kind: fusion.KindPromptSent, AttemptID: "a-1", ConversationID: "conv-1"})
	d := f.resolver.DecideByConversation("conv-1")
	assert.Equal(t, "prompt sent; no response observed yet", d.Reason)

	f.dispatch(t, fusion.Signal{Kind: fusion.KindStreaming, AttemptID: "a-1", ConversationID: "conv-1"})
	d = f.resolver.DecideByConversation("conv-1")
	assert.Equal(t, "response still streaming", d.Reason)

	// One ready sample: awaiting its echo.
	f.sample(t, "final", capture.FidelityCanonical)
	d = f.resolver.DecideByConversation("conv-1")
	assert.Equal(t, "awaiting a second matching canonical sample", d.Reason)
}

// TestResolver_DecideByAttempt tests attempt-keyed decisions.
func TestResolver_DecideByAttempt(t *testing.T) {
	f := newResolverFixture(t, nil)

	d := f.resolver.DecideByAttempt("ghost")
	assert.Equal(t, NotReady, d.Outcome)
	assert.Equal(t, "attempt unknown", d.Reason)

	f.sample(t, "final", capture.FidelityCanonical)
	f.sample(t, "final", capture.FidelityCanonical)
	d = f.resolver.DecideByAttempt("a-1")
	assert.Equal(t, CanonicalReady, d.Outcome)
}

// legacyStub is a LegacyJudge with a fixed verdict.
type legacyStub struct {
	outcome Outcome
	ok      bool
}

func (l legacyStub) Judge(string) (Outcome, bool) {
	return l.outcome, l.ok
}

// TestResolver_LegacyAgreement tests that agreement produces no mismatch log.
func TestResolver_LegacyAgreement(t *testing.T) {
	f := newResolverFixture(t, legacyStub{outcome: NotReady, ok: true})

	d := f.resolver.DecideByConversation("conv-1")
	assert.Equal(t, NotReady, d.Outcome)
	assert.Empty(t, f.sink.Named("legacy_mismatch"))
}

// TestResolver_LegacyMismatchLogged tests that the engine wins and the
// disagreement is logged.
func TestResolver_LegacyMismatchLogged(t *testing.T) {
	f := newResolverFixture(t, legacyStub{outcome: CanonicalReady, ok: true})

	d := f.resolver.DecideByConversation("conv-1")
	assert.Equal(t, NotReady, d.Outcome) // engine authoritative

	mismatches := f.sink.Named("legacy_mismatch")
	require.Len(t, mismatches, 1)
	assert.Equal(t, eventlog.LevelWarn, mismatches[0].Level)
	assert.Equal(t, "not_ready", mismatches[0].Payload["engine"])
	assert.Equal(t, "canonical_ready", mismatches[0].Payload["legacy"])
}

// TestResolver_LegacyAbstains tests that an abstaining legacy judge is
// ignored.
func TestResolver_LegacyAbstains(t *testing.T) {
	f := newResolverFixture(t, legacyStub{ok: false})

	d := f.resolver.DecideByConversation("conv-1")
	assert.Equal(t, NotReady, d.Outcome)
	assert.Empty(t, f.sink.Named("legacy_mismatch"))
}
