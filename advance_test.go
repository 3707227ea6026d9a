package fedkit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simfed/fedkit"
	testutils "github.com/simfed/fedkit/test_utils"
)

func TestAdvanceGrantLoop(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{StepSize: 2.5})
	require.NoError(t, fed.Setup(context.Background()))
	rt.AutoGrant = true
	rt.Polls = 0

	require.NoError(t, fed.AdvanceTo(context.Background(), 10.0))
	assert.Equal(t, 10.0, fed.Time())
	assert.Equal(t, fedkit.Idle, fed.Stage())
	// the wait must end on the exact poll that delivered the grant
	assert.Equal(t, 1, rt.Polls)
}

func TestAdvanceVariantsShareTargets(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{StepSize: 2.5, TimeOffset: 0.25})
	require.NoError(t, fed.Setup(context.Background()))
	rt.AutoGrant = true

	require.NoError(t, fed.AdvanceBy(context.Background()))
	assert.Equal(t, 2.5, fed.Time())

	require.NoError(t, fed.AdvanceBy(context.Background()))
	assert.Equal(t, 5.0, fed.Time())

	require.NoError(t, fed.AdvanceToOffset(context.Background(), 7.0))
	assert.Equal(t, 7.25, fed.Time())

	require.NoError(t, fed.NextMessage(context.Background(), 9.0))
	assert.Equal(t, 9.0, fed.Time())
	assert.Contains(t, rt.Calls, "next")
}

func TestAdvanceGrantValueIsAuthoritative(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{})
	require.NoError(t, fed.Setup(context.Background()))

	// event-stepped runtimes may grant less than requested
	rt.Script(func(l fedkit.Listener) { l.TimeAdvanceGrant(4.5) })
	require.NoError(t, fed.AdvanceTo(context.Background(), 10.0))
	assert.Equal(t, 4.5, fed.Time())
}

func TestAdvancePreemptedByShutdown(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{})
	require.NoError(t, fed.Setup(context.Background()))

	rt.Script(func(l fedkit.Listener) { l.AnnounceSyncPoint("Shutdown") })
	require.NoError(t, fed.AdvanceTo(context.Background(), 10.0))
	assert.True(t, fed.ShuttingDown())
	assert.Equal(t, 0.0, fed.Time())
	assert.Equal(t, fedkit.Idle, fed.Stage())
}

func TestAdvanceRequestRefused(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{})
	require.NoError(t, fed.Setup(context.Background()))
	rt.AdvanceErr = errors.New("not regulating")

	err := fed.AdvanceTo(context.Background(), 1.0)
	assert.ErrorIs(t, err, fedkit.ErrAdvance)
	assert.Equal(t, fedkit.Idle, fed.Stage())
}

func TestAdvanceFailsClosedOnDeadline(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{})
	require.NoError(t, fed.Setup(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	err := fed.AdvanceTo(ctx, 10.0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnableRegulationAndConstrained(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{Lookahead: 0.5})
	require.NoError(t, fed.Setup(context.Background()))
	rt.AutoEnable = true

	require.NoError(t, fed.EnableRegulationAndConstrained(context.Background()))
	assert.True(t, fed.RegulationEnabled())
	assert.True(t, fed.ConstrainedEnabled())
	assert.Contains(t, rt.Calls, "regulation")
	assert.Contains(t, rt.Calls, "constrained")

	require.NoError(t, fed.DisableRegulationAndConstrained())
	assert.False(t, fed.RegulationEnabled())
	assert.False(t, fed.ConstrainedEnabled())
}

func TestTimestampIsTimePlusLookahead(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{Lookahead: 0.5})
	require.NoError(t, fed.Setup(context.Background()))
	rt.AutoGrant = true
	require.NoError(t, fed.AdvanceTo(context.Background(), 3.0))
	assert.Equal(t, 3.5, fed.Timestamp())
}
