package fedkit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simfed/fedkit"
	"github.com/simfed/fedkit/codec"
	testutils "github.com/simfed/fedkit/test_utils"
)

func newSession(rt *testutils.Runtime, opts fedkit.Options) *fedkit.Federate {
	if opts.Federation == "" {
		opts.Federation = "Exercise"
	}
	if opts.Name == "" {
		opts.Name = "viewer"
	}
	if opts.Type == "" {
		opts.Type = "observer"
	}
	return fedkit.New(rt, opts)
}

func TestSetupSequence(t *testing.T) {
	rt := testutils.NewRuntime()
	joined := false
	fed := newSession(rt, fedkit.Options{
		RequiredFederates: []string{"radar"},
		JoinMonitor: testutils.Monitor{
			AllJoinedFunc: func() bool { return joined },
		},
		PublishSubscribe: func(f *fedkit.Federate) error {
			return f.PublishObjectClass("Aircraft", []string{"Position"}, true, true)
		},
	})

	rt.Script(func(fedkit.Listener) { joined = true })
	require.NoError(t, fed.Setup(context.Background()))

	assert.Equal(t, []string{"connect", "create:Exercise", "join:viewer", "object:Aircraft"}, rt.Calls)
	assert.Equal(t, fedkit.Idle, fed.Stage())
	assert.Equal(t, fedkit.SyncNone, fed.SyncPoint(fedkit.RunSyncPoint))
	assert.Equal(t, 1, rt.Polls)
}

func TestSetupConnectFailureIsFatal(t *testing.T) {
	rt := testutils.NewRuntime()
	rt.ConnectErr = errors.New("no rti")
	fed := newSession(rt, fedkit.Options{})

	err := fed.Setup(context.Background())
	assert.ErrorIs(t, err, fedkit.ErrConnection)
	assert.Equal(t, fedkit.Disconnected, fed.Stage())
	assert.Equal(t, []string{"connect"}, rt.Calls)
}

func TestSetupFederationExistsIsSuccess(t *testing.T) {
	rt := testutils.NewRuntime()
	rt.CreateErr = fedkit.ErrFederationExists
	fed := newSession(rt, fedkit.Options{RequiredFederates: []string{"radar"}})

	require.NoError(t, fed.Setup(context.Background()))
	assert.Equal(t, fedkit.Idle, fed.Stage())
}

func TestSetupJoinTimeout(t *testing.T) {
	rt := testutils.NewRuntime()
	polls := 0
	fed := newSession(rt, fedkit.Options{
		RequiredFederates: []string{"radar", "tower"},
		JoinMonitor: testutils.Monitor{
			ExpiredFunc: func() bool { polls++; return polls > 3 },
		},
	})

	err := fed.Setup(context.Background())
	assert.ErrorIs(t, err, fedkit.ErrJoinTimeout)
	assert.Equal(t, 3, rt.Polls)
	assert.Equal(t, fedkit.Disconnected, fed.Stage())
}

func TestSetupPublishSubscribeFailureIsFatal(t *testing.T) {
	rt := testutils.NewRuntime()
	boom := errors.New("no such class")
	fed := newSession(rt, fedkit.Options{
		PublishSubscribe: func(*fedkit.Federate) error { return boom },
	})

	err := fed.Setup(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, fedkit.Disconnected, fed.Stage())
}

func TestSyncPointProtocol(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{SyncPoints: []string{"Staged"}})
	require.NoError(t, fed.Setup(context.Background()))

	l := rt.Listener
	assert.Equal(t, fedkit.SyncNone, fed.SyncPoint("Staged"))

	l.AnnounceSyncPoint(" Staged ")
	assert.Equal(t, fedkit.SyncRegistered, fed.SyncPoint("Staged"))

	l.FederationSynchronized("Staged")
	assert.Equal(t, fedkit.SyncAchieved, fed.SyncPoint("Staged"))

	// states never regress
	l.AnnounceSyncPoint("Staged")
	assert.Equal(t, fedkit.SyncAchieved, fed.SyncPoint("Staged"))

	l.AnnounceSyncPoint(fedkit.RunSyncPoint)
	l.FederationSynchronized(fedkit.RunSyncPoint)
	assert.True(t, fed.Running())
	assert.Equal(t, fedkit.SyncAchieved, fed.SyncPoint(fedkit.RunSyncPoint))
}

func TestShutdownWithoutRegistration(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{})
	require.NoError(t, fed.Setup(context.Background()))

	rt.Listener.AnnounceSyncPoint("Shutdown")
	assert.True(t, fed.ShuttingDown())
	assert.False(t, fed.Done())

	rt.Listener.FederationSynchronized("Shutdown")
	assert.True(t, fed.Done())
}

func TestUnknownLabelIsNonFatal(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{})
	require.NoError(t, fed.Setup(context.Background()))

	rt.Listener.FederationSynchronized("Mystery")
	assert.False(t, fed.Done())
	assert.False(t, fed.Running())
	assert.Equal(t, fedkit.Idle, fed.Stage())
}

func TestSendUpdateResetsDirty(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{
		Lookahead: 1,
		PublishSubscribe: func(f *fedkit.Federate) error {
			return f.PublishObjectClass("Aircraft", []string{"Position", "Health"}, true, false)
		},
	})
	require.NoError(t, fed.Setup(context.Background()))

	instance, err := fed.RegisterInstance("Aircraft", "bravo7")
	require.NoError(t, err)

	rec, _ := fedkit.NewObjectRecord("Aircraft", fedkit.Fields{
		{Name: "Position", Type: codec.Type{Kind: codec.Float64}},
		{Name: "Health", Type: codec.Type{Kind: codec.Int32}},
	})
	require.NoError(t, rec.Set("Health", codec.IntValue(codec.Int32, 42)))

	require.NoError(t, fed.SendUpdate(instance, rec))
	require.Len(t, rt.Updates, 1)
	sent := rt.Updates[0]
	assert.Equal(t, instance, sent.Target)
	assert.Equal(t, 1.0, sent.Time)
	assert.Equal(t, map[fedkit.Handle][]byte{rt.Handle("Aircraft.Health"): {0, 0, 0, 42}}, sent.Values)
	assert.Empty(t, rec.DirtyFields())

	// nothing dirty, nothing sent
	require.NoError(t, fed.SendUpdate(instance, rec))
	assert.Len(t, rt.Updates, 1)
}

func TestSendInteraction(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{
		PublishSubscribe: func(f *fedkit.Federate) error {
			return f.PublishInteractionClass("RadioMessage", []string{"Sender"}, true, false)
		},
	})
	require.NoError(t, fed.Setup(context.Background()))

	rec, _ := fedkit.NewInteractionRecord("RadioMessage", fedkit.Fields{
		{Name: "Sender", Type: codec.Type{Kind: codec.ASCII}},
	})
	require.NoError(t, rec.Set("Sender", codec.ASCIIValue("tower")))
	require.NoError(t, fed.SendInteraction(rec))
	require.Len(t, rt.Interactions, 1)
	assert.Equal(t, rt.Handle("RadioMessage"), rt.Interactions[0].Target)
	assert.Empty(t, rec.DirtyFields())
}

func TestInboundDispatchResolvesNames(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{
		PublishSubscribe: func(f *fedkit.Federate) error {
			return f.PublishObjectClass("Aircraft", []string{"Position"}, false, true)
		},
	})
	require.NoError(t, fed.Setup(context.Background()))

	var gotClass string
	var gotValues map[string][]byte
	fed.OnReflect = func(class string, instance fedkit.Handle, values map[string][]byte, tm float64) {
		gotClass = class
		gotValues = values
	}

	inst := rt.Handle("instance/remote")
	rt.Listener.DiscoverInstance(inst, rt.Handle("Aircraft"), "remote")
	rt.Listener.ReflectAttributes(inst, map[fedkit.Handle][]byte{
		rt.Handle("Aircraft.Position"): {0x40, 0x29, 0, 0, 0, 0, 0, 0},
	}, 3.0)

	assert.Equal(t, "Aircraft", gotClass)
	assert.Equal(t, map[string][]byte{"Position": {0x40, 0x29, 0, 0, 0, 0, 0, 0}}, gotValues)
}

func TestResignAlwaysRunsAllSteps(t *testing.T) {
	rt := testutils.NewRuntime()
	fed := newSession(rt, fedkit.Options{})
	require.NoError(t, fed.Setup(context.Background()))
	rt.Calls = nil
	rt.ResignErr = errors.New("rti gone")
	rt.DestroyErr = errors.New("federation in use")

	fed.Resign()
	assert.Equal(t, []string{"resign", "destroy:Exercise", "disconnect"}, rt.Calls)
	assert.Equal(t, fedkit.Disconnected, fed.Stage())
}
