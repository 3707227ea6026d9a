package journal

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/simfed/fedkit"
	"github.com/simfed/fedkit/codec"
	testutils "github.com/simfed/fedkit/test_utils"
	"github.com/simfed/fedkit/utils"
)

func testLog() utils.Logger {
	return utils.NewDefaultLogger(slog.LevelError)
}

func aircraftFields() fedkit.Fields {
	return fedkit.Fields{
		{Name: "Position", Type: codec.Type{Kind: codec.Float64}},
		{Name: "Callsign", Type: codec.Type{Kind: codec.ASCII}},
	}
}

func TestJournalAppendAndRecent(t *testing.T) {
	j, err := Open(t.TempDir(), testLog())
	assert.NoError(t, err)
	defer func() { _ = j.Close() }()
	assert.NotEmpty(t, j.Run())

	rec, err := fedkit.NewObjectRecord("Aircraft", aircraftFields())
	assert.NoError(t, err)
	assert.NoError(t, rec.Set("Position", codec.FloatValue(codec.Float64, 42.5)))

	assert.NoError(t, j.LogSyncPoint("Run", 0))
	assert.NoError(t, j.LogUpdate(rec, 1.5))

	entries, err := j.Recent(10)
	assert.NoError(t, err)
	// newest first, with the meta entry from Open at the tail
	assert.Len(t, entries, 3)
	assert.Equal(t, "update", entries[0].Kind)
	assert.Equal(t, "Aircraft", entries[0].Class)
	assert.Equal(t, 1.5, entries[0].Time)
	assert.Equal(t, 42.5, entries[0].Fields["Position"])
	assert.NotContains(t, entries[0].Fields, "Callsign")
	assert.Equal(t, "sync", entries[1].Kind)
	assert.Equal(t, "Run", entries[1].Label)
	assert.Equal(t, "meta", entries[2].Kind)
	for _, e := range entries {
		assert.Equal(t, j.Run(), e.Run)
	}
}

func TestJournalRecentReadsPastTheCache(t *testing.T) {
	j, err := Open(t.TempDir(), testLog())
	assert.NoError(t, err)
	defer func() { _ = j.Close() }()

	for i := 0; i < 5; i++ {
		assert.NoError(t, j.LogSyncPoint("Run", float64(i)))
	}
	j.cache.Purge()

	entries, err := j.Recent(3)
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, 4.0, entries[0].Time)
	assert.Equal(t, 2.0, entries[2].Time)
}

func TestJournalSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir, testLog())
	assert.NoError(t, err)
	firstRun := j.Run()
	assert.NoError(t, j.LogSyncPoint("Run", 1))
	assert.NoError(t, j.Close())

	j, err = Open(dir, testLog())
	assert.NoError(t, err)
	defer func() { _ = j.Close() }()
	assert.NotEqual(t, firstRun, j.Run())

	entries, err := j.Recent(10)
	assert.NoError(t, err)
	// two meta entries, one sync; nothing overwritten
	assert.Len(t, entries, 3)
	assert.Equal(t, j.Run(), entries[0].Run)
	assert.Equal(t, firstRun, entries[1].Run)
}

func TestJournalClosed(t *testing.T) {
	j, err := Open(t.TempDir(), testLog())
	assert.NoError(t, err)
	assert.NoError(t, j.Close())
	assert.ErrorIs(t, j.LogSyncPoint("Run", 0), ErrClosed)
	_, err = j.Recent(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, j.Close(), ErrClosed)
}

func TestLoggerFederateJournalsInbound(t *testing.T) {
	j, err := Open(t.TempDir(), testLog())
	assert.NoError(t, err)
	defer func() { _ = j.Close() }()

	rt := testutils.NewRuntime()
	lf := NewLoggerFederate(rt, fedkit.Options{
		Federation: "Exercise",
		Name:       "logger",
		Type:       "logger",
		Log:        testLog(),
	}, j)
	assert.NoError(t, lf.RegisterObject("Aircraft", aircraftFields()))
	assert.NoError(t, lf.RegisterInteraction("RadioMessage", fedkit.Fields{
		{Name: "Text", Type: codec.Type{Kind: codec.Unicode}},
	}))
	assert.NoError(t, lf.Setup(context.Background()))
	assert.Contains(t, rt.Calls, "object:Aircraft")
	assert.Contains(t, rt.Calls, "interaction:RadioMessage")

	pos, err := codec.Encode(codec.FloatValue(codec.Float64, 7.25))
	assert.NoError(t, err)
	text, err := codec.Encode(codec.UnicodeValue("mayday"))
	assert.NoError(t, err)

	rt.Script(func(l fedkit.Listener) {
		l.DiscoverInstance(rt.Handle("instance/a1"), rt.Handle("Aircraft"), "a1")
		l.ReflectAttributes(rt.Handle("instance/a1"),
			map[fedkit.Handle][]byte{rt.Handle("Aircraft.Position"): pos}, 2.0)
		l.ReceiveInteraction(rt.Handle("RadioMessage"),
			map[fedkit.Handle][]byte{rt.Handle("RadioMessage.Text"): text}, 2.0)
		l.FederationSynchronized("Run")
	})
	assert.NoError(t, rt.Poll(0, 0))

	entries, err := j.Recent(10)
	assert.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Equal(t, "sync", entries[0].Kind)
	assert.Equal(t, "Run", entries[0].Label)
	assert.Equal(t, "interaction", entries[1].Kind)
	assert.Equal(t, "mayday", entries[1].Fields["Text"])
	assert.Equal(t, "update", entries[2].Kind)
	assert.Equal(t, 7.25, entries[2].Fields["Position"])
	assert.Equal(t, 2.0, entries[2].Time)
}
