package fedkit_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/simfed/fedkit"
	testutils "github.com/simfed/fedkit/test_utils"
)

func TestCollectorScrape(t *testing.T) {
	rt := testutils.NewRuntime()
	rt.AutoGrant = true
	f := fedkit.New(rt, fedkit.Options{Federation: "Exercise", Name: "pilot", StepSize: 2.0})
	assert.NoError(t, f.Setup(context.Background()))

	c := fedkit.NewCollector(f)
	// one series per gauge and counter, plus one per tracked sync point
	assert.Equal(t, 6, testutil.CollectAndCount(c))

	assert.NoError(t, f.AdvanceBy(context.Background()))
	f.FederationSynchronized(fedkit.RunSyncPoint)

	expected := `
		# HELP fedkit_federate_time Current logical time of the federate
		# TYPE fedkit_federate_time gauge
		fedkit_federate_time{federate="pilot",federation="Exercise"} 2
		# HELP fedkit_running Whether the federation start point has been achieved
		# TYPE fedkit_running gauge
		fedkit_running{federate="pilot",federation="Exercise"} 1
		# HELP fedkit_time_grants_total Total number of time advance grants received
		# TYPE fedkit_time_grants_total counter
		fedkit_time_grants_total{federate="pilot",federation="Exercise"} 1
	`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"fedkit_federate_time", "fedkit_running", "fedkit_time_grants_total"))
}

// Scrapes arrive on their own goroutine; run them against a busy polling
// loop so the race detector can see any unguarded session field.
func TestCollectorScrapesDuringPolling(t *testing.T) {
	rt := testutils.NewRuntime()
	rt.AutoGrant = true
	fed := newSession(rt, fedkit.Options{StepSize: 1.0})
	assert.NoError(t, fed.Setup(context.Background()))

	c := fedkit.NewCollector(fed)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				testutil.CollectAndCount(c)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		rt.Script(func(l fedkit.Listener) {
			l.AnnounceSyncPoint(fedkit.RunSyncPoint)
			l.FederationSynchronized(fedkit.RunSyncPoint)
		})
		assert.NoError(t, fed.AdvanceBy(context.Background()))
	}
	close(done)
	wg.Wait()

	assert.Equal(t, 200.0, fed.Time())
	assert.True(t, fed.Running())
}
