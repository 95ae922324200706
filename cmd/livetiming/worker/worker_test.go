package worker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/shared"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/statecache"
	"github.com/Frank-III/f1-swifty-sub002/pkg/datamodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGap(t *testing.T) {
	cases := map[string]int64{
		"":        0,
		"+0.273":  273,
		"1L":      0,
		"LAP1":    0,
		"+12.5":   12500,
		"1.9999":  1999,
		"+0.001":  1,
		"3":       3000,
		" +1.1 ":  1100,
		"garbage": 0,
	}
	for in, expected := range cases {
		assert.Equalf(t, expected, ParseGap(in), "ParseGap(%q)", in)
	}
}

func TestParseLaptime(t *testing.T) {
	cases := map[string]int64{
		"1:21.306":  81306,
		"":          0,
		"0:59.999":  59999,
		"2:00.000":  120000,
		"81.306":    0,
		"1:2:3":     0,
		"a:21.306":  0,
		"1:21":      0,
		"1:75.000":  0,
		"1:+5.0":    0,
		"1:5.000":   0,
		"1:21.":     0,
		"-1:21.306": 0,
	}
	for in, expected := range cases {
		assert.Equalf(t, expected, ParseLaptime(in), "ParseLaptime(%q)", in)
	}
}

func TestParseSector(t *testing.T) {
	assert.Equal(t, int64(0), ParseSector(""))
	assert.Equal(t, int64(28114), ParseSector("28.114"))
	assert.Equal(t, int64(30000), ParseSector("30"))
	assert.Equal(t, int64(0), ParseSector("-"))
}

// diffOf applies every update to a fresh cache and returns the diff published for the last one
func diffOf(t *testing.T, updates ...string) statecache.Diff {
	t.Helper()
	cache := statecache.New(len(updates))
	sub := cache.Subscribe()
	defer cache.Unsubscribe(sub.ID)

	var diff statecache.Diff
	for _, update := range updates {
		cache.ApplyUpdate(datamodel.MustParseJSON(update))
		select {
		case diff = <-sub.C:
		case <-time.After(time.Second):
			require.FailNow(t, "no diff published")
		}
	}
	return diff
}

func TestExtractTimingSamples(t *testing.T) {
	t.Run("full-line", func(t *testing.T) {
		diff := diffOf(t, `{"timingData":{"lines":{"44":{
			"intervalToPositionAhead":{"value":"+0.273"},
			"gapToLeader":"+5.120",
			"lastLapTime":{"value":"1:21.306"},
			"sectors":[{"value":"28.114"},{"value":"30.002"},{"value":"23.190"}],
			"numberOfLaps":12}}}}`)

		samples := ExtractTimingSamples(diff)
		require.Len(t, samples, 1)
		s := samples[0]
		assert.Equal(t, "44", s.DriverNumber)
		require.NotNil(t, s.Lap)
		assert.Equal(t, int64(12), *s.Lap)
		assert.Equal(t, int64(273), s.GapMs)
		assert.Equal(t, int64(5120), s.LeaderGapMs)
		assert.Equal(t, int64(81306), s.LapTimeMs)
		assert.Equal(t, int64(28114), s.Sector1Ms)
		assert.Equal(t, int64(30002), s.Sector2Ms)
		assert.Equal(t, int64(23190), s.Sector3Ms)
		assert.Equal(t, diff.Timestamp, s.CapturedAt)
	})
	t.Run("sector-update-falls-back-to-previous-line", func(t *testing.T) {
		diff := diffOf(t,
			`{"timingData":{"lines":{"1":{"lastLapTime":{"value":"1:30.000"},"numberOfLaps":3,
				"sectors":[{"value":"30.1"},{"value":"30.2"},{"value":"29.7"}]}}}}`,
			`{"timingData":{"lines":{"1":{"sectors":{"1":{"value":"31.5"}}}}}}`)

		samples := ExtractTimingSamples(diff)
		require.Len(t, samples, 1)
		assert.Equal(t, int64(90000), samples[0].LapTimeMs)
		assert.Equal(t, int64(30100), samples[0].Sector1Ms)
		assert.Equal(t, int64(31500), samples[0].Sector2Ms)
		assert.Equal(t, int64(29700), samples[0].Sector3Ms)
		require.NotNil(t, samples[0].Lap)
		assert.Equal(t, int64(3), *samples[0].Lap)
	})
	t.Run("other-drivers-untouched", func(t *testing.T) {
		diff := diffOf(t,
			`{"timingData":{"lines":{"1":{"lastLapTime":{"value":"1:30.000"}},"4":{"lastLapTime":{"value":"1:31.000"}}}}}`,
			`{"timingData":{"lines":{"4":{"gapToLeader":"+1.000"}}}}`)

		samples := ExtractTimingSamples(diff)
		require.Len(t, samples, 1)
		assert.Equal(t, "4", samples[0].DriverNumber)
		assert.Equal(t, int64(91000), samples[0].LapTimeMs)
		assert.Equal(t, int64(1000), samples[0].LeaderGapMs)
	})
	t.Run("irrelevant-fields-only", func(t *testing.T) {
		diff := diffOf(t, `{"timingData":{"lines":{"44":{"position":"1","inPit":false}}}}`)
		assert.Empty(t, ExtractTimingSamples(diff))
	})
	t.Run("lapped-car", func(t *testing.T) {
		diff := diffOf(t, `{"timingData":{"lines":{"22":{"gapToLeader":"1L"}}}}`)
		samples := ExtractTimingSamples(diff)
		require.Len(t, samples, 1)
		assert.Equal(t, int64(0), samples[0].LeaderGapMs)
		assert.Nil(t, samples[0].Lap)
	})
}

func TestExtractTireRecords(t *testing.T) {
	t.Run("last-stint", func(t *testing.T) {
		diff := diffOf(t, `{"timingData":{"lines":{"16":{"numberOfLaps":20}}}}`, `{"timingAppData":{"lines":{"16":{"stints":[
			{"compound":"SOFT","totalLaps":15},
			{"compound":"HARD","totalLaps":4}]}}}}`)

		records := ExtractTireRecords(diff)
		require.Len(t, records, 1)
		assert.Equal(t, "16", records[0].DriverNumber)
		assert.Equal(t, "HARD", records[0].Compound)
		assert.Equal(t, int64(4), records[0].LapsOnTire)
		require.NotNil(t, records[0].Lap)
		assert.Equal(t, int64(20), *records[0].Lap)
	})
	t.Run("index-keyed-stints", func(t *testing.T) {
		diff := diffOf(t,
			`{"timingAppData":{"lines":{"16":{"stints":[{"compound":"SOFT","totalLaps":12},{"compound":"MEDIUM","totalLaps":7}]}}}}`,
			`{"timingAppData":{"lines":{"16":{"stints":{"1":{"totalLaps":8}}}}}}`)

		records := ExtractTireRecords(diff)
		require.Len(t, records, 1)
		assert.Equal(t, "MEDIUM", records[0].Compound)
		assert.Equal(t, int64(8), records[0].LapsOnTire)
	})
	t.Run("new-stint-without-compound", func(t *testing.T) {
		diff := diffOf(t,
			`{"timingAppData":{"lines":{"16":{"stints":[{"compound":"SOFT","totalLaps":12}]}}}}`,
			`{"timingAppData":{"lines":{"16":{"stints":{"1":{"totalLaps":0}}}}}}`)
		assert.Empty(t, ExtractTireRecords(diff))
	})
	t.Run("lap-from-previous-timing-line", func(t *testing.T) {
		diff := diffOf(t,
			`{"timingData":{"lines":{"16":{"numberOfLaps":20}}}}`,
			`{"timingData":{"lines":{"16":{"gapToLeader":"+2.0"}}},"timingAppData":{"lines":{"16":{"stints":[{"compound":"HARD","totalLaps":1}]}}}}`)

		records := ExtractTireRecords(diff)
		require.Len(t, records, 1)
		require.NotNil(t, records[0].Lap)
		assert.Equal(t, int64(20), *records[0].Lap)
	})
	t.Run("no-compound", func(t *testing.T) {
		diff := diffOf(t, `{"timingAppData":{"lines":{"16":{"stints":[{"totalLaps":2}]}}}}`)
		assert.Empty(t, ExtractTireRecords(diff))
	})
	t.Run("unrelated-stint-fields", func(t *testing.T) {
		diff := diffOf(t, `{"timingAppData":{"lines":{"16":{"stints":[{"new":"true"}]}}}}`)
		assert.Empty(t, ExtractTireRecords(diff))
	})
}

type recordingSink struct {
	mu      sync.Mutex
	samples []shared.TimingSample
	records []shared.TireRecord
}

func (r *recordingSink) EnqueueTimingSample(sample shared.TimingSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample)
}

func (r *recordingSink) EnqueueTireRecord(record shared.TireRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *recordingSink) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples), len(r.records)
}

func TestPipelineSelectivity(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(statecache.New(0), sink)

	p.Process(diffOf(t, `{"positionData":{"lines":{"44":{"x":1,"y":2}}}}`))
	samples, records := sink.counts()
	assert.Zero(t, samples)
	assert.Zero(t, records)

	p.Process(diffOf(t, `{"timingData":{"lines":{"44":{"gapToLeader":"+1.0"}}},"timingAppData":{"lines":{"44":{"stints":[{"compound":"SOFT"}]}}}}`))
	samples, records = sink.counts()
	assert.Equal(t, 1, samples)
	assert.Equal(t, 1, records)
}

func TestPipelineStartStop(t *testing.T) {
	cache := statecache.New(0)
	sink := &recordingSink{}
	p := NewPipeline(cache, sink)
	p.Start()

	cache.ApplyUpdate(datamodel.MustParseJSON(`{"timingData":{"lines":{"1":{"lastLapTime":{"value":"1:20.000"}}}}}`))
	cache.ApplyUpdate(datamodel.MustParseJSON(`{"weatherData":{"airTemp":"21.3"}}`))

	assert.Eventually(t, func() bool {
		samples, _ := sink.counts()
		return samples == 1
	}, 5*time.Second, 10*time.Millisecond)

	p.Stop()
	p.Stop()
	assert.Equal(t, 0, cache.Statistics().SubscriberCount)
}

// gatedSink blocks every call until release is closed
type gatedSink struct {
	recordingSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSink() *gatedSink {
	return &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSink) EnqueueTimingSample(sample shared.TimingSample) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	g.recordingSink.EnqueueTimingSample(sample)
}

func lapUpdate(lap int) datamodel.Value {
	return datamodel.MustParseJSON(fmt.Sprintf(`{"timingData":{"lines":{"1":{"lastLapTime":{"value":"1:20.000"},"numberOfLaps":%d}}}}`, lap))
}

// overflow applies updates while the pipeline is stuck in the sink until the cache drops it
func overflow(t *testing.T, cache *statecache.Cache, sink *gatedSink) {
	t.Helper()
	cache.ApplyUpdate(lapUpdate(1))
	select {
	case <-sink.entered:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "pipeline never reached the sink")
	}
	for lap := 2; cache.Statistics().DroppedSubscribers == 0; lap++ {
		require.Less(t, lap, 100)
		cache.ApplyUpdate(lapUpdate(lap))
	}
	assert.Equal(t, 0, cache.Statistics().SubscriberCount)
}

func TestPipelineResubscribesWhenDropped(t *testing.T) {
	cache := statecache.New(0)
	sink := newGatedSink()
	p := NewPipeline(cache, sink)
	p.bufferSize = 1
	p.Start()
	defer p.Stop()

	overflow(t, cache, sink)
	close(sink.release)

	require.Eventually(t, func() bool {
		return cache.Statistics().SubscriberCount == 1
	}, 5*time.Second, 10*time.Millisecond)
	before, _ := sink.counts()

	cache.ApplyUpdate(lapUpdate(50))
	assert.Eventually(t, func() bool {
		samples, _ := sink.counts()
		return samples == before+1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPipelineStopWhileDropped(t *testing.T) {
	cache := statecache.New(0)
	sink := newGatedSink()
	p := NewPipeline(cache, sink)
	p.bufferSize = 1
	p.Start()

	overflow(t, cache, sink)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	close(sink.release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Stop did not return")
	}
	assert.Equal(t, 0, cache.Statistics().SubscriberCount)
}
