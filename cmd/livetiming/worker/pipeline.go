package worker

import (
	"sync"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/shared"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/statecache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// PipelineBufferSize is the subscriber queue length of the persistence pipeline
const PipelineBufferSize = 4096

var (
	timingSamplesExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livetiming_timing_samples_extracted_total",
		Help: "The total number of timing samples handed to storage",
	})
	tireRecordsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livetiming_tire_records_extracted_total",
		Help: "The total number of tire records handed to storage",
	})
	pipelineResubscriptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livetiming_pipeline_resubscriptions_total",
		Help: "The total number of times the persistence pipeline had to resubscribe",
	})
)

// Sink accepts derived records. Implementations must not block.
type Sink interface {
	EnqueueTimingSample(sample shared.TimingSample)
	EnqueueTireRecord(record shared.TireRecord)
}

// Pipeline turns the diff stream of the cache into derived records
type Pipeline struct {
	cache      *statecache.Cache
	sink       Sink
	bufferSize int

	mu      sync.Mutex
	sub     *statecache.Subscription
	stop    chan struct{}
	done    chan struct{}
	started bool
}

func NewPipeline(cache *statecache.Cache, sink Sink) *Pipeline {
	return &Pipeline{
		cache:      cache,
		sink:       sink,
		bufferSize: PipelineBufferSize,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start subscribes to the cache and processes diffs in the background
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.sub = p.subscribe()
	go p.loop(p.sub)
}

// Stop unsubscribes and waits for the current diff to be processed
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	select {
	case <-p.stop:
		p.mu.Unlock()
		<-p.done
		return
	default:
	}
	close(p.stop)
	sub := p.sub
	p.mu.Unlock()

	p.cache.Unsubscribe(sub.ID)
	<-p.done
	zap.S().Infof("Persistence pipeline stopped")
}

func (p *Pipeline) subscribe() *statecache.Subscription {
	return p.cache.Subscribe(statecache.WithBufferSize(p.bufferSize), statecache.WithName("persistence"))
}

func (p *Pipeline) loop(sub *statecache.Subscription) {
	defer close(p.done)
	zap.S().Debugf("Started persistence pipeline")
	for {
		select {
		case <-p.stop:
			return
		case diff, ok := <-sub.C:
			if ok {
				p.Process(diff)
				continue
			}
			if sub.Reason() != statecache.ReasonSlowConsumer {
				zap.S().Infof("Persistence subscription ended: %s", sub.Reason())
				return
			}

			zap.S().Warnf("Persistence pipeline fell behind, resubscribing. Rows for missed updates are lost")
			pipelineResubscriptions.Inc()
			p.mu.Lock()
			select {
			case <-p.stop:
				p.mu.Unlock()
				return
			default:
			}
			sub = p.subscribe()
			p.sub = sub
			p.mu.Unlock()
		}
	}
}

// Process extracts the derived records of a single diff and hands them to the sink
func (p *Pipeline) Process(diff statecache.Diff) {
	samples := ExtractTimingSamples(diff)
	for _, sample := range samples {
		p.sink.EnqueueTimingSample(sample)
	}
	timingSamplesExtracted.Add(float64(len(samples)))

	records := ExtractTireRecords(diff)
	for _, record := range records {
		p.sink.EnqueueTireRecord(record)
	}
	tireRecordsExtracted.Add(float64(len(records)))
}
