// Package pipeline implements the concurrent fetch-decode-assemble core:
// producer goroutines download strip fragments in arbitrary order, a
// bounded ring hands them to consumer goroutines, and consumers decode
// each fragment into its slot of a shared raster buffer. Slots are
// disjoint per sequence number, so consumers never contend on the raster.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ratcht/pngcore/internal/fetch"
	"github.com/ratcht/pngcore/internal/png"
	"github.com/ratcht/pngcore/internal/zutil"
)

const (
	// Total is the number of strips the server splits each image into.
	Total = 50

	// Strip geometry: 400x6 RGBA-8 plus one filter byte per scanline.
	StripWidth  = 400
	StripHeight = 6

	// InflatedStripSize is the byte size of one decompressed strip.
	InflatedStripSize = StripHeight * (StripWidth*4 + 1)

	// maxFetchAttempts bounds how often a producer retries one sequence
	// before abandoning it. Without the bound a dead origin would leave
	// the consumers waiting forever.
	maxFetchAttempts = 3
)

// ErrIncomplete is returned by Run when some sequences were abandoned;
// the raster has holes and no output image should be written.
var ErrIncomplete = errors.New("pipeline: not all fragments were assembled")

// Fetcher retrieves one fragment. *fetch.Client satisfies it; tests
// substitute their own.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Response, error)
}

// Options configures a pipeline run. Total and Logger are optional and
// default to the server's strip count and slog.Default.
type Options struct {
	BufferSize    int
	NumProducers  int
	NumConsumers  int
	ConsumerDelay time.Duration
	ImageNum      int
	Endpoint      string

	Total   int
	Fetcher Fetcher
	Logger  *slog.Logger
}

// Pipeline owns the ring, the coordinator and the raster buffer for the
// duration of one run.
type Pipeline struct {
	opts    Options
	ring    *Ring
	coord   *Coordinator
	raster  []byte
	elapsed time.Duration
}

// New validates opts and allocates the shared state.
func New(opts Options) (*Pipeline, error) {
	if opts.Total == 0 {
		opts.Total = Total
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Fetcher == nil {
		return nil, errors.New("pipeline: no fetcher")
	}
	if opts.BufferSize < 1 || opts.BufferSize > opts.Total {
		return nil, fmt.Errorf("pipeline: buffer size %d out of range [1, %d]", opts.BufferSize, opts.Total)
	}
	if opts.NumProducers < 1 || opts.NumConsumers < 1 {
		return nil, errors.New("pipeline: need at least one producer and one consumer")
	}

	return &Pipeline{
		opts:   opts,
		ring:   NewRing(opts.BufferSize),
		coord:  NewCoordinator(opts.Total),
		raster: make([]byte, InflatedStripSize*opts.Total),
	}, nil
}

// Run spawns the workers, waits for the pipeline to drain, and records
// the wall time. It returns ErrIncomplete (with the missing sequences
// logged) when any fragment was abandoned.
func (p *Pipeline) Run(ctx context.Context) error {
	start := time.Now()

	var producers sync.WaitGroup
	for i := range p.opts.NumProducers {
		producers.Add(1)
		go func() {
			defer producers.Done()
			p.producer(ctx, i)
		}()
	}

	var consumers sync.WaitGroup
	for i := range p.opts.NumConsumers {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			p.consumer(i)
		}()
	}

	producers.Wait()
	// No more Puts can happen. If the last sequences were abandoned on
	// the producer side, no consumer observes a final MarkConsumed, so
	// make sure idle consumers re-check the done condition.
	if p.coord.DoneConsuming() {
		p.ring.Wake()
	}
	consumers.Wait()

	p.elapsed = time.Since(start)

	if missing := p.coord.Missing(); missing != nil {
		p.opts.Logger.Error("pipeline incomplete",
			slog.Int("consumed", p.coord.Consumed()),
			slog.Any("missing", missing))
		return fmt.Errorf("%w: missing %v", ErrIncomplete, missing)
	}
	return nil
}

// Elapsed returns the wall time of the last Run.
func (p *Pipeline) Elapsed() time.Duration {
	return p.elapsed
}

// Raster exposes the assembled scanline buffer. Only meaningful after a
// successful Run.
func (p *Pipeline) Raster() []byte {
	return p.raster
}

// Result compresses the assembled raster into the final PNG document:
// one image of StripWidth x (StripHeight * total) RGBA-8 pixels.
func (p *Pipeline) Result() (*png.SimplePNG, error) {
	idat, err := zutil.Deflate(p.raster, zutil.DefaultLevel)
	if err != nil {
		return nil, fmt.Errorf("pipeline: compressing raster: %w", err)
	}
	return &png.SimplePNG{
		Header: png.IHDRData{
			Width:     StripWidth,
			Height:    uint32(StripHeight * p.opts.Total),
			BitDepth:  8,
			ColorType: png.ColorRGBA,
		},
		IDAT: idat,
	}, nil
}

// producer claims sequences and downloads them until the sequence space
// is exhausted. Fetch failures and header mismatches are retried a
// bounded number of times, then the sequence is abandoned.
func (p *Pipeline) producer(ctx context.Context, id int) {
	logger := p.opts.Logger.With(slog.Int("producer", id))

	for {
		seq, ok := p.coord.Claim()
		if !ok {
			return
		}
		url := fetch.FragmentURL(p.opts.Endpoint, p.opts.ImageNum, seq)

		var frag *Fragment
		for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
			resp, err := p.opts.Fetcher.Fetch(ctx, url)
			if err != nil {
				logger.Warn("fetch failed",
					slog.Int("seq", seq), slog.Int("attempt", attempt), slog.String("error", err.Error()))
				continue
			}
			if resp.Seq != seq {
				logger.Warn("sequence mismatch",
					slog.Int("seq", seq), slog.Int("got", resp.Seq), slog.Int("attempt", attempt))
				continue
			}

			frag = &Fragment{Seq: seq}
			frag.Length = copy(frag.Data[:], resp.Body)
			break
		}

		if frag == nil {
			logger.Error("abandoning fragment", slog.Int("seq", seq))
			p.coord.Abandon(seq)
			continue
		}
		p.ring.Put(frag)
	}
}

// consumer drains the ring, decodes each fragment and places its
// scanlines at seq * InflatedStripSize. Decode failures abandon the
// fragment; the worker itself never stops early.
func (p *Pipeline) consumer(id int) {
	logger := p.opts.Logger.With(slog.Int("consumer", id))

	for {
		if p.coord.DoneConsuming() {
			// Cascade the wake-up so idle peers can exit too.
			p.ring.Wake()
			return
		}

		frag, ok := p.ring.Get()
		if !ok {
			continue
		}

		if p.opts.ConsumerDelay > 0 {
			time.Sleep(p.opts.ConsumerDelay)
		}

		doc, err := png.Parse(frag.Body())
		if err != nil {
			logger.Warn("bad fragment", slog.Int("seq", frag.Seq), slog.String("error", err.Error()))
			p.coord.Abandon(frag.Seq)
			continue
		}
		if doc.FirstCRCError != nil {
			// Non-fatal: the origin is trusted, keep the data.
			logger.Warn("crc mismatch", slog.Int("seq", frag.Seq), slog.String("error", doc.FirstCRCError.Error()))
		}

		offset := frag.Seq * InflatedStripSize
		if offset < 0 || offset+InflatedStripSize > len(p.raster) {
			logger.Warn("fragment out of range", slog.Int("seq", frag.Seq))
			p.coord.Abandon(frag.Seq)
			continue
		}

		if err := zutil.InflateTo(p.raster[offset:offset+InflatedStripSize], doc.IDAT); err != nil {
			logger.Warn("inflate failed", slog.Int("seq", frag.Seq), slog.String("error", err.Error()))
			p.coord.Abandon(frag.Seq)
			continue
		}

		p.coord.MarkConsumed()
	}
}
