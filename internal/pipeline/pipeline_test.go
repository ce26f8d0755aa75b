package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ratcht/pngcore/internal/fetch"
	"github.com/ratcht/pngcore/internal/png"
	"github.com/ratcht/pngcore/internal/zutil"
)

var (
	red   = [4]byte{0xFF, 0x00, 0x00, 0xFF}
	green = [4]byte{0x00, 0xFF, 0x00, 0xFF}
	blue  = [4]byte{0x00, 0x00, 0xFF, 0xFF}
	white = [4]byte{0xFF, 0xFF, 0xFF, 0xFF}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stripRaster builds the decompressed form of one strip filled with a
// single color: StripHeight scanlines of filter byte 0 plus StripWidth
// RGBA pixels.
func stripRaster(color [4]byte) []byte {
	raster := make([]byte, 0, InflatedStripSize)
	for range StripHeight {
		raster = append(raster, 0x00)
		for range StripWidth {
			raster = append(raster, color[:]...)
		}
	}
	return raster
}

// stripPNG encodes one strip as the three-chunk fragment PNG the server
// would serve.
func stripPNG(t *testing.T, color [4]byte) []byte {
	t.Helper()

	idat, err := zutil.Deflate(stripRaster(color), zutil.DefaultLevel)
	require.NoError(t, err)

	doc := &png.SimplePNG{
		Header: png.IHDRData{
			Width:     StripWidth,
			Height:    StripHeight,
			BitDepth:  8,
			ColorType: png.ColorRGBA,
		},
		IDAT: idat,
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf))
	return buf.Bytes()
}

// mockFetcher serves canned fragment bodies keyed by sequence number,
// with optional injected failures.
type mockFetcher struct {
	mu       sync.Mutex
	bodies   map[int][]byte
	failures map[int]int // remaining failures per sequence
	badSeq   map[int]int // respond with this sequence instead
	calls    int
}

func (m *mockFetcher) Fetch(_ context.Context, rawURL string) (*fetch.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	seq, err := strconv.Atoi(u.Query().Get("part"))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.failures[seq] > 0 {
		m.failures[seq]--
		return nil, errors.New("mock transport failure")
	}
	if wrong, ok := m.badSeq[seq]; ok {
		return &fetch.Response{Seq: wrong, Body: m.bodies[seq]}, nil
	}

	body, ok := m.bodies[seq]
	if !ok {
		return nil, fmt.Errorf("no such fragment %d", seq)
	}
	return &fetch.Response{Seq: seq, Body: body}, nil
}

// strips builds bodies for total fragments cycling through the given
// colors.
func strips(t *testing.T, total int, colors ...[4]byte) map[int][]byte {
	t.Helper()
	bodies := make(map[int][]byte, total)
	for i := range total {
		bodies[i] = stripPNG(t, colors[i%len(colors)])
	}
	return bodies
}

func newTestPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	fetcher := &mockFetcher{}

	t.Run("rejects zero buffer", func(t *testing.T) {
		_, err := New(Options{BufferSize: 0, NumProducers: 1, NumConsumers: 1, Fetcher: fetcher})
		require.Error(t, err)
	})

	t.Run("rejects buffer larger than total", func(t *testing.T) {
		_, err := New(Options{BufferSize: 5, NumProducers: 1, NumConsumers: 1, Total: 4, Fetcher: fetcher})
		require.Error(t, err)
	})

	t.Run("rejects missing fetcher", func(t *testing.T) {
		_, err := New(Options{BufferSize: 1, NumProducers: 1, NumConsumers: 1})
		require.Error(t, err)
	})

	t.Run("rejects zero workers", func(t *testing.T) {
		_, err := New(Options{BufferSize: 1, NumProducers: 0, NumConsumers: 1, Fetcher: fetcher})
		require.Error(t, err)
	})
}

// Four strips, colors R,G,B,W, small ring, two of each worker: the final
// raster must be the concatenation in sequence order regardless of fetch
// completion order.
func TestPipeline_HappyPath(t *testing.T) {
	const total = 4
	fetcher := &mockFetcher{bodies: strips(t, total, red, green, blue, white)}

	p := newTestPipeline(t, Options{
		BufferSize:   2,
		NumProducers: 2,
		NumConsumers: 2,
		Total:        total,
		Fetcher:      fetcher,
	})
	require.NoError(t, p.Run(context.Background()))
	require.Positive(t, p.Elapsed())

	want := append([]byte(nil), stripRaster(red)...)
	want = append(want, stripRaster(green)...)
	want = append(want, stripRaster(blue)...)
	want = append(want, stripRaster(white)...)
	require.Equal(t, want, p.Raster())

	result, err := p.Result()
	require.NoError(t, err)
	require.Equal(t, uint32(StripWidth), result.Header.Width)
	require.Equal(t, uint32(StripHeight*total), result.Header.Height)
	require.Equal(t, uint8(8), result.Header.BitDepth)
	require.Equal(t, uint8(png.ColorRGBA), result.Header.ColorType)

	// The emitted document parses back and its IDAT inflates to the
	// assembled raster.
	var buf bytes.Buffer
	require.NoError(t, result.Write(&buf))
	parsed, err := png.Parse(buf.Bytes())
	require.NoError(t, err)
	raster, err := zutil.Inflate(parsed.IDAT)
	require.NoError(t, err)
	require.Equal(t, want, raster)
}

// B=1, P=1, C=1: the ring oscillates between 0 and 1 entries and the
// pipeline still drains completely.
func TestPipeline_SingleWorkerSingleSlot(t *testing.T) {
	const total = 8
	fetcher := &mockFetcher{bodies: strips(t, total, red, green)}

	p := newTestPipeline(t, Options{
		BufferSize:   1,
		NumProducers: 1,
		NumConsumers: 1,
		Total:        total,
		Fetcher:      fetcher,
	})
	require.NoError(t, p.Run(context.Background()))
	require.Equal(t, total, p.coord.Consumed())
}

func TestPipeline_ConsumerDelay(t *testing.T) {
	const total = 3
	fetcher := &mockFetcher{bodies: strips(t, total, red)}

	p := newTestPipeline(t, Options{
		BufferSize:    2,
		NumProducers:  2,
		NumConsumers:  2,
		ConsumerDelay: 5 * time.Millisecond,
		Total:         total,
		Fetcher:       fetcher,
	})
	require.NoError(t, p.Run(context.Background()))
	require.GreaterOrEqual(t, p.Elapsed(), 5*time.Millisecond)
}

func TestPipeline_Failures(t *testing.T) {
	t.Run("transient failure is retried", func(t *testing.T) {
		const total = 4
		fetcher := &mockFetcher{
			bodies:   strips(t, total, red, green, blue, white),
			failures: map[int]int{2: 1},
		}

		p := newTestPipeline(t, Options{
			BufferSize:   2,
			NumProducers: 2,
			NumConsumers: 2,
			Total:        total,
			Fetcher:      fetcher,
		})
		require.NoError(t, p.Run(context.Background()))
		require.Equal(t, total, p.coord.Consumed())
	})

	t.Run("persistent failure terminates with missing set", func(t *testing.T) {
		const total = 4
		fetcher := &mockFetcher{
			bodies:   strips(t, total, red, green, blue, white),
			failures: map[int]int{2: 1 << 30},
		}

		p := newTestPipeline(t, Options{
			BufferSize:   2,
			NumProducers: 2,
			NumConsumers: 2,
			Total:        total,
			Fetcher:      fetcher,
		})
		err := p.Run(context.Background())
		require.ErrorIs(t, err, ErrIncomplete)
		require.Equal(t, []int{2}, p.coord.Missing())
		require.Equal(t, total-1, p.coord.Consumed())
	})

	t.Run("persistent sequence mismatch is abandoned", func(t *testing.T) {
		const total = 3
		fetcher := &mockFetcher{
			bodies: strips(t, total, red, green, blue),
			badSeq: map[int]int{1: 99},
		}

		p := newTestPipeline(t, Options{
			BufferSize:   1,
			NumProducers: 1,
			NumConsumers: 1,
			Total:        total,
			Fetcher:      fetcher,
		})
		err := p.Run(context.Background())
		require.ErrorIs(t, err, ErrIncomplete)
		require.Equal(t, []int{1}, p.coord.Missing())
	})

	t.Run("undecodable fragment is abandoned by the consumer", func(t *testing.T) {
		const total = 3
		bodies := strips(t, total, red, green, blue)
		bodies[1] = []byte("this is not a png")
		fetcher := &mockFetcher{bodies: bodies}

		p := newTestPipeline(t, Options{
			BufferSize:   2,
			NumProducers: 1,
			NumConsumers: 1,
			Total:        total,
			Fetcher:      fetcher,
		})
		err := p.Run(context.Background())
		require.ErrorIs(t, err, ErrIncomplete)
		require.Equal(t, []int{1}, p.coord.Missing())
		require.Equal(t, total-1, p.coord.Consumed())
	})
}

// End to end against a real HTTP server: the fetch client parses the
// fragment header, the pipeline assembles, the result round-trips.
func TestPipeline_EndToEnd(t *testing.T) {
	const total = 4
	bodies := strips(t, total, red, green, blue, white)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		part, err := strconv.Atoi(r.URL.Query().Get("part"))
		if err != nil || part < 0 || part >= total {
			http.Error(w, "bad part", http.StatusBadRequest)
			return
		}
		w.Header().Set(fetch.FragmentHeader, strconv.Itoa(part))
		w.Write(bodies[part])
	}))
	defer server.Close()

	p := newTestPipeline(t, Options{
		BufferSize:   2,
		NumProducers: 3,
		NumConsumers: 2,
		ImageNum:     1,
		Endpoint:     server.URL,
		Total:        total,
		Fetcher:      fetch.NewClient(5 * time.Second),
	})
	require.NoError(t, p.Run(context.Background()))

	want := append([]byte(nil), stripRaster(red)...)
	want = append(want, stripRaster(green)...)
	want = append(want, stripRaster(blue)...)
	want = append(want, stripRaster(white)...)
	require.Equal(t, want, p.Raster())
}
