package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paxtrack/internal/metrics"
	"paxtrack/internal/record"
)

func okResponse(lat, lng float64) string {
	return fmt.Sprintf(`{"status":"OK","results":[{"place_id":"pid","geometry":{"location":{"lat":%v,"lng":%v}}}]}`, lat, lng)
}

// fakeProvider answers every query with a fixed location and counts calls.
type fakeProvider struct {
	mu       sync.Mutex
	calls    map[string]int
	fail     map[string]bool
	delay    time.Duration
	inFlight int32
	maxSeen  int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: map[string]int{}, fail: map[string]bool{}}
}

func (p *fakeProvider) Fetch(ctx context.Context, query string) (string, error) {
	n := atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)
	for {
		m := atomic.LoadInt32(&p.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&p.maxSeen, m, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	p.calls[query]++
	fail := p.fail[query]
	p.mu.Unlock()
	if fail {
		return "", errors.New("boom")
	}
	return okResponse(40.5, -74.25), nil
}

func (p *fakeProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func loc(addr string) record.Location {
	return record.Location{Address1: addr, City: "Boston", StateCode: "MA", ZipCode: "02118"}
}

func TestParseResponse(t *testing.T) {
	res, err := ParseResponse(okResponse(42.1, -71.2))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 42.1, res.Lat)
	assert.Equal(t, -71.2, res.Lng)
	assert.Equal(t, "pid", res.PlaceID)

	res, err = ParseResponse(`{"status":"ZERO_RESULTS","results":[]}`)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = ParseResponse(okResponse(123, 0))
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = ParseResponse("<html>")
	assert.Error(t, err)
}

func TestQueryKey(t *testing.T) {
	assert.Equal(t, "address=1+Main+St%2C+Boston%2C+MA+02118", QueryKey("1 Main St, Boston, MA 02118"))
}

func TestCacheResolveMemoizes(t *testing.T) {
	p := newFakeProvider()
	c, err := Open(context.Background(), p, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		raw, err := c.Resolve(context.Background(), "address=a")
		require.NoError(t, err)
		assert.Contains(t, raw, `"OK"`)
	}
	assert.Equal(t, 1, p.total())
	assert.Equal(t, 1, c.Len())
}

func TestCacheFailureNotCached(t *testing.T) {
	p := newFakeProvider()
	p.fail["address=a"] = true
	c, err := Open(context.Background(), p, nil)
	require.NoError(t, err)

	_, err = c.Resolve(context.Background(), "address=a")
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	p.fail["address=a"] = false
	_, err = c.Resolve(context.Background(), "address=a")
	require.NoError(t, err)
	assert.Equal(t, 2, p.total())
}

func TestCacheConcurrentSameKeySingleCall(t *testing.T) {
	p := newFakeProvider()
	p.delay = 20 * time.Millisecond
	c, err := Open(context.Background(), p, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Resolve(context.Background(), "address=same")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, p.total())
}

func TestCachePersistsAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "geocoder.json")
	ctx := context.Background()

	p := newFakeProvider()
	c, err := Open(ctx, p, FileStore{Path: path})
	require.NoError(t, err)
	_, err = c.Resolve(ctx, "address=a")
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))

	p2 := newFakeProvider()
	c2, err := Open(ctx, p2, FileStore{Path: path})
	require.NoError(t, err)
	raw, err := c2.Resolve(ctx, "address=a")
	require.NoError(t, err)
	assert.Contains(t, raw, "pid")
	assert.Equal(t, 0, p2.total())
}

func TestGeocoderPolicies(t *testing.T) {
	ctx := context.Background()

	res, err := NewGeocoder(nil, PolicyOmit).Locate(ctx, loc("1 Main St"))
	require.NoError(t, err)
	assert.Nil(t, res)

	g := NewGeocoder(nil, PolicySynthesize)
	a, err := g.Locate(ctx, loc("1 Main St"))
	require.NoError(t, err)
	require.NotNil(t, a)
	b, err := g.Locate(ctx, loc("1 Main St"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, a.Synthetic)
	assert.GreaterOrEqual(t, a.Lat, synthMinLat)
	assert.LessOrEqual(t, a.Lat, synthMaxLat)
	assert.GreaterOrEqual(t, a.Lng, synthMinLng)
	assert.LessOrEqual(t, a.Lng, synthMaxLng)

	_, err = ParsePolicy("random")
	assert.Error(t, err)
	pol, err := ParsePolicy("synthesize")
	require.NoError(t, err)
	assert.Equal(t, PolicySynthesize, pol)
}

func TestGeocodeAllBatches(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	p.delay = 5 * time.Millisecond
	c, err := Open(ctx, p, nil)
	require.NoError(t, err)
	g := NewGeocoder(c, PolicyOmit)

	locs := make([]record.Location, 10)
	for i := range locs {
		locs[i] = loc(fmt.Sprintf("%d Main St", i))
	}
	lat, lng := 1.0, 2.0
	locs[4].Lat, locs[4].Lng = &lat, &lng

	require.NoError(t, GeocodeAll(ctx, g, locs, 3))
	assert.LessOrEqual(t, atomic.LoadInt32(&p.maxSeen), int32(3))
	assert.Equal(t, 9, p.total())
	for i, l := range locs {
		require.True(t, l.HasCoordinates(), "record %d", i)
	}
	assert.Equal(t, 1.0, *locs[4].Lat)
	assert.Equal(t, 40.5, *locs[0].Lat)
}

func TestGeocodeAllStopsAfterFailingBatch(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	locs := []record.Location{loc("a"), loc("b"), loc("c"), loc("d")}
	p.fail[QueryKey(locs[1].GeocodeAddress())] = true
	c, err := Open(ctx, p, nil)
	require.NoError(t, err)

	err = GeocodeAll(ctx, NewGeocoder(c, PolicyOmit), locs, 2)
	require.Error(t, err)
	assert.False(t, locs[2].HasCoordinates())
	assert.False(t, locs[3].HasCoordinates())
	assert.Equal(t, 0, p.calls[QueryKey(locs[2].GeocodeAddress())])
}

func TestGeocodeAllMissIsNotError(t *testing.T) {
	ctx := context.Background()
	locs := []record.Location{loc("a")}
	require.NoError(t, GeocodeAll(ctx, NewGeocoder(nil, PolicyOmit), locs, 10))
	assert.False(t, locs[0].HasCoordinates())
}

func TestClientFetch(t *testing.T) {
	var gotKey, gotAddr string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotAddr = r.URL.Query().Get("address")
		if gotAddr == "bad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(okResponse(1, 2)))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, 0)
	raw, err := c.Fetch(context.Background(), QueryKey("1 Main St"))
	require.NoError(t, err)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "1 Main St", gotAddr)
	assert.Contains(t, raw, `"OK"`)

	_, err = c.Fetch(context.Background(), QueryKey("bad"))
	assert.Error(t, err)
}

// staticProvider answers every query with the same body.
type staticProvider struct {
	body  string
	calls int32
}

func (p *staticProvider) Fetch(ctx context.Context, query string) (string, error) {
	atomic.AddInt32(&p.calls, 1)
	return p.body, nil
}

func TestUndecodableResponseIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "geocoder.json")
	l := loc("1 Main St")
	failBefore := testutil.ToFloat64(metrics.GeocodeFailTotal)

	bad := &staticProvider{body: "<html>upstream proxy error</html>"}
	c, err := Open(ctx, bad, FileStore{Path: path})
	require.NoError(t, err)
	_, err = NewGeocoder(c, PolicyOmit).Locate(ctx, l)
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
	require.NoError(t, c.Close(ctx))
	assert.Equal(t, failBefore+1, testutil.ToFloat64(metrics.GeocodeFailTotal))

	good := &staticProvider{body: okResponse(42.35, -71.06)}
	c2, err := Open(ctx, good, FileStore{Path: path})
	require.NoError(t, err)
	res, err := NewGeocoder(c2, PolicyOmit).Locate(ctx, l)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 42.35, res.Lat)
	assert.Equal(t, int32(1), atomic.LoadInt32(&good.calls))
}

func TestUndecodableEntryLoadedFromStoreIsEvicted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "geocoder.json")
	l := loc("1 Main St")
	require.NoError(t, FileStore{Path: path}.Save(ctx, map[string]string{QueryKey(l.GeocodeAddress()): "<html>"}))

	p := &staticProvider{body: okResponse(42.35, -71.06)}
	c, err := Open(ctx, p, FileStore{Path: path})
	require.NoError(t, err)
	g := NewGeocoder(c, PolicyOmit)
	_, err = g.Locate(ctx, l)
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	res, err := g.Locate(ctx, l)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
}

func TestClientRejectsNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>upstream proxy error</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, 0)
	cache, err := Open(context.Background(), c, nil)
	require.NoError(t, err)
	_, err = cache.Resolve(context.Background(), QueryKey("1 Main St"))
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}
