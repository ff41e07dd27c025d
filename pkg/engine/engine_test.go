package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/uploadkit/pkg/broker"
	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/transform"
)

func testVariants() transform.Variants {
	variants := make(transform.Variants, len(transform.VariantNames))
	for _, name := range transform.VariantNames {
		variants[name] = &transform.Variant{
			Name:     name,
			Width:    100,
			Height:   50,
			Data:     []byte(strings.Repeat(name, 64)),
			MimeType: transform.NormalizedMimeType,
		}
	}
	return variants
}

func testSession(baseURL string) *broker.Session {
	creds := make(map[string]broker.Credential, len(transform.VariantNames))
	for _, name := range transform.VariantNames {
		creds[name] = broker.Credential{
			URL:       baseURL + "/put/" + name,
			Key:       "photo/corr-1/" + name + "." + transform.NormalizedExt,
			ExpiresAt: time.Now().Add(15 * time.Minute),
		}
	}
	return &broker.Session{CorrelationID: "corr-1", Credentials: creds}
}

func variantFromPath(path string) string {
	return strings.TrimPrefix(path, "/put/")
}

func fastEngine(cdn string) *Engine {
	return New(cdn, WithInitialBackoff(time.Millisecond))
}

func TestUploadAll_Success(t *testing.T) {
	var puts sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, transform.NormalizedMimeType, r.Header.Get("Content-Type"))
		puts.Store(variantFromPath(r.URL.Path), true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var uploadedMu sync.Mutex
	var uploaded []string
	e := fastEngine("https://cdn.example.com")
	result, err := e.UploadAll(context.Background(), testVariants(), testSession(srv.URL), nil,
		func(name string) {
			uploadedMu.Lock()
			uploaded = append(uploaded, name)
			uploadedMu.Unlock()
		})
	require.NoError(t, err)

	assert.Equal(t, "corr-1", result.CorrelationID)
	assert.Equal(t, "photo/corr-1/large.jpg", result.Key)
	assert.Equal(t, "https://cdn.example.com/photo/corr-1/large.jpg", result.URL)
	assert.Equal(t, 100, result.Width)
	assert.Equal(t, 50, result.Height)
	assert.Equal(t, transform.NormalizedMimeType, result.MimeType)

	assert.Len(t, uploaded, len(transform.VariantNames))
	for _, name := range transform.VariantNames {
		_, ok := puts.Load(name)
		assert.True(t, ok, "no PUT for %s", name)
	}
}

// Scenario: the medium variant's first two attempts hit a 500 and the third
// succeeds. The overall call succeeds and medium's progress slice completes
// only after the final attempt.
func TestUploadAll_TransientFailureRetried(t *testing.T) {
	var mediumAttempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if variantFromPath(r.URL.Path) == transform.VariantMedium {
			if mediumAttempts.Add(1) <= 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var overall atomic.Value
	overall.Store(float64(0))
	e := fastEngine("https://cdn.example.com")
	result, err := e.UploadAll(context.Background(), testVariants(), testSession(srv.URL),
		func(p float64) { overall.Store(p) }, nil)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, int64(3), mediumAttempts.Load(), "medium must be attempted exactly three times")
	assert.Equal(t, float64(100), overall.Load().(float64))
}

func TestUploadAll_RetryCeilingExhausted(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if variantFromPath(r.URL.Path) == transform.VariantLarge {
			attempts.Add(1)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := fastEngine("https://cdn.example.com")
	result, err := e.UploadAll(context.Background(), testVariants(), testSession(srv.URL), nil, nil)

	require.Error(t, err)
	assert.Nil(t, result, "no partial success")
	assert.Equal(t, int64(3), attempts.Load(), "retries must stop exactly at the ceiling")
	assert.True(t, errors.IsKind(err, errors.KindTransient), "got kind %s", errors.KindOf(err))
}

// Scenario: cancellation fires while large is mid-upload. The call rejects
// with a cancellation error even though sibling variants already finished.
func TestUploadAll_CancelledMidUpload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	largeStarted := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if variantFromPath(r.URL.Path) == transform.VariantLarge {
			once.Do(func() { close(largeStarted) })
			// Drain the body so the server detects the client abort; close
			// detection only runs once the request body has been consumed.
			io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	go func() {
		<-largeStarted
		cancel()
	}()

	e := fastEngine("https://cdn.example.com")
	result, err := e.UploadAll(ctx, testVariants(), testSession(srv.URL), nil, nil)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.IsKind(err, errors.KindCancelled), "got kind %s", errors.KindOf(err))
}

func TestUploadAll_ExpiredCredentialNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	session := testSession(srv.URL)
	expired := session.Credentials[transform.VariantMedium]
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	session.Credentials[transform.VariantMedium] = expired

	e := fastEngine("https://cdn.example.com")
	_, err := e.UploadAll(context.Background(), testVariants(), session, nil, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
	assert.True(t, errors.IsKind(err, errors.KindSession), "got kind %s", errors.KindOf(err))
	// The three live variants hit the store once each; the expired one never does.
	assert.Equal(t, int64(3), hits.Load())
}

func TestUploadAll_MissingCredentialIsSessionKind(t *testing.T) {
	session := testSession("http://unused.example.com")
	delete(session.Credentials, transform.VariantMedium)

	e := fastEngine("https://cdn.example.com")
	result, err := e.UploadAll(context.Background(), testVariants(), session, nil, nil)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.IsKind(err, errors.KindSession), "got kind %s", errors.KindOf(err))
}

// A failed attempt whose body the server drains before responding must not
// complete the variant's progress slice; 100 arrives only once a 2xx
// confirms the write.
func TestUploadAll_ProgressCompletesOnlyAfterSuccess(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	medium := testVariants()[transform.VariantMedium]
	variants := transform.Variants{transform.VariantMedium: medium}

	var attemptAt100 atomic.Int64
	e := fastEngine("https://cdn.example.com")
	_, err := e.UploadAll(context.Background(), variants, testSession(srv.URL),
		func(p float64) {
			if p >= 100 {
				attemptAt100.CompareAndSwap(0, attempts.Load())
			}
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(3), attempts.Load())
	assert.Equal(t, int64(3), attemptAt100.Load(),
		"progress hit 100%% during attempt %d, before the successful third attempt", attemptAt100.Load())
}

func TestTracker_MonotonicAndBounded(t *testing.T) {
	var reported []float64
	tr := NewTracker([]string{"a", "b"}, func(p float64) { reported = append(reported, p) })

	tr.Set("a", 50)
	assert.Equal(t, float64(25), tr.Overall())

	// Regression attempt is ignored.
	tr.Set("a", 10)
	assert.Equal(t, float64(50), tr.Percent("a"))
	assert.Equal(t, float64(25), tr.Overall())

	// Over-100 input is clamped.
	tr.Set("b", 250)
	assert.Equal(t, float64(100), tr.Percent("b"))
	assert.Equal(t, float64(75), tr.Overall())

	tr.Set("a", 100)
	assert.Equal(t, float64(100), tr.Overall())

	for i := 1; i < len(reported); i++ {
		assert.GreaterOrEqual(t, reported[i], reported[i-1])
		assert.LessOrEqual(t, reported[i], float64(100))
	}
}

func TestTracker_UnknownVariantIgnored(t *testing.T) {
	tr := NewTracker([]string{"a"}, nil)
	tr.Set("ghost", 80)
	assert.Equal(t, float64(0), tr.Overall())
}

// Two variant goroutines stepping progress concurrently must deliver
// non-decreasing aggregate values to the callback.
func TestTracker_ConcurrentCallbackOrdering(t *testing.T) {
	// Appends are safe without extra locking: the tracker serializes
	// callback delivery under its own mutex.
	var reported []float64
	tr := NewTracker([]string{"a", "b"}, func(p float64) { reported = append(reported, p) })

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := 1; p <= 100; p++ {
				tr.Set(name, float64(p))
			}
		}()
	}
	wg.Wait()

	require.NotEmpty(t, reported)
	for i := 1; i < len(reported); i++ {
		require.GreaterOrEqual(t, reported[i], reported[i-1],
			"aggregate callback decreased: %.2f after %.2f", reported[i], reported[i-1])
	}
	assert.Equal(t, float64(100), reported[len(reported)-1])
}
