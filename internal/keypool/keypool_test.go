package keypool_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"paperflow/internal/keypool"
	"paperflow/internal/services"
)

func noSleep(calls *int) keypool.Sleeper {
	return func(context.Context, time.Duration) error {
		*calls++
		return nil
	}
}

func TestRotatorWrapsAround(t *testing.T) {
	r := keypool.NewRotator("seedream", []string{"a", " ", "b", "c"})
	if r.Len() != 3 {
		t.Fatalf("expected blank key dropped, got len %d", r.Len())
	}
	var got []string
	for range 7 {
		key, err := r.Pick()
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		got = append(got, key)
	}
	if fmt.Sprint(got) != "[a b c a b c a]" {
		t.Fatalf("unexpected rotation: %v", got)
	}
	if r.Cursor() != 7 {
		t.Fatalf("expected cursor 7, got %d", r.Cursor())
	}
}

func TestRotatorEmptyPoolIsConfigurationError(t *testing.T) {
	r := keypool.NewRotator("glm", nil)
	_, err := r.Pick()
	if !errors.Is(err, keypool.ErrEmptyPool) || !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected empty pool configuration error, got %v", err)
	}
	exec := keypool.NewExecutor(r)
	called := false
	err = exec.Do(context.Background(), func(context.Context, string) error {
		called = true
		return nil
	})
	if !errors.Is(err, keypool.ErrEmptyPool) || called {
		t.Fatalf("expected call skipped with empty pool error, got %v (called=%v)", err, called)
	}
}

func TestRotatorConcurrentPicksAreFair(t *testing.T) {
	r := keypool.NewRotator("llm", []string{"a", "b", "c", "d"})
	var mu sync.Mutex
	counts := map[string]int{}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				key, _ := r.Pick()
				mu.Lock()
				counts[key]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	for _, key := range []string{"a", "b", "c", "d"} {
		if counts[key] != 100 {
			t.Fatalf("expected 100 picks of %s, got %v", key, counts)
		}
	}
}

func TestExecutorSucceedsOnThirdCredential(t *testing.T) {
	r := keypool.NewRotator("seedream", []string{"k1", "k2", "k3"})
	sleeps := 0
	exec := keypool.NewExecutor(r, keypool.WithSleeper(noSleep(&sleeps)))
	var used []string
	err := exec.Do(context.Background(), func(_ context.Context, key string) error {
		used = append(used, key)
		switch key {
		case "k1":
			return &keypool.StatusError{StatusCode: http.StatusUnauthorized}
		case "k2":
			return &keypool.StatusError{StatusCode: http.StatusTooManyRequests}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if fmt.Sprint(used) != "[k1 k2 k3]" {
		t.Fatalf("unexpected credentials used: %v", used)
	}
	if r.Cursor() != 3 {
		t.Fatalf("expected cursor past third credential, got %d", r.Cursor())
	}
	if sleeps != 1 {
		t.Fatalf("expected one rate-limit pause, got %d", sleeps)
	}
}

func TestExecutorExhaustsPoolExactlyOnce(t *testing.T) {
	r := keypool.NewRotator("seedream", []string{"k1", "k2", "k3"})
	sleeps := 0
	exec := keypool.NewExecutor(r, keypool.WithSleeper(noSleep(&sleeps)))
	attempts := 0
	transport := &url.Error{Op: "Post", URL: "http://x", Err: io.ErrUnexpectedEOF}
	err := exec.Do(context.Background(), func(context.Context, string) error {
		attempts++
		if attempts == 3 {
			return transport
		}
		return &keypool.StatusError{StatusCode: http.StatusForbidden}
	})
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
	var exhausted *keypool.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected last failure carried, got %+v", exhausted)
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatal("expected exhaustion to classify as transient")
	}
	if sleeps != 0 {
		t.Fatalf("expected no pauses, got %d", sleeps)
	}
}

func TestExecutorStopsOnFatalFailure(t *testing.T) {
	r := keypool.NewRotator("glm", []string{"k1", "k2", "k3"})
	exec := keypool.NewExecutor(r)
	cases := []error{
		&keypool.StatusError{StatusCode: http.StatusBadRequest, Body: "bad prompt"},
		keypool.MissingField("data[0].url"),
		errors.New("decode response"),
	}
	for _, failure := range cases {
		attempts := 0
		err := exec.Do(context.Background(), func(context.Context, string) error {
			attempts++
			return failure
		})
		if attempts != 1 {
			t.Fatalf("%v: expected 1 attempt, got %d", failure, attempts)
		}
		if !errors.Is(err, failure) {
			t.Fatalf("expected fatal error returned as-is, got %v", err)
		}
	}
}

func TestExecutorHonoursCancellation(t *testing.T) {
	r := keypool.NewRotator("glm", []string{"k1", "k2"})
	exec := keypool.NewExecutor(r)
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := exec.Do(ctx, func(context.Context, string) error {
		attempts++
		cancel()
		return &keypool.StatusError{StatusCode: http.StatusUnauthorized}
	})
	if !errors.Is(err, context.Canceled) || attempts != 1 {
		t.Fatalf("expected cancellation after first attempt, got %v (%d attempts)", err, attempts)
	}
}

func TestRunReturnsValueAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := keypool.NewRotator("llm", []string{"bad", "good"})
	exec := keypool.NewExecutor(r, keypool.WithRequestsPerSecond(1000))
	body, err := keypool.Run(context.Background(), exec, func(ctx context.Context, key string) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+key)
		resp, err := srv.Client().Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", keypool.NewStatusError(resp)
		}
		data, err := io.ReadAll(resp.Body)
		return string(data), err
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if body != "ok" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestClassify(t *testing.T) {
	cases := map[keypool.Class][]error{
		keypool.RetryCredential: {
			&keypool.StatusError{StatusCode: 401},
			fmt.Errorf("wrap: %w", &keypool.StatusError{StatusCode: 403}),
			&url.Error{Op: "Get", URL: "http://x", Err: context.DeadlineExceeded},
		},
		keypool.RetryRateLimited: {&keypool.StatusError{StatusCode: 429}},
		keypool.Fatal: {
			&keypool.StatusError{StatusCode: 500},
			keypool.MissingField("choices"),
			context.Canceled,
		},
	}
	for want, errs := range cases {
		for _, err := range errs {
			if got := keypool.Classify(err); got != want {
				t.Fatalf("Classify(%v) = %s, want %s", err, got, want)
			}
		}
	}
}
