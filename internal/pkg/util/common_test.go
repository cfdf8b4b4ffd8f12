package util

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignIsDeterministic(t *testing.T) {
	a := Sign(`{"a":1}`, 1700000000, "k")
	require.Equal(t, a, Sign(`{"a":1}`, 1700000000, "k"))
	require.NotEqual(t, a, Sign(`{"a":1}`, 1700000001, "k"))
	require.NotEqual(t, a, Sign(`{"a":1}`, 1700000000, "other"))
	require.Len(t, a, 32)
}

func TestPostSignedRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := ioutil.ReadAll(r.Body)
		ts, _ := strconv.ParseInt(r.Header.Get("time"), 10, 64)
		assert.Equal(t, Sign(string(body), ts, "key"), r.Header.Get("sign"))
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, PostSigned(context.Background(), srv.Client(), srv.URL, `{"x":1}`, "key", 3))
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestPostSignedReportsServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":400,"msg":"bad payload"}`))
	}))
	defer srv.Close()

	err := PostSigned(context.Background(), srv.Client(), srv.URL, `{}`, "key", 2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad payload")
	require.Contains(t, err.Error(), "400")
}

func TestPostSignedStopsOnCancel(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := PostSigned(ctx, srv.Client(), srv.URL, `{}`, "key", 50)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Less(t, atomic.LoadInt32(&calls), int32(50))
}
