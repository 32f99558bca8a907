package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/outreach-scheduler/internal/handler"
)

type stubRunner struct {
	gotBatch int
	ctxErr   error
	n        int
	err      error
}

func (s *stubRunner) RunDueWork(ctx context.Context, batchSize int) (int, error) {
	s.gotBatch = batchSize
	s.ctxErr = ctx.Err()
	return s.n, s.err
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func TestRunDueWork(t *testing.T) {
	runner := &stubRunner{n: 3}
	h := &handler.WorkerHandler{Runner: runner}

	w := httptest.NewRecorder()
	h.RunDueWork(w, httptest.NewRequest(http.MethodPost, "/work/run?batch_size=25", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"processed":3}`, w.Body.String())
	assert.Equal(t, 25, runner.gotBatch)

	w = httptest.NewRecorder()
	h.RunDueWork(w, httptest.NewRequest(http.MethodPost, "/work/run?batch_size=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	runner.err = errors.New("db down")
	w = httptest.NewRecorder()
	h.RunDueWork(w, httptest.NewRequest(http.MethodPost, "/work/run", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 0, runner.gotBatch)
}

func TestRunDueWorkOutlivesRequest(t *testing.T) {
	runner := &stubRunner{n: 1}
	h := &handler.WorkerHandler{Runner: runner}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/work/run", nil).WithContext(ctx)

	w := httptest.NewRecorder()
	h.RunDueWork(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, runner.ctxErr)
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	(&handler.WorkerHandler{}).Healthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	(&handler.WorkerHandler{Store: stubPinger{err: errors.New("refused")}}).Healthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
