// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfsync/internal/inventory"
	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/outbox"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/suggestions"
	"github.com/tomtom215/shelfsync/internal/syncengine"
)

type fakeEngine struct {
	mu        sync.Mutex
	status    syncengine.Status
	statusErr error
	drainErr  error
	uploadN   int
	applyRes  syncengine.Result
	applyErr  error
	applied   []mutation.Mutation
}

func (f *fakeEngine) Status(context.Context) (syncengine.Status, error) {
	return f.status, f.statusErr
}

func (f *fakeEngine) Drain(context.Context) (syncengine.DrainReport, error) {
	if f.drainErr != nil {
		return syncengine.DrainReport{}, f.drainErr
	}
	return syncengine.DrainReport{Passes: 1, Applied: 2}, nil
}

func (f *fakeEngine) ForceFullUpload(context.Context) (int, error) {
	return f.uploadN, nil
}

func (f *fakeEngine) EnqueueOrApply(_ context.Context, m mutation.Mutation) (syncengine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, m)
	return f.applyRes, f.applyErr
}

type fakeOutbox struct {
	ops []*outbox.Operation
}

func (f *fakeOutbox) List(context.Context) ([]*outbox.Operation, error) {
	return append([]*outbox.Operation(nil), f.ops...), nil
}

type fakeStock struct {
	action mutation.StockAction
	req    inventory.Request
	err    error
}

func (f *fakeStock) Apply(_ context.Context, action mutation.StockAction, req inventory.Request) (inventory.Change, error) {
	f.action, f.req = action, req
	if f.err != nil {
		return inventory.Change{}, f.err
	}
	return inventory.Change{
		ItemID:      req.ItemID,
		Action:      action,
		PreviousQty: 10,
		NewQty:      10 + req.Quantity,
		Result:      syncengine.Result{ID: req.ItemID, Queued: true},
	}, nil
}

type fakeSuggestions struct {
	err error
}

func (f *fakeSuggestions) Submit(context.Context, mutation.Suggestion) (syncengine.Result, error) {
	if f.err != nil {
		return syncengine.Result{}, f.err
	}
	return syncengine.Result{ID: "-Nsugg"}, nil
}

type testDeps struct {
	engine      *fakeEngine
	outbox      *fakeOutbox
	stock       *fakeStock
	suggestions *fakeSuggestions
}

func newTestRouter(t *testing.T) (http.Handler, *testDeps) {
	t.Helper()
	d := &testDeps{
		engine:      &fakeEngine{},
		outbox:      &fakeOutbox{},
		stock:       &fakeStock{},
		suggestions: &fakeSuggestions{},
	}
	h := NewHandler(Deps{
		Engine:      d.engine,
		Outbox:      d.outbox,
		Stock:       d.stock,
		Suggestions: d.suggestions,
	})
	cfg := DefaultChiMiddlewareConfig()
	cfg.RateLimitDisabled = true
	return NewRouter(h, NewChiMiddleware(cfg)).SetupChi(), d
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	h, d := newTestRouter(t)
	d.engine.status = syncengine.Status{Online: true, PendingCount: 3, FailedCount: 1}

	rec, resp := do(t, h, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["status"] != "healthy" || data["online"] != true || data["pendingCount"] != float64(3) {
		t.Errorf("unexpected health body: %v", data)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id header")
	}
	if resp.Meta == nil || resp.Meta.RequestID == "" {
		t.Error("response meta should carry the request id")
	}
}

func TestHealthDegraded(t *testing.T) {
	h, d := newTestRouter(t)
	d.engine.statusErr = errors.New("store closed")

	rec, resp := do(t, h, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := resp.Data.(map[string]interface{})["status"]; got != "degraded" {
		t.Errorf("status = %v, want degraded", got)
	}
}

func TestSyncDrain(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"success", nil, http.StatusOK, ""},
		{"already syncing", syncengine.ErrAlreadySyncing, http.StatusConflict, ErrCodeConflict},
		{"offline", syncengine.ErrOffline, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{"wrapped offline", fmt.Errorf("drain: %w", syncengine.ErrOffline), http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{"internal", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d := newTestRouter(t)
			d.engine.drainErr = tt.err

			rec, resp := do(t, h, http.MethodPost, "/api/v1/sync/drain", "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantErr == "" {
				if !resp.Success {
					t.Error("expected success")
				}
				return
			}
			if resp.Success || resp.Error == nil || resp.Error.Code != tt.wantErr {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.wantErr)
			}
		})
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	h, d := newTestRouter(t)
	d.engine.drainErr = errors.New("badger: secret path /var/lib")

	rec, _ := do(t, h, http.MethodPost, "/api/v1/sync/drain", "")
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}

func TestSyncFullUpload(t *testing.T) {
	h, d := newTestRouter(t)
	d.engine.uploadN = 7

	rec, resp := do(t, h, http.MethodPost, "/api/v1/sync/full-upload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := resp.Data.(map[string]interface{})["queued"]; got != float64(7) {
		t.Errorf("queued = %v, want 7", got)
	}
}

func TestOutboxList(t *testing.T) {
	h, d := newTestRouter(t)
	d.outbox.ops = []*outbox.Operation{
		{ID: "op-1", Seq: 1, Type: "customer.update", Status: outbox.StatusPending},
		{ID: "op-2", Seq: 2, Type: "inventory.adjust", Status: outbox.StatusFailed},
		{ID: "op-3", Seq: 3, Type: "customer.delete", Status: outbox.StatusPending},
	}

	rec, resp := do(t, h, http.MethodGet, "/api/v1/outbox", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp.Meta == nil || resp.Meta.Count == nil || *resp.Meta.Count != 3 {
		t.Errorf("count meta = %+v, want 3", resp.Meta)
	}

	_, resp = do(t, h, http.MethodGet, "/api/v1/outbox?status=failed", "")
	ops := resp.Data.([]interface{})
	if len(ops) != 1 || ops[0].(map[string]interface{})["id"] != "op-2" {
		t.Errorf("filtered ops = %v, want [op-2]", ops)
	}

	_, resp = do(t, h, http.MethodGet, "/api/v1/outbox?status=synced", "")
	if ops := resp.Data.([]interface{}); len(ops) != 0 {
		t.Errorf("expected empty list, got %v", ops)
	}
}

func TestMutate(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		result   syncengine.Result
		applyErr error
		wantCode int
		applied  bool
	}{
		{
			name:     "applied directly",
			body:     `{"type":"customer.update","data":{"id":"cust-1","serviceType":"retail","patch":{"name":"Ann"}}}`,
			result:   syncengine.Result{ID: "cust-1"},
			wantCode: http.StatusOK,
			applied:  true,
		},
		{
			name:     "queued",
			body:     `{"type":"customer.update","data":{"id":"cust-1","serviceType":"retail","patch":{"name":"Ann"}}}`,
			result:   syncengine.Result{ID: "cust-1", Queued: true, OperationID: "op-1"},
			wantCode: http.StatusAccepted,
			applied:  true,
		},
		{
			name:     "unknown type",
			body:     `{"type":"widget.explode","data":{}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "field not writable",
			body:     `{"type":"customer.update","data":{"id":"cust-1","serviceType":"retail","patch":{"balance":5}}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing type",
			body:     `{"data":{}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "malformed body",
			body:     `{"type":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "remote rejection",
			body:     `{"type":"customer.update","data":{"id":"cust-1","serviceType":"retail","patch":{"name":"Ann"}}}`,
			applyErr: &remote.RejectedError{Path: "customers/cust-1", Reason: "permission denied"},
			wantCode: http.StatusUnprocessableEntity,
			applied:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d := newTestRouter(t)
			d.engine.applyRes = tt.result
			d.engine.applyErr = tt.applyErr

			rec, _ := do(t, h, http.MethodPost, "/api/v1/mutations", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if got := len(d.engine.applied) == 1; got != tt.applied {
				t.Errorf("mutation applied = %v, want %v", got, tt.applied)
			}
		})
	}
}

func TestMutateValidationDetails(t *testing.T) {
	h, _ := newTestRouter(t)

	body := `{"type":"customer.update","data":{"id":"bad/id","serviceType":"retail","patch":{"name":"Ann"}}}`
	rec, resp := do(t, h, http.MethodPost, "/api/v1/mutations", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeValidationFailed {
		t.Fatalf("error = %+v, want %s", resp.Error, ErrCodeValidationFailed)
	}
	if resp.Error.Details == nil {
		t.Error("validation error should list field details")
	}
}

func TestAdjustStock(t *testing.T) {
	h, d := newTestRouter(t)

	body := `{"action":"add","quantity":5,"reason":"delivery","actor":"sam"}`
	rec, resp := do(t, h, http.MethodPost, "/api/v1/inventory/item-1/stock", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if d.stock.action != mutation.StockAdd {
		t.Errorf("action = %q, want add", d.stock.action)
	}
	if d.stock.req.ItemID != "item-1" || d.stock.req.Quantity != 5 || d.stock.req.Actor != "sam" {
		t.Errorf("request = %+v", d.stock.req)
	}
	if got := resp.Data.(map[string]interface{})["newQty"]; got != float64(15) {
		t.Errorf("newQty = %v, want 15", got)
	}
}

func TestAdjustStockErrors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		err      error
		wantCode int
	}{
		{"invalid action", "/api/v1/inventory/item-1/stock", `{"action":"double","quantity":1}`, nil, http.StatusBadRequest},
		{"negative quantity", "/api/v1/inventory/item-1/stock", `{"action":"set","quantity":-1}`, nil, http.StatusBadRequest},
		{"invalid id", "/api/v1/inventory/item.1/stock", `{"action":"add","quantity":1}`, nil, http.StatusBadRequest},
		{"item not found", "/api/v1/inventory/item-9/stock", `{"action":"add","quantity":1}`, inventory.ErrItemNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d := newTestRouter(t)
			d.stock.err = tt.err

			rec, _ := do(t, h, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestSubmitSuggestion(t *testing.T) {
	h, d := newTestRouter(t)

	body := `{"type":"add","targetName":"Blue Widget"}`
	rec, _ := do(t, h, http.MethodPost, "/api/v1/suggestions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	d.suggestions.err = suggestions.ErrDuplicateSuggestion
	rec, resp := do(t, h, http.MethodPost, "/api/v1/suggestions", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeDuplicate {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeDuplicate)
	}
}

func TestNotFoundRoute(t *testing.T) {
	h, _ := newTestRouter(t)

	rec, resp := do(t, h, http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestWebSocketWithoutHub(t *testing.T) {
	h, _ := newTestRouter(t)

	rec, _ := do(t, h, http.MethodGet, "/api/v1/sync/ws", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
