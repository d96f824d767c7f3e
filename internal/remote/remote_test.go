package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sourcekit/core/internal/errs"
	"github.com/sourcekit/core/internal/recordmodel"
	"github.com/sourcekit/core/internal/remote"
	"github.com/sourcekit/core/internal/source"
)

// jsonSerializer is the simplest Serializer an adapter could wire in:
// the wire resource is just the record's JSON encoding.
type jsonSerializer struct{}

type wireRecord struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

func (jsonSerializer) Serialize(r *recordmodel.Record) (any, error) {
	return json.Marshal(wireRecord{Type: r.Type, ID: r.ID, Attributes: r.Attributes})
}

func (jsonSerializer) Deserialize(resource any, opts map[string]any) (*recordmodel.Record, error) {
	body, ok := resource.([]byte)
	if !ok {
		return nil, errors.New("jsonSerializer: expected []byte")
	}
	var w wireRecord
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, err
	}
	return &recordmodel.Record{Type: w.Type, ID: w.ID, Attributes: w.Attributes}, nil
}

// passthroughProcessor applies no document transformation; it just
// reports a fixed timeout/headers pair.
type passthroughProcessor struct {
	timeout time.Duration
}

func (p passthroughProcessor) PreprocessResponseDocument(body []byte, method, path string) ([]byte, error) {
	return body, nil
}

func (p passthroughProcessor) FetchSettings() remote.FetchSettings {
	return remote.FetchSettings{Timeout: p.timeout}
}

func stubFetch(status int, body []byte, err error) remote.Fetch {
	return func(ctx context.Context, url string, init remote.FetchInit) (*remote.FetchResponse, error) {
		if err != nil {
			return nil, err
		}
		return &remote.FetchResponse{StatusCode: status, Body: body}, nil
	}
}

func delayedFetch(delay time.Duration) remote.Fetch {
	return func(ctx context.Context, url string, init remote.FetchInit) (*remote.FetchResponse, error) {
		select {
		case <-time.After(delay):
			return &remote.FetchResponse{StatusCode: 200, Body: []byte("{}")}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestQueryHandlerDeserializesSuccessfulResponse(t *testing.T) {
	body, _ := json.Marshal(wireRecord{Type: "planet", ID: "12345", Attributes: map[string]any{"name": "Tatooine"}})
	a := &remote.Adapter{
		BaseURL:    "https://example.test",
		Serializer: jsonSerializer{},
		Processor:  passthroughProcessor{timeout: time.Second},
		Fetch:      stubFetch(200, body, nil),
	}

	req := source.Request{Query: &recordmodel.Query{
		Expressions: []recordmodel.Expr{recordmodel.FindRecord(recordmodel.Identity{Type: "planet", ID: "12345"})},
	}}
	resp, err := a.QueryHandler(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("QueryHandler: %v", err)
	}
	rec, ok := resp.Data.(*recordmodel.Record)
	if !ok || rec.ID != "12345" {
		t.Fatalf("expected deserialized record with id 12345, got %#v", resp.Data)
	}
}

func TestQueryHandlerTimeoutRaisesNetworkErrorWithLiteralDescription(t *testing.T) {
	a := &remote.Adapter{
		BaseURL:    "https://example.test",
		Serializer: jsonSerializer{},
		Processor:  passthroughProcessor{timeout: 10 * time.Millisecond},
		Fetch:      delayedFetch(20 * time.Millisecond),
	}

	req := source.Request{Query: &recordmodel.Query{
		Expressions: []recordmodel.Expr{recordmodel.FindRecord(recordmodel.Identity{Type: "planet", ID: "12345"})},
	}}
	_, err := a.QueryHandler(context.Background(), req, nil)
	if err == nil {
		t.Fatal("expected a NetworkError")
	}
	netErr, ok := err.(*errs.NetworkError)
	if !ok {
		t.Fatalf("expected *errs.NetworkError, got %T: %v", err, err)
	}
	if want := "No fetch response within 10ms."; netErr.Description() != want {
		t.Fatalf("description = %q, want %q", netErr.Description(), want)
	}
}

func TestQueryHandlerRejectedFetchRaisesNetworkError(t *testing.T) {
	a := &remote.Adapter{
		BaseURL:    "https://example.test",
		Serializer: jsonSerializer{},
		Processor:  passthroughProcessor{timeout: time.Second},
		Fetch:      stubFetch(0, nil, errors.New("connection refused")),
	}
	req := source.Request{Query: &recordmodel.Query{
		Expressions: []recordmodel.Expr{recordmodel.FindRecord(recordmodel.Identity{Type: "planet", ID: "12345"})},
	}}
	_, err := a.QueryHandler(context.Background(), req, nil)
	var netErr *errs.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *errs.NetworkError, got %T: %v", err, err)
	}
}

func TestQueryHandler304ResolvesNilData(t *testing.T) {
	a := &remote.Adapter{
		BaseURL:    "https://example.test",
		Serializer: jsonSerializer{},
		Processor:  passthroughProcessor{timeout: time.Second},
		Fetch:      stubFetch(304, nil, nil),
	}
	req := source.Request{Query: &recordmodel.Query{
		Expressions: []recordmodel.Expr{recordmodel.FindRecord(recordmodel.Identity{Type: "planet", ID: "12345"})},
	}}
	resp, err := a.QueryHandler(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("QueryHandler: %v", err)
	}
	if resp.Data != nil {
		t.Fatalf("expected nil Data on 304, got %#v", resp.Data)
	}
}

func TestQueryHandler4xxRaisesClientError(t *testing.T) {
	a := &remote.Adapter{
		BaseURL:    "https://example.test",
		Serializer: jsonSerializer{},
		Processor:  passthroughProcessor{timeout: time.Second},
		Fetch:      stubFetch(404, []byte("not found"), nil),
	}
	req := source.Request{Query: &recordmodel.Query{
		Expressions: []recordmodel.Expr{recordmodel.FindRecord(recordmodel.Identity{Type: "planet", ID: "12345"})},
	}}
	_, err := a.QueryHandler(context.Background(), req, nil)
	var clientErr *errs.ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("expected *errs.ClientError, got %T: %v", err, err)
	}
	if clientErr.Status != 404 {
		t.Fatalf("Status = %d, want 404", clientErr.Status)
	}
}

func TestQueryHandler5xxRaisesServerError(t *testing.T) {
	a := &remote.Adapter{
		BaseURL:    "https://example.test",
		Serializer: jsonSerializer{},
		Processor:  passthroughProcessor{timeout: time.Second},
		Fetch:      stubFetch(503, []byte("unavailable"), nil),
	}
	req := source.Request{Query: &recordmodel.Query{
		Expressions: []recordmodel.Expr{recordmodel.FindRecord(recordmodel.Identity{Type: "planet", ID: "12345"})},
	}}
	_, err := a.QueryHandler(context.Background(), req, nil)
	var serverErr *errs.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected *errs.ServerError, got %T: %v", err, err)
	}
}

func TestUpdateHandlerSerializesAndReturnsTransform(t *testing.T) {
	respBody, _ := json.Marshal(wireRecord{Type: "planet", ID: "12345", Attributes: map[string]any{"name": "Tatooine II"}})
	a := &remote.Adapter{
		BaseURL:    "https://example.test",
		Serializer: jsonSerializer{},
		Processor:  passthroughProcessor{timeout: time.Second},
		Fetch:      stubFetch(200, respBody, nil),
	}

	transform := recordmodel.Transform{
		ID: "t-1",
		Operations: []recordmodel.Operation{
			recordmodel.AddRecord(&recordmodel.Record{Type: "planet", ID: "12345", Attributes: map[string]any{"name": "Tatooine"}}),
		},
	}
	resp, err := a.UpdateHandler(context.Background(), source.Request{ID: "t-1", Transform: &transform}, nil)
	if err != nil {
		t.Fatalf("UpdateHandler: %v", err)
	}
	if len(resp.Transforms) != 1 || resp.Transforms[0].ID != "t-1" {
		t.Fatalf("expected the applied transform to be echoed back, got %#v", resp.Transforms)
	}
	rec, ok := resp.Data.(*recordmodel.Record)
	if !ok || rec.ID != "12345" {
		t.Fatalf("expected the remote's response record, got %#v", resp.Data)
	}
}

func TestPullHandlerSynthesizesAddRecordTransform(t *testing.T) {
	body, _ := json.Marshal(wireRecord{Type: "planet", ID: "12345", Attributes: map[string]any{"name": "Tatooine"}})
	a := &remote.Adapter{
		BaseURL:    "https://example.test",
		Serializer: jsonSerializer{},
		Processor:  passthroughProcessor{timeout: time.Second},
		Fetch:      stubFetch(200, body, nil),
	}
	req := source.Request{ID: "q-1", Query: &recordmodel.Query{
		Expressions: []recordmodel.Expr{recordmodel.FindRecord(recordmodel.Identity{Type: "planet", ID: "12345"})},
	}}
	resp, err := a.PullHandler(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("PullHandler: %v", err)
	}
	if len(resp.Transforms) != 1 {
		t.Fatalf("expected 1 synthesized transform, got %d", len(resp.Transforms))
	}
	if resp.Transforms[0].Operations[0].Op != recordmodel.OpAddRecord {
		t.Fatalf("expected an addRecord operation, got %v", resp.Transforms[0].Operations[0].Op)
	}
}
