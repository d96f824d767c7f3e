// Package remote implements the transport-agnostic remote source
// adapter contract: the serializer/request-processor pair a concrete
// adapter wires in, the JSON:API URL shape, and the fetch-timeout/
// status-code taxonomy every concrete transport must honor, wrapped up
// as source.Handler values a source.Settings can plug straight into
// Query/Update/Push/Pull.
//
// The transport itself stays pluggable — Fetch is a plain function
// type, not net/http — while doRequest still gives a faithful,
// exercised implementation of the parts that are pinned down: timeout
// handling and the 2xx/304/4xx/5xx status taxonomy.
package remote

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sourcekit/core/internal/errs"
	"github.com/sourcekit/core/internal/eventbus"
	"github.com/sourcekit/core/internal/recordmodel"
	"github.com/sourcekit/core/internal/source"
)

// Serializer converts between cache records and wire resources.
type Serializer interface {
	Serialize(r *recordmodel.Record) (any, error)
	Deserialize(resource any, opts map[string]any) (*recordmodel.Record, error)
}

// FetchInit is the request half of one Fetch call.
type FetchInit struct {
	Method  string
	Headers map[string]string
	Body    []byte
}

// FetchResponse is the response half of one Fetch call. A non-2xx
// status is a normal FetchResponse, not an error — Fetch only errors
// on a rejected/aborted request (timeout, DNS failure, connection
// refused).
type FetchResponse struct {
	StatusCode int
	Body       []byte
}

// Fetch mirrors a standard HTTP fetch call: a fetch(url, init)
// function whose contract mirrors a standard HTTP fetch. Concrete
// transports (net/http, an in-memory stub for tests, ...) satisfy this
// by value, not by embedding an http.Client.
type Fetch func(ctx context.Context, url string, init FetchInit) (*FetchResponse, error)

// FetchSettings configures the timeout and default headers for every
// request a RequestProcessor issues.
type FetchSettings struct {
	Timeout time.Duration
	Headers map[string]string
}

// RequestProcessor customizes how a raw response body is interpreted
// before deserialization and supplies the fetch timeout/headers to
// use.
type RequestProcessor interface {
	PreprocessResponseDocument(body []byte, method, path string) ([]byte, error)
	FetchSettings() FetchSettings
}

// Adapter wires a Serializer, RequestProcessor, and Fetch function into
// the four operations a concrete remote source exposes: _query,
// _update, _pull, _push. BaseURL is prepended to every request path.
type Adapter struct {
	BaseURL    string
	Serializer Serializer
	Processor  RequestProcessor
	Fetch      Fetch
}

// QueryHandler evaluates req.Query's single expression as a JSON:API
// GET and deserializes the response body into req's shape.
func (a *Adapter) QueryHandler(ctx context.Context, req source.Request, hints *eventbus.Hints) (source.Response, error) {
	if req.Query == nil || len(req.Query.Expressions) == 0 {
		return source.Response{}, fmt.Errorf("remote: query has no expressions")
	}
	expr := req.Query.Expressions[0]
	path := exprPath(expr)

	body, status, err := a.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return source.Response{}, err
	}
	hasData, err := statusOutcome(status, body)
	if err != nil {
		return source.Response{}, err
	}
	if !hasData {
		return source.Response{Data: nil}, nil
	}

	record, err := a.Serializer.Deserialize(body, req.Options)
	if err != nil {
		return source.Response{}, err
	}
	return source.Response{Data: record, Details: map[string]any{"status": status}}, nil
}

// PullHandler is QueryHandler with the response's implied remote
// transform(s) surfaced so the pipeline appends/emits them — here a
// single synthesized "replace with remote state" transform per
// resolved record — pull applies whatever it fetched.
func (a *Adapter) PullHandler(ctx context.Context, req source.Request, hints *eventbus.Hints) (source.Response, error) {
	resp, err := a.QueryHandler(ctx, req, hints)
	if err != nil {
		return source.Response{}, err
	}
	record, ok := resp.Data.(*recordmodel.Record)
	if !ok || record == nil {
		return source.Response{Data: resp.Data}, nil
	}
	t := recordmodel.Transform{
		ID:         req.ID,
		Operations: []recordmodel.Operation{recordmodel.AddRecord(record)},
	}
	return source.Response{Data: record, Details: resp.Details, Transforms: []recordmodel.Transform{t}}, nil
}

// UpdateHandler serializes req.Transform's operations and PATCHes them
// to the remote, per-operation's target record.
func (a *Adapter) UpdateHandler(ctx context.Context, req source.Request, hints *eventbus.Hints) (source.Response, error) {
	return a.push(ctx, "PATCH", req)
}

// PushHandler sends req.Transform's records the same way UpdateHandler
// does, but always with POST instead of PATCH; the method is passed on
// to PreprocessResponseDocument.
func (a *Adapter) PushHandler(ctx context.Context, req source.Request, hints *eventbus.Hints) (source.Response, error) {
	return a.push(ctx, "POST", req)
}

func (a *Adapter) push(ctx context.Context, method string, req source.Request) (source.Response, error) {
	if req.Transform == nil {
		return source.Response{}, fmt.Errorf("remote: transform has no operations")
	}

	var lastBody []byte
	var lastStatus int
	for _, op := range req.Transform.Operations {
		record := recordFromOperation(op)
		if record == nil {
			continue
		}
		resource, err := a.Serializer.Serialize(record)
		if err != nil {
			return source.Response{}, err
		}
		payload, ok := resource.([]byte)
		if !ok {
			return source.Response{}, fmt.Errorf("remote: Serializer must produce []byte, got %T", resource)
		}

		path := recordPath(record.Identity())
		body, status, err := a.doRequest(ctx, method, path, payload)
		if err != nil {
			return source.Response{}, err
		}
		lastBody, lastStatus = body, status
	}

	hasData, err := statusOutcome(lastStatus, lastBody)
	if err != nil {
		return source.Response{}, err
	}
	var data any
	if hasData {
		data, err = a.Serializer.Deserialize(lastBody, req.Options)
		if err != nil {
			return source.Response{}, err
		}
	}
	return source.Response{
		Data:       data,
		Details:    map[string]any{"status": lastStatus},
		Transforms: []recordmodel.Transform{*req.Transform},
	}, nil
}

// recordFromOperation extracts the record an addRecord/updateRecord
// operation targets, the only two kinds push/update actually round-trip
// to a remote; other operation kinds (key/relationship changes) are
// applied locally only and silently skipped here.
func recordFromOperation(op recordmodel.Operation) *recordmodel.Record {
	switch op.Op {
	case recordmodel.OpAddRecord, recordmodel.OpUpdateRecord:
		r := recordmodel.NewRecord(op.Record)
		if op.Attributes != nil {
			r.Attributes = op.Attributes
		}
		if op.Keys != nil {
			r.Keys = op.Keys
		}
		return r
	default:
		return nil
	}
}

// doRequest issues one fetch, honoring the configured timeout and
// translating a timeout/rejected fetch into NetworkError.
func (a *Adapter) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	settings := a.Processor.FetchSettings()
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := a.Fetch(reqCtx, a.BaseURL+path, FetchInit{Method: method, Headers: settings.Headers, Body: body})
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, 0, &errs.NetworkError{Description_: fmt.Sprintf("No fetch response within %dms.", timeout.Milliseconds())}
		}
		return nil, 0, &errs.NetworkError{Description_: err.Error()}
	}

	processed, err := a.Processor.PreprocessResponseDocument(resp.Body, method, path)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return processed, resp.StatusCode, nil
}

// statusOutcome applies the status taxonomy: 2xx with a body resolves
// data, 304 resolves undefined (nil), 4xx/5xx raise
// ClientError/ServerError.
func statusOutcome(status int, body []byte) (hasData bool, err error) {
	switch {
	case status == 304:
		return false, nil
	case status >= 200 && status < 300:
		return len(body) > 0, nil
	case status >= 400 && status < 500:
		return false, &errs.ClientError{Status: status, Body: string(body)}
	case status >= 500:
		return false, &errs.ServerError{Status: status, Body: string(body)}
	default:
		return false, fmt.Errorf("remote: unexpected status %d", status)
	}
}

// exprPath builds the JSON:API URL path + query string for one query
// expression.
func exprPath(e recordmodel.Expr) string {
	var path string
	switch e.Kind {
	case recordmodel.ExprFindRecord:
		if e.Record != nil {
			path = recordPath(*e.Record)
		} else {
			path = "/" + strings.Join(idsOf(e.RecordList), ",")
		}
	case recordmodel.ExprFindRecords:
		path = "/" + e.RecordType
	case recordmodel.ExprFindRelatedRecord, recordmodel.ExprFindRelatedRecords:
		path = recordPath(e.RelatedFrom) + "/" + e.Relationship
	}
	if q := queryParams(e); q != "" {
		path += "?" + q
	}
	return path
}

func recordPath(id recordmodel.Identity) string {
	return "/" + id.Type + "/" + id.ID
}

func idsOf(ids []recordmodel.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.ID
	}
	return out
}

// queryParams renders filter/sort/page modifiers into the ?filter[…]=…
// &sort=…&page[offset]=…&page[limit]=… shape.
func queryParams(e recordmodel.Expr) string {
	v := url.Values{}
	for _, f := range e.Filters {
		switch f.Kind {
		case recordmodel.FilterAttribute:
			v.Add("filter["+f.Attribute+"]", fmt.Sprintf("%v", f.Value))
		case recordmodel.FilterRelatedRecord:
			if f.RelatedOne != nil {
				v.Add("filter["+f.Relationship+"]", f.RelatedOne.ID)
			}
		case recordmodel.FilterRelatedRecords:
			ids := make([]string, len(f.RelatedSet))
			for i, id := range f.RelatedSet {
				ids[i] = id.ID
			}
			v.Add("filter["+f.Relationship+"]", strings.Join(ids, ","))
		}
	}
	if len(e.Sort) > 0 {
		parts := make([]string, len(e.Sort))
		for i, s := range e.Sort {
			if s.Order == recordmodel.SortDesc {
				parts[i] = "-" + s.Attribute
			} else {
				parts[i] = s.Attribute
			}
		}
		v.Set("sort", strings.Join(parts, ","))
	}
	if e.Page != nil {
		v.Set("page[offset]", strconv.Itoa(e.Page.Offset))
		if e.Page.Limit > 0 {
			v.Set("page[limit]", strconv.Itoa(e.Page.Limit))
		}
	}
	return v.Encode()
}
