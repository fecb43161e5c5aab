// Copyright 2026 The FHIRGate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// responseHeaders is the outbound header allow-list applied to upstream
// responses before they reach the client.
var responseHeaders = []string{"Content-Type", "Access-Control-Allow-Origin"}

// UpstreamError reports a failed exchange with the FHIR server. Timeout
// distinguishes a missed deadline (504) from a transport failure (502).
type UpstreamError struct {
	Timeout bool
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("upstream timeout: %v", e.Err)
	}
	return fmt.Sprintf("upstream transport failure: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Response is a filtered upstream response. Status codes pass through
// unchanged; the proxy never reinterprets upstream FHIR errors.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Pipeline performs the prepared exchange against the upstream server.
// The embedded client is shared and safe for concurrent use.
type Pipeline struct {
	client *http.Client
}

// NewPipeline creates a pipeline with the given upstream deadline.
func NewPipeline(timeout time.Duration) *Pipeline {
	return &Pipeline{client: &http.Client{Timeout: timeout}}
}

// Do forwards the request and returns the filtered response. Retries are
// deliberately left to the caller.
func (p *Pipeline) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	httpReq.Header = req.Header

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Timeout: isTimeout(err), Err: err}
	}

	header := make(http.Header, len(responseHeaders))
	for _, name := range responseHeaders {
		if vals := resp.Header.Values(name); len(vals) > 0 {
			header[name] = vals
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       payload,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
