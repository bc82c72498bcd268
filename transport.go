// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

//go:generate mockgen -destination=./mocks/transport.go -package=mocks . Transport

package assetcache

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"

	"github.com/tunabay/go-infounit"
)

// Transport is the interface implemented to retrieve the raw bytes of a remote
// asset. It makes a single attempt. Any error, including an empty payload, is
// treated as "no bytes" by the Cache.
type Transport interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// IsRemoteLocator reports whether the identifier is an absolute http or https
// URL that can be passed to a Transport.
func IsRemoteLocator(identifier string) bool {
	u, err := url.Parse(identifier)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// HTTPTransport is the default Transport retrieving assets with HTTP GET.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
	maxSize   infounit.ByteCount
}

// maxTransportSize is the largest size limit an HTTPTransport can apply.
const maxTransportSize = infounit.ByteCount(math.MaxInt64 - 1)

// NewHTTPTransport creates an HTTPTransport. A nil client means a client with
// no timeout, an empty userAgent means DefaultUserAgent and a zero maxSize
// means DefaultMaxBlobSize. Larger limits than the reader can express are
// lowered to the largest one it can.
func NewHTTPTransport(client *http.Client, userAgent string, maxSize infounit.ByteCount) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	switch {
	case maxSize == 0:
		maxSize = DefaultMaxBlobSize
	case maxTransportSize < maxSize:
		maxSize = maxTransportSize
	}
	return &HTTPTransport{
		client:    client,
		userAgent: userAgent,
		maxSize:   maxSize,
	}
}

// Fetch downloads the asset. Any response other than 2xx with a non-empty body
// no larger than the size limit fails with ErrTransport.
func (t *HTTPTransport) Fetch(ctx context.Context, locator string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrTransport, err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "image/*, */*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || 300 <= resp.StatusCode {
		return nil, fmt.Errorf("%w: unexpected status: %s", ErrTransport, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxSize)+1))
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: failed to read body: %w", ErrTransport, err)
	case len(data) == 0:
		return nil, fmt.Errorf("%w: empty body", ErrTransport)
	case t.maxSize < infounit.ByteCount(len(data)):
		return nil, fmt.Errorf("%w: body exceeds %.1S", ErrTransport, t.maxSize)
	}

	return data, nil
}
