package rnvapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRateLimited     = errors.New("request rate limit exceeded")
	ErrInvalidResponse = errors.New("invalid response")
)

// Doer is the minimal HTTP execution surface the client needs. *http.Client
// satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// Middleware wraps a Doer with extra request or response behavior.
type Middleware func(next Doer) Doer

// Chain applies middlewares to base so the first listed runs outermost.
func Chain(base Doer, mws ...Middleware) Doer {
	d := base
	for i := len(mws) - 1; i >= 0; i-- {
		d = mws[i](d)
	}
	return d
}

// SigningMiddleware stamps each request with X-Timestamp, X-Nonce,
// X-Signature and X-API-Version headers. The signature is an HMAC-SHA256
// over method, URL, timestamp, nonce and the SHA-256 of the body, joined
// with "|".
func SigningMiddleware(key string) Middleware {
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			timestamp := strconv.FormatInt(time.Now().Unix(), 10)
			nonce := uuid.NewString()

			parts := []string{req.Method, req.URL.String(), timestamp, nonce}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("reading request body for signing: %w", err)
				}
				data, err := io.ReadAll(body)
				body.Close()
				if err != nil {
					return nil, fmt.Errorf("reading request body for signing: %w", err)
				}
				sum := sha256.Sum256(data)
				parts = append(parts, fmt.Sprintf("%x", sum))
			}

			mac := hmac.New(sha256.New, []byte(key))
			mac.Write([]byte(strings.Join(parts, "|")))

			req.Header.Set("X-Timestamp", timestamp)
			req.Header.Set("X-Nonce", nonce)
			req.Header.Set("X-Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
			req.Header.Set("X-API-Version", "1.0")
			return next.Do(req)
		})
	}
}

// ValidationMiddleware rejects non-2xx responses, non-JSON content types and
// bodies larger than maxBytes. The body is fully read and replaced so
// callers can decode it as usual.
func ValidationMiddleware(maxBytes int64) Middleware {
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			resp, err := next.Do(req)
			if err != nil {
				return nil, err
			}

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				resp.Body.Close()
				return nil, fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
			}
			ct := resp.Header.Get("Content-Type")
			if !strings.Contains(strings.ToLower(ct), "application/json") {
				resp.Body.Close()
				return nil, fmt.Errorf("%w: content type %q", ErrInvalidResponse, ct)
			}

			data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("reading response body: %w", err)
			}
			if int64(len(data)) > maxBytes {
				return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidResponse, maxBytes)
			}

			resp.Body = io.NopCloser(bytes.NewReader(data))
			return resp, nil
		})
	}
}

// MinIntervalMiddleware enforces a minimum spacing between requests to the
// same host. A request arriving too soon fails with ErrRateLimited instead
// of waiting.
func MinIntervalMiddleware(interval time.Duration) Middleware {
	var (
		mu   sync.Mutex
		last = make(map[string]time.Time)
	)
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			host := req.URL.Host
			now := time.Now()

			mu.Lock()
			if prev, ok := last[host]; ok && now.Sub(prev) < interval {
				mu.Unlock()
				return nil, fmt.Errorf("%w: host %s", ErrRateLimited, host)
			}
			last[host] = now
			mu.Unlock()

			return next.Do(req)
		})
	}
}
