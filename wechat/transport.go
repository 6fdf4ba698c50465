package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"wuyrush.io/wxpub/common/logging"
	rt "wuyrush.io/wxpub/common/retry"
	"wuyrush.io/wxpub/config"
	we "wuyrush.io/wxpub/errors"
)

// Transport performs HTTP calls against the remote service with bounded
// retries. Retry policy is chosen per error class: transient network/5xx and
// remote server-side errcodes back off briefly, rate-limit errcodes back off
// long, everything else propagates immediately.
type Transport struct {
	hc *http.Client
}

func NewTransport(cfg *config.Config) *Transport {
	return &Transport{
		hc: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			},
		},
	}
}

// GetJSON performs a GET and decodes the response envelope into out.
func (t *Transport) GetJSON(ctx context.Context, url string, out interface{}) *we.Err {
	return t.withRetry(url, func() *we.Err {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return we.NewBadInput("malformed request URL").WithCause(err)
		}
		return t.roundTrip(req, out)
	})
}

// PostJSON performs a POST with a JSON body and decodes the response envelope
// into out.
func (t *Transport) PostJSON(ctx context.Context, url string, body, out interface{}) *we.Err {
	payload, err := json.Marshal(body)
	if err != nil {
		return we.NewBadInput("error marshalling request body").WithCause(err)
	}
	return t.withRetry(url, func() *we.Err {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return we.NewBadInput("malformed request URL").WithCause(err)
		}
		req.Header.Set("Content-Type", "application/json")
		return t.roundTrip(req, out)
	})
}

// UploadMultipart POSTs data as a multipart file part under the given field
// and filename, and decodes the response envelope into out. The form is
// rebuilt per attempt so retries never reuse a consumed reader.
func (t *Transport) UploadMultipart(ctx context.Context, url, field, filename string, data []byte, out interface{}) *we.Err {
	return t.withRetry(url, func() *we.Err {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile(field, filename)
		if err != nil {
			return we.NewServiceFailure("error building multipart form").WithCause(err)
		}
		if _, err := part.Write(data); err != nil {
			return we.NewServiceFailure("error writing multipart payload").WithCause(err)
		}
		if err := w.Close(); err != nil {
			return we.NewServiceFailure("error finalizing multipart form").WithCause(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
		if err != nil {
			return we.NewBadInput("malformed request URL").WithCause(err)
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return t.roundTrip(req, out)
	})
}

// DownloadLimited streams at most max bytes from url, failing with an
// Oversized error the moment the cap is exceeded rather than after buffering
// the whole body.
func (t *Transport) DownloadLimited(ctx context.Context, url string, max int64) ([]byte, *we.Err) {
	var data []byte
	err := t.withRetry(url, func() *we.Err {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return we.NewBadInput("malformed request URL").WithCause(err)
		}
		resp, err := t.hc.Do(req)
		if err != nil {
			return we.NewServiceFailure("error downloading content").WithCause(stripURL(err))
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusErr(resp.StatusCode, url)
		}
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil && n > max {
				return we.NewOversized(fmt.Sprintf("content at %s is %d bytes, cap is %d", url, n, max))
			}
		}
		b, rerr := io.ReadAll(NewCapReader(resp.Body, max))
		if rerr != nil {
			if v, ok := rerr.(*we.Err); ok {
				return v.WithMsg(fmt.Sprintf("content at %s exceeds download cap of %d bytes", url, max))
			}
			return we.NewServiceFailure("error reading downloaded content").WithCause(rerr)
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// roundTrip performs one attempt: HTTP exchange, JSON decode, envelope check.
func (t *Transport) roundTrip(req *http.Request, out interface{}) *we.Err {
	resp, err := t.hc.Do(req)
	if err != nil {
		return we.NewServiceFailure("error calling remote service").WithCause(stripURL(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusErr(resp.StatusCode, req.URL.Path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return we.NewServiceFailure("error decoding remote response").WithCause(err)
	}
	if env, ok := out.(enveloped); ok {
		if err := env.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) withRetry(target string, op func() *we.Err) *we.Err {
	clog := logging.WithFuncName().WithField("target", redactTarget(target))
	err := rt.Retry(
		func() error {
			if e := op(); e != nil {
				return e
			}
			return nil
		},
		rt.WithPlan(func(err error, attempts int64) (time.Duration, bool) {
			pol, ok := we.RetryPolicyFor(err)
			if !ok || attempts >= pol.MaxAttempts {
				return 0, false
			}
			delay := pol.Delay(attempts)
			clog.WithError(err).WithFields(log.Fields{
				"attempts": attempts,
				"delay":    delay,
			}).Warn("remote call failed, retrying")
			return delay, true
		}),
	)
	if err == nil {
		return nil
	}
	if v, ok := err.(*we.Err); ok {
		return v
	}
	return we.NewServiceFailure("remote call failed").WithCause(err)
}

// stripURL drops the *url.Error wrapper http.Client returns; its message
// embeds the full request URL, query string included.
func stripURL(err error) error {
	if uerr, ok := err.(*url.Error); ok && uerr.Err != nil {
		return uerr.Err
	}
	return err
}

// redactTarget strips the query string from a request URL before it reaches a
// log field; queries carry the app secret and access tokens.
func redactTarget(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "<unparseable URL>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func statusErr(code int, target string) *we.Err {
	msg := fmt.Sprintf("remote service returned HTTP %d for %s", code, target)
	if code >= 500 || code == http.StatusTooManyRequests {
		return we.NewServiceFailure(msg)
	}
	return we.NewBadInput(msg)
}

// CapReader dedicates to detecting oversized data. It reads up to one byte
// past the cap so a stream of exactly max bytes still succeeds.
type CapReader struct {
	R io.Reader // underlying reader
	n int64     // max bytes remaining
}

func NewCapReader(r io.Reader, max int64) *CapReader {
	if max > math.MaxInt64-1 {
		max = math.MaxInt64 - 1
	}
	return &CapReader{R: r, n: max + 1}
}

func (r *CapReader) Read(p []byte) (n int, err error) {
	if int64(len(p)) > r.n {
		p = p[0:r.n]
	}
	n, err = r.R.Read(p)
	r.n -= int64(n)
	if r.n <= 0 {
		return 0, we.NewOversized("data exceeds size cap")
	}
	return
}
