// Package errors vends the error type shared across wxpub components, plus the
// classification tables that drive retry behavior against the remote service.
package errors

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

type ErrCode string

const (
	ErrCodeBadInput       ErrCode = "BadInput"
	ErrCodeBadConfig      ErrCode = "BadConfig"
	ErrCodeNotFound       ErrCode = "NotFound"
	ErrCodeOversized      ErrCode = "Oversized"
	ErrCodeServiceFailure ErrCode = "ServiceFailure"
	ErrCodeRemoteAPI      ErrCode = "RemoteAPI"
)

// Err is the error value passed between wxpub components. Remote holds the
// remote service's errcode and is meaningful only when Code is ErrCodeRemoteAPI.
type Err struct {
	Code   ErrCode
	Remote int
	msg    string
	cause  error
}

func (e *Err) Error() string {
	if e.Code == ErrCodeRemoteAPI {
		return fmt.Sprintf("remote API error [%d]: %s", e.Remote, e.msg)
	}
	return e.msg
}

// Trace returns the error message together with its cause chain, one cause per
// line with increasing indentation.
func (e *Err) Trace() string {
	b := &strings.Builder{}
	b.WriteString(e.Error())
	depth := 1
	err := errors.Unwrap(e)
	for err != nil {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("\t", depth))
		b.WriteString("Caused by: ")
		b.WriteString(err.Error())
		depth++
		err = errors.Unwrap(err)
	}
	return b.String()
}

func (e *Err) Unwrap() error {
	return e.cause
}

func (e *Err) WithCause(c error) *Err {
	e.cause = c
	return e
}

func (e *Err) WithMsg(m string) *Err {
	e.msg = m
	return e
}

// prefer NewFoo(msg).WithCause(cause) over a two-arg constructor - the chained
// form keeps the role of the second value explicit at call sites
func NewBadInput(m string) *Err {
	return &Err{Code: ErrCodeBadInput, msg: m}
}

func NewBadConfig(m string) *Err {
	return &Err{Code: ErrCodeBadConfig, msg: m}
}

func NewNotFound(m string) *Err {
	return &Err{Code: ErrCodeNotFound, msg: m}
}

func NewOversized(m string) *Err {
	return &Err{Code: ErrCodeOversized, msg: m}
}

func NewServiceFailure(m string) *Err {
	return &Err{Code: ErrCodeServiceFailure, msg: m}
}

// NewRemoteAPI wraps a non-zero response envelope from the remote service.
func NewRemoteAPI(code int, msg string) *Err {
	return &Err{Code: ErrCodeRemoteAPI, Remote: code, msg: msg}
}

// Remote errcode classes. The set of codes is fixed and known up front, so
// behavior hangs off plain lookup tables rather than error subtypes.
var (
	// token expired or rejected; resolved by a forced credential refresh
	credentialCodes = map[int]struct{}{
		40001: {}, 40014: {}, 42001: {}, 42007: {},
	}
	// request quota exhausted; retryable after a long delay
	rateLimitCodes = map[int]struct{}{
		45009: {}, 45011: {},
	}
	// remote-side failure; retryable after a short delay
	serverCodes = map[int]struct{}{
		-1: {}, 50001: {}, 50002: {},
	}
	// remote errors that point at broken account setup rather than a bad call
	criticalCodes = map[int]struct{}{
		40013: {}, 48001: {},
	}
)

// IsCredential reports whether err is a remote rejection of the current
// credential. Such errors are not retried in place; the caller refreshes the
// credential and replays the call.
func IsCredential(err error) bool {
	e := asErr(err)
	if e == nil || e.Code != ErrCodeRemoteAPI {
		return false
	}
	_, ok := credentialCodes[e.Remote]
	return ok
}

// RetryPolicy bounds retries of a single remote call.
type RetryPolicy struct {
	MaxAttempts int64 // total attempts including the first
	BaseDelay   time.Duration
	MaxBackoff  time.Duration
	Factor      float64
	Jitter      float64
}

// Delay returns the wait before the next attempt, given the number of attempts
// completed so far.
func (p RetryPolicy) Delay(attempt int64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := math.Pow(p.Factor, float64(attempt-1)) * (1 + p.Jitter*rand.Float64())
	d := time.Duration(math.Min(float64(p.BaseDelay)*factor, float64(math.MaxInt64)))
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

var (
	// transient network failures and remote 5xx-class errcodes
	transientPolicy = RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		Factor:      2.0,
		Jitter:      0.2,
	}
	// rate limits clear on the order of seconds, so wait longer and try more
	rateLimitPolicy = RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxBackoff:  60 * time.Second,
		Factor:      2.0,
		Jitter:      0.2,
	}
)

// RetryPolicyFor returns the retry policy for err. The second return is false
// when err must not be retried in place: terminal errors, credential errors
// (handled by refresh-and-replay) and unknown remote codes.
func RetryPolicyFor(err error) (RetryPolicy, bool) {
	e := asErr(err)
	if e == nil {
		return RetryPolicy{}, false
	}
	switch e.Code {
	case ErrCodeServiceFailure:
		return transientPolicy, true
	case ErrCodeRemoteAPI:
		if _, ok := rateLimitCodes[e.Remote]; ok {
			return rateLimitPolicy, true
		}
		if _, ok := serverCodes[e.Remote]; ok {
			return transientPolicy, true
		}
	}
	return RetryPolicy{}, false
}

// Severity levels for logging and operator triage.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "ERROR"
	}
}

func SeverityOf(err error) Severity {
	e := asErr(err)
	if e == nil {
		return SeverityError
	}
	switch e.Code {
	case ErrCodeServiceFailure:
		return SeverityWarning
	case ErrCodeRemoteAPI:
		if _, ok := criticalCodes[e.Remote]; ok {
			return SeverityCritical
		}
		if _, ok := rateLimitCodes[e.Remote]; ok {
			return SeverityWarning
		}
	}
	return SeverityError
}

func asErr(err error) *Err {
	var e *Err
	if errors.As(err, &e) {
		return e
	}
	return nil
}
