package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeDiscoveryPage represents a search page that could not be walked
	ErrorTypeDiscoveryPage ErrorType = "discovery_page"
	// ErrorTypeLinkMissing represents a listing anchor without a resolvable target
	ErrorTypeLinkMissing ErrorType = "link_missing"
	// ErrorTypeTooManyRequests represents a 429 answer or an active rate-limit block
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
	// ErrorTypeUnexpectedStatus represents any other non-200 answer
	ErrorTypeUnexpectedStatus ErrorType = "unexpected_status"
	// ErrorTypeTransport represents network/connection errors
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypePayloadNotFound represents a page without the classified script
	ErrorTypePayloadNotFound ErrorType = "payload_not_found"
	// ErrorTypeMalformedPayload represents a classified script that does not decode
	ErrorTypeMalformedPayload ErrorType = "malformed_payload"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypePublisher represents publisher-related errors
	ErrorTypePublisher ErrorType = "publisher"
	// ErrorTypeSink represents table sink errors
	ErrorTypeSink ErrorType = "sink"
)

// CrawlerError represents a classified crawl failure
type CrawlerError struct {
	Type       ErrorType
	Source     string
	Message    string
	Err        error
	StatusCode int
	RetryAfter time.Duration
	Time       time.Time
}

// Error implements the error interface
func (e *CrawlerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *CrawlerError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is retryable
func (e *CrawlerError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTransport, ErrorTypeTooManyRequests:
		return true
	default:
		return false
	}
}

// New creates a new CrawlerError
func New(errType ErrorType, source, message string, err error) *CrawlerError {
	return &CrawlerError{
		Type:    errType,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewDiscoveryPage creates a page-level discovery error
func NewDiscoveryPage(pageURL string, page int, err error) *CrawlerError {
	return New(ErrorTypeDiscoveryPage, pageURL, fmt.Sprintf("page %d discarded", page), err)
}

// NewLinkMissing creates an error for an anchor without a target
func NewLinkMissing(pageURL string, index int) *CrawlerError {
	return New(ErrorTypeLinkMissing, pageURL, fmt.Sprintf("anchor #%d has no link target", index), nil)
}

// NewTooManyRequests creates a rate limit error
func NewTooManyRequests(url string, retryAfter time.Duration) *CrawlerError {
	e := New(ErrorTypeTooManyRequests, url, fmt.Sprintf("rate limited; retry after %v", retryAfter), nil)
	e.StatusCode = 429
	e.RetryAfter = retryAfter
	return e
}

// NewUnexpectedStatus creates an error for a non-200 answer
func NewUnexpectedStatus(url string, status int) *CrawlerError {
	e := New(ErrorTypeUnexpectedStatus, url, fmt.Sprintf("unexpected status code: %d", status), nil)
	e.StatusCode = status
	return e
}

// NewTransport creates a new network error
func NewTransport(url, message string, err error) *CrawlerError {
	return New(ErrorTypeTransport, url, message, err)
}

// NewPayloadNotFound creates an error for a page without the classified payload
func NewPayloadNotFound(source string) *CrawlerError {
	return New(ErrorTypePayloadNotFound, source, "classified payload script not found", nil)
}

// NewMalformedPayload creates an error for a payload that does not decode
func NewMalformedPayload(source, message string, err error) *CrawlerError {
	return New(ErrorTypeMalformedPayload, source, message, err)
}

// NewCache creates a new cache error
func NewCache(source, message string, err error) *CrawlerError {
	return New(ErrorTypeCache, source, message, err)
}

// NewPublisher creates a new publisher error
func NewPublisher(source, message string, err error) *CrawlerError {
	return New(ErrorTypePublisher, source, message, err)
}

// NewSink creates a new sink error
func NewSink(source, message string, err error) *CrawlerError {
	return New(ErrorTypeSink, source, message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *CrawlerError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// As returns the CrawlerError wrapped in err, if any
func As(err error) (*CrawlerError, bool) {
	var ce *CrawlerError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// TypeOf returns the type of a classified error, or "" for unclassified ones
func TypeOf(err error) ErrorType {
	if ce, ok := As(err); ok {
		return ce.Type
	}
	return ""
}

// Is reports whether err is a CrawlerError of the given type
func Is(err error, errType ErrorType) bool {
	return TypeOf(err) == errType
}
