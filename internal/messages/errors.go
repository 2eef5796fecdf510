package messages

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode identifies an error class on the wire.
type ErrorCode uint16

const (
	CodeUnknown ErrorCode = iota
	CodeInvalidSignature
	CodeUnknownSigner
	CodeDuplicateSigner
	CodeCertificateRequiresQuorum
	CodeQuorumNotReached
	CodeMissingDependency
	CodeDependencyResolutionExhausted
	CodeAuthorityUpdateFailure
	CodeCertificateNotFound
	CodeAuthorityInformationUnavailable
	CodeByzantineAuthority
	CodeTooManyIncorrectAuthorities
	CodeTransport
	CodeTimeout
	CodeConflictingOrder
	CodeObjectNotFound
	CodeIncorrectSigner
	CodeInvalidObjectDigest
	CodeInvalidOrder
)

// String returns the sentinel message of the code.
func (c ErrorCode) String() string {
	if s, ok := sentinels[c]; ok {
		return s.msg
	}

	return "unknown"
}

// codedError is a sentinel with a stable wire code.
type codedError struct {
	code ErrorCode
	msg  string
}

func (e *codedError) Error() string { return e.msg }

// newError registers a sentinel under its code.
func newError(code ErrorCode, msg string) error {
	e := &codedError{code: code, msg: msg}
	sentinels[code] = e

	return e
}

var sentinels = map[ErrorCode]*codedError{}

var (
	// Certificate and quorum failures.
	ErrInvalidSignature                = newError(CodeInvalidSignature, "invalid signature")
	ErrUnknownSigner                   = newError(CodeUnknownSigner, "unknown or unweighted signer")
	ErrDuplicateSigner                 = newError(CodeDuplicateSigner, "duplicate signer")
	ErrCertificateRequiresQuorum       = newError(CodeCertificateRequiresQuorum, "certificate requires quorum")
	ErrQuorumNotReached                = newError(CodeQuorumNotReached, "quorum not reached")
	ErrMissingDependency               = newError(CodeMissingDependency, "missing dependency")
	ErrDependencyResolutionExhausted   = newError(CodeDependencyResolutionExhausted, "dependency resolution exhausted")
	ErrAuthorityUpdateFailure          = newError(CodeAuthorityUpdateFailure, "failed to update authority")
	ErrCertificateNotFound             = newError(CodeCertificateNotFound, "could not locate certificate")
	ErrAuthorityInformationUnavailable = newError(CodeAuthorityInformationUnavailable, "authority information unavailable")
	ErrByzantineAuthority              = newError(CodeByzantineAuthority, "byzantine authority suspected")
	ErrTooManyIncorrectAuthorities     = newError(CodeTooManyIncorrectAuthorities, "too many incorrect authorities")
	ErrTransport                       = newError(CodeTransport, "transport failure")
	ErrTimeout                         = newError(CodeTimeout, "timeout")

	// Authority-side failures.
	ErrConflictingOrder    = newError(CodeConflictingOrder, "conflicting order already locked")
	ErrObjectNotFound      = newError(CodeObjectNotFound, "object not found")
	ErrIncorrectSigner     = newError(CodeIncorrectSigner, "incorrect signer")
	ErrInvalidObjectDigest = newError(CodeInvalidObjectDigest, "invalid object digest")
	ErrInvalidOrder        = newError(CodeInvalidOrder, "invalid order")
)

// CodeOf returns the wire code of the first sentinel err wraps.
func CodeOf(err error) ErrorCode {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Code
	}

	var qnr *QuorumNotReachedError
	if errors.As(err, &qnr) {
		return CodeQuorumNotReached
	}

	for code := CodeInvalidSignature; code <= CodeInvalidOrder; code++ {
		if errors.Is(err, sentinels[code]) {
			return code
		}
	}

	return CodeUnknown
}

// FromCode rebuilds an error received from a remote authority.
// The message is kept verbatim so identical remote errors compare equal.
func FromCode(code ErrorCode, msg string) error {
	s, ok := sentinels[code]
	if ok && msg == s.msg {
		return s
	}

	return &RemoteError{Code: code, Message: msg}
}

// RemoteError is an error reported by an authority.
type RemoteError struct {
	Code    ErrorCode // Code is the wire code
	Message string    // Message is the authority's error text
}

func (e *RemoteError) Error() string { return e.Message }

// Unwrap exposes the sentinel matching the code.
func (e *RemoteError) Unwrap() error {
	if s, ok := sentinels[e.Code]; ok {
		return s
	}

	return nil
}

// QuorumNotReachedError reports a failed quorum round.
type QuorumNotReachedError struct {
	Errors []error // Errors are the distinct errors observed, heaviest first
	Weight uint64  // Weight is the success weight gathered
}

func (e *QuorumNotReachedError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("quorum not reached (weight %d)", e.Weight)
	}

	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}

	return fmt.Sprintf("quorum not reached (weight %d): %s", e.Weight, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrQuorumNotReached.
func (e *QuorumNotReachedError) Unwrap() error {
	return ErrQuorumNotReached
}

// Is matches an error one of the authorities returned, so callers can test
// for the reason that made the round fail fast.
func (e *QuorumNotReachedError) Is(target error) bool {
	for _, err := range e.Errors {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// WeightedError is an error together with the stake that reported it.
type WeightedError struct {
	Err    error
	Weight uint64
}

// NewQuorumNotReached builds the error from per-message weights, heaviest first.
func NewQuorumNotReached(weight uint64, errs []WeightedError) *QuorumNotReachedError {
	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Weight > errs[j].Weight
	})

	out := make([]error, len(errs))
	for i, we := range errs {
		out[i] = we.Err
	}

	return &QuorumNotReachedError{Errors: out, Weight: weight}
}
