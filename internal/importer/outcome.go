package importer

import (
	"context"
	"errors"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// Stage is a step of one import cycle.
type Stage int

const (
	StageFetching Stage = iota
	StageParsing
	StagePersistingHistory
	StageAnalyzing
	StagePersistingResult
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageFetching:
		return "fetching"
	case StageParsing:
		return "parsing"
	case StagePersistingHistory:
		return "persisting_history"
	case StageAnalyzing:
		return "analyzing"
	case StagePersistingResult:
		return "persisting_result"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// ErrorKind classifies why a cycle failed.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransient
	KindPermanent
	KindMalformed
	KindPersistence
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindMalformed:
		return "malformed"
	case KindPersistence:
		return "persistence"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the result of one import cycle. A successful cycle has Stage
// StageDone and a non-nil Result; a failed one carries the stage it failed in.
type Outcome struct {
	Identity  domain.ItemIdentity
	Stage     Stage
	Kind      ErrorKind
	Err       error
	Retryable bool
	Result    *domain.AnalyzeResult
	// Previous is the result that was current before this cycle, if any.
	Previous *domain.AnalyzeResult
	// Skipped counts malformed rows dropped across both dumps.
	Skipped int
}

// Failed reports whether the cycle ended before StageDone.
func (o Outcome) Failed() bool { return o.Stage != StageDone }

// BecameRecommended reports a flip from not recommended (or no result) to
// recommended.
func (o Outcome) BecameRecommended() bool {
	if o.Result == nil || !o.Result.Recommended {
		return false
	}
	return o.Previous == nil || !o.Previous.Recommended
}

func failed(id domain.ItemIdentity, stage Stage, err error) Outcome {
	out := Outcome{Identity: id, Stage: stage, Err: err}

	var fe *domain.FetchError
	var pe *domain.ParseError
	var se *domain.PersistenceError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrContextDone):
		out.Kind = KindCancelled
		out.Retryable = true
	case errors.As(err, &fe):
		if fe.Transient() {
			out.Kind = KindTransient
			out.Retryable = true
		} else {
			out.Kind = KindPermanent
		}
	case errors.As(err, &pe):
		out.Kind = KindMalformed
	case errors.As(err, &se):
		out.Kind = KindPersistence
		out.Retryable = true
	case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrRateLimited):
		out.Kind = KindTransient
		out.Retryable = true
	default:
		out.Kind = KindPermanent
	}
	return out
}
