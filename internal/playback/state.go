// Package playback resolves a video id into something an external player can
// open: a manifest URL, its protocol and, for protected streams, the license
// parameters.
package playback

import (
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/snapetech/cmore/internal/log"
)

// State is one step of a play request.
type State string

const (
	Idle             State = "idle"
	TokenEnsured     State = "token_ensured"
	AssetLocated     State = "asset_located"
	ManifestResolved State = "manifest_resolved"
	LicenseAcquired  State = "license_acquired"
	NoDrmNeeded      State = "no_drm_needed"
	Ready            State = "ready"
	Failed           State = "failed"
)

// transitions lists the forward edges. Failed is reachable from any state
// except Ready and is terminal.
var transitions = map[State][]State{
	Idle:             {TokenEnsured},
	TokenEnsured:     {AssetLocated},
	AssetLocated:     {ManifestResolved},
	ManifestResolved: {LicenseAcquired, NoDrmNeeded},
	LicenseAcquired:  {Ready},
	NoDrmNeeded:      {Ready},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	if to == Failed {
		return from != Ready && from != Failed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Request tracks one play attempt. It is owned by the call that created it.
type Request struct {
	VideoID string       `json:"videoId"`
	State   State        `json:"state"`
	Reason  string       `json:"reason,omitempty"`
	History []Transition `json:"history"`

	logger zerolog.Logger
}

func newRequest(videoID string) *Request {
	return &Request{
		VideoID: videoID,
		State:   Idle,
		logger:  xlog.WithComponent("playback").With().Str(xlog.FieldVideoID, videoID).Logger(),
	}
}

// advance moves to next. Illegal steps are ignored and logged; they indicate
// a bug in the resolver, not in the upstream data.
func (r *Request) advance(next State) {
	if !CanTransition(r.State, next) {
		r.logger.Error().
			Str(xlog.FieldOldState, string(r.State)).
			Str(xlog.FieldNewState, string(next)).
			Msg("illegal playback transition")
		return
	}
	r.History = append(r.History, Transition{From: r.State, To: next, At: time.Now()})
	r.logger.Debug().
		Str(xlog.FieldOldState, string(r.State)).
		Str(xlog.FieldNewState, string(next)).
		Msg("playback transition")
	r.State = next
}

// fail moves to Failed with err as the reason and returns err.
func (r *Request) fail(err error) error {
	if r.State == Failed {
		return err
	}
	r.Reason = err.Error()
	r.advance(Failed)
	return err
}
