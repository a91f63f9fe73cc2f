// Package drm handles the Widevine path: reading the content key id from a
// DASH manifest and trading a player challenge for a license.
package drm

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"

	"41.neocities.org/luna/dash"
	"github.com/google/uuid"
)

// ErrKeyIDNotFound means the manifest declares no protected adaptation set.
var ErrKeyIDNotFound = errors.New("drm: no content key id in manifest")

// ManifestParseError wraps a manifest that is not a readable MPD document.
type ManifestParseError struct {
	Err error
}

func (e *ManifestParseError) Error() string {
	return "drm: malformed manifest: " + e.Err.Error()
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// KeyID returns the first ContentProtection default_KID declared by an
// AdaptationSet of the MPD, in document order. Protection declared on a
// Representation counts for its enclosing set. The KID is returned in
// canonical lowercase UUID form.
func KeyID(manifest []byte) (string, error) {
	if err := checkRoot(manifest); err != nil {
		return "", &ManifestParseError{Err: err}
	}
	mpd, err := dash.Parse(manifest)
	if err != nil {
		return "", &ManifestParseError{Err: err}
	}
	for _, period := range mpd.Period {
		for _, set := range period.AdaptationSet {
			for _, cp := range set.ContentProtection {
				if kid, ok := defaultKID(cp.GetDefaultKid()); ok {
					return kid, nil
				}
			}
			for _, rep := range set.Representation {
				for _, cp := range rep.ContentProtection {
					if kid, ok := defaultKID(cp.GetDefaultKid()); ok {
						return kid, nil
					}
				}
			}
		}
	}
	return "", ErrKeyIDNotFound
}

func defaultKID(raw []byte, err error) (string, bool) {
	if err != nil || len(raw) == 0 {
		return "", false
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// checkRoot rejects documents whose first element is not <MPD>; the dash
// decoder accepts any well-formed XML.
func checkRoot(manifest []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(manifest))
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("no <MPD> root: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local != "MPD" {
				return fmt.Errorf("root element is <%s>, want <MPD>", se.Name.Local)
			}
			return nil
		}
	}
}
