package settings

import (
	"context"

	xlog "github.com/snapetech/cmore/internal/log"
	"github.com/snapetech/cmore/internal/session"
)

// Static is a CredentialSource for hosts without a settings database: it
// serves fixed credentials (usually from CMORE_* env) and caches nothing.
type Static struct {
	Credentials session.Credentials
	Prompt      func()
}

func (s Static) StoredCredentials(context.Context) (session.Credentials, error) {
	return s.Credentials, nil
}

func (s Static) OnAuthRequired() {
	if s.Prompt != nil {
		s.Prompt()
		return
	}
	l := xlog.WithComponent("settings")
	l.Warn().Msg("credentials required: set CMORE_USERNAME/CMORE_PASSWORD or CMORE_SETTINGS_DB")
}
