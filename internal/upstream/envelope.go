package upstream

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

// Envelope is the error text pulled out of a response body.
type Envelope struct {
	Code    string
	Message string
}

// Text returns the message, or the code when no message was present.
func (e Envelope) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

type extractor func(doc map[string]json.RawMessage) (Envelope, bool)

// The service puts error text in different places depending on the backend
// that answered. Order matters: first match wins.
var extractors = []extractor{
	nestedField("message"),
	nestedField("description"),
	nestedField("code"),
	firstOfErrors,
	errorCodeWithMessage,
}

// ParseEnvelope returns the error carried by body, if any. Bodies that are
// not JSON objects never carry an envelope.
func ParseEnvelope(body []byte) (Envelope, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Envelope{}, false
	}
	for _, ex := range extractors {
		if env, ok := ex(doc); ok {
			return env, true
		}
	}
	return Envelope{}, false
}

// nestedField reads error.<key>.
func nestedField(key string) extractor {
	return func(doc map[string]json.RawMessage) (Envelope, bool) {
		raw, ok := doc["error"]
		if !ok {
			return Envelope{}, false
		}
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) != nil {
			return Envelope{}, false
		}
		v, ok := obj[key]
		if !ok {
			return Envelope{}, false
		}
		s := scalarString(v)
		if s == "" {
			return Envelope{}, false
		}
		env := Envelope{Message: s}
		if key == "code" {
			env = Envelope{Code: s}
		} else if code := scalarString(obj["code"]); code != "" {
			env.Code = code
		}
		return env, true
	}
}

// firstOfErrors reads errors[0].message (GraphQL style).
func firstOfErrors(doc map[string]json.RawMessage) (Envelope, bool) {
	raw, ok := doc["errors"]
	if !ok {
		return Envelope{}, false
	}
	var list []struct {
		Message    string `json:"message"`
		Extensions struct {
			Code string `json:"code"`
		} `json:"extensions"`
	}
	if json.Unmarshal(raw, &list) != nil || len(list) == 0 || list[0].Message == "" {
		return Envelope{}, false
	}
	return Envelope{Code: list[0].Extensions.Code, Message: list[0].Message}, true
}

// errorCodeWithMessage reads the flat errorCode + message pair.
func errorCodeWithMessage(doc map[string]json.RawMessage) (Envelope, bool) {
	raw, ok := doc["errorCode"]
	if !ok {
		return Envelope{}, false
	}
	env := Envelope{Code: scalarString(raw), Message: scalarString(doc["message"])}
	if env.Code == "" && env.Message == "" {
		return Envelope{}, false
	}
	return env, true
}

func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

// classify turns an envelope (or a bare HTTP failure) into a typed error.
func classify(endpoint string, status int, env Envelope, hasEnv bool) error {
	if isNotAuthenticated(env) || (status == http.StatusUnauthorized && !hasEnv) {
		return &AuthError{Kind: KindNotAuthenticated, Code: env.Code, Message: env.Text()}
	}
	return &ProviderError{Endpoint: endpoint, Status: status, Code: env.Code, Message: env.Message}
}

func isNotAuthenticated(env Envelope) bool {
	if strings.EqualFold(env.Code, "SESSION_NOT_AUTHENTICATED") {
		return true
	}
	msg := strings.ToLower(env.Text())
	return strings.Contains(msg, "not authenticated") || msg == "session_not_authenticated"
}
