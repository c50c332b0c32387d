package transport

import (
	"encoding/json"
	"net/http"
	"strings"
)

// apiError mirrors the {"error":{"code","message"}} body most endpoints emit.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error   *apiError       `json:"error"`
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// validationDetail is one item of a list-shaped "detail" field.
type validationDetail struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// decodeErrorBody extracts a code and human-readable message from an error
// response. It never fails: unknown shapes fall back to the status text.
func decodeErrorBody(status int, body []byte) (code, msg string) {
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		switch {
		case eb.Error != nil && strings.TrimSpace(eb.Error.Message) != "":
			return eb.Error.Code, eb.Error.Message
		case len(eb.Detail) > 0:
			if m := detailMessage(eb.Detail); m != "" {
				return "", m
			}
		case strings.TrimSpace(eb.Message) != "":
			return "", eb.Message
		}
	}

	text := strings.TrimSpace(string(body))
	if text != "" && len(text) <= 200 && !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "<") {
		return "", text
	}
	if st := http.StatusText(status); st != "" {
		return "", st
	}
	return "", "request failed"
}

func detailMessage(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}

	var items []validationDetail
	if json.Unmarshal(raw, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if m := strings.TrimSpace(it.Msg); m != "" {
				msgs = append(msgs, m)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
