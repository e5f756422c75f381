package adapter

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// BodyError inspects a JSON response body for provider-reported failures
// that arrive with HTTP 200. It returns the extracted message and true
// when the body reports an error.
func BodyError(body []byte) (string, bool) {
	raw := string(body)
	if !gjson.Valid(raw) {
		return "", false
	}

	if errField := gjson.Get(raw, "error"); errField.Exists() {
		switch errField.Type {
		case gjson.String:
			if errField.String() != "" {
				return errField.String(), true
			}
		case gjson.JSON:
			if errField.IsObject() {
				if msg := errField.Get("message").String(); msg != "" {
					return msg, true
				}
				return errField.Raw, true
			}
		}
	}

	if success := gjson.Get(raw, "success"); success.Exists() && success.Type == gjson.False {
		if msg := gjson.Get(raw, "message").String(); msg != "" {
			return msg, true
		}
		return "request reported success=false", true
	}

	if code := gjson.Get(raw, "code"); code.Exists() && code.Type == gjson.Number && code.Int() != 0 {
		if msg := gjson.Get(raw, "message").String(); msg != "" {
			return fmt.Sprintf("[%d] %s", code.Int(), msg), true
		}
	}

	switch gjson.Get(raw, "status").String() {
	case "error", "fail", "failed":
		msg := gjson.Get(raw, "message").String()
		if msg == "" {
			msg = "request reported status=" + gjson.Get(raw, "status").String()
		}
		return msg, true
	}

	return "", false
}
