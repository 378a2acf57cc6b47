package generation

// Outcome is the result of an operation that either sends the caller to
// another page or answers with a JSON payload.
type Outcome struct {
	location string
	payload  any
}

// Redirect returns an outcome that sends the caller to location.
func Redirect(location string) Outcome {
	return Outcome{location: location}
}

// JSON returns an outcome that answers with payload.
func JSON(payload any) Outcome {
	return Outcome{payload: payload}
}

// IsRedirect reports whether the outcome is a redirect.
func (o Outcome) IsRedirect() bool {
	return o.location != ""
}

// Location is the redirect target, or "".
func (o Outcome) Location() string {
	return o.location
}

// Payload is the JSON payload, or nil for a redirect.
func (o Outcome) Payload() any {
	return o.payload
}
