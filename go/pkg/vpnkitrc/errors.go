package vpnkitrc

// APIError is reported by the daemon with a 4xx or 5xx status and should be
// shown to the user as-is.
type APIError struct {
	Message string `json:"message"`
	// StatusCode of the response which carried the error
	StatusCode int `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

// TransportError is any failure to talk to the daemon: connecting, timing out,
// encoding a request or decoding a response.
type TransportError struct {
	// Op names the request, for example "GET /forwards/list"
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Cause is used by github.com/pkg/errors.Cause
func (e *TransportError) Cause() error {
	return e.Err
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
