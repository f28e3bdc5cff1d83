package keyquota

import "net/http"

// SetError sets an error response in the request context.
// If Handler middleware is not present (state is nil), this is a no-op.
// Use HasState() to check if Handler middleware is active.
func SetError(r *http.Request, err *APIError) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.err = err
}

// Fail records err as the response. The original error is kept for the
// canonical log line; the client sees FromError(err).
func Fail(r *http.Request, err error) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.err = FromError(err)
	state.cause = err
}

// SetResponse sets a success response in the request context.
// If Handler middleware is not present (state is nil), this is a no-op.
func SetResponse(r *http.Request, status int, body any) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.status = status
	state.body = body
}

// SetHeader sets a response header in the request context.
// If Handler middleware is not present (state is nil), this is a no-op.
func SetHeader(r *http.Request, key, value string) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.headers == nil {
		state.headers = make(http.Header)
	}
	state.headers.Set(key, value)
}

// setOrWriteHeader sets a header through the state when Handler is active
// and directly on w otherwise.
func setOrWriteHeader(w http.ResponseWriter, r *http.Request, key, value string) {
	if HasState(r.Context()) {
		SetHeader(r, key, value)
		return
	}
	w.Header().Set(key, value)
}

// fail records err through the state when Handler is active and writes a
// plain text error otherwise.
func fail(w http.ResponseWriter, r *http.Request, err *APIError) {
	if HasState(r.Context()) {
		SetError(r, err)
		return
	}
	http.Error(w, err.Message, err.Status)
}
