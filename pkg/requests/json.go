package requests

// requests is a library for making JSON requests to HTTP APIs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

func RequestJSON[T any](method, url string, body any) (response *T, err error) {
	bodyB, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return RequestBinary[T](method, url, "application/json", bytes.NewReader(bodyB))
}

// RequestBinary sends a raw body (eg a JPEG image) and decodes a JSON response.
func RequestBinary[T any](method, url, contentType string, body io.Reader) (response *T, err error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%v. %v", resp.Status, string(msg))
	}
	var responseObj T
	if err := json.NewDecoder(resp.Body).Decode(&responseObj); err != nil {
		return nil, fmt.Errorf("%v. %w", resp.Status, err)
	}
	response = &responseObj
	return
}
