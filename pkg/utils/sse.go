package utils

import (
	"fmt"
	"net/http"
	"strings"
)

// SetupSSEHeaders 设置流式响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// SendDataRecord writes fragment as one `data:` record. A record cannot hold a
// line break, so each one becomes a space. A payload that would read as the
// `[DONE]` or `Error:` marker is sent with one extra leading space.
func SendDataRecord(w http.ResponseWriter, flusher http.Flusher, fragment string) error {
	payload := lineBreaks.Replace(fragment)
	if payload == "" {
		return nil
	}
	if payload == "[DONE]" || strings.HasPrefix(payload, "Error:") {
		payload = " " + payload
	}
	if _, err := fmt.Fprintf(w, "data: %s\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// SendDataError aborts the stream with an `Error:` record.
func SendDataError(w http.ResponseWriter, flusher http.Flusher, message string) error {
	message = strings.Join(strings.Fields(message), " ")
	if _, err := fmt.Fprintf(w, "data: Error:%s\n", message); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// SendDataDone terminates the stream normally.
func SendDataDone(w http.ResponseWriter, flusher http.Flusher) error {
	if _, err := fmt.Fprint(w, "data: [DONE]\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
