package event

import (
	"fmt"
	"io"
)

// WriteSSE writes one Server-Sent Events frame carrying data.
func WriteSSE(w io.Writer, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// WriteNamedSSE writes one frame with an explicit event name.
func WriteNamedSSE(w io.Writer, name string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

// WriteHeartbeat writes an SSE comment that keeps idle connections open.
func WriteHeartbeat(w io.Writer) error {
	_, err := io.WriteString(w, ": heartbeat\n\n")
	return err
}
