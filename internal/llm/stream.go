package llm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Rrens/ai-session-manager/internal/security"
)

// errStop ends a line scan early without reporting a failure
var errStop = errors.New("stop")

// StopScan is returned from a LineFunc to end scanning cleanly
func StopScan() error { return errStop }

// LineFunc handles one non-empty line of a streamed response body
type LineFunc func(line string) error

// ScanLines calls fn for each non-empty line of r until EOF or fn stops it
func ScanLines(r io.Reader, fn LineFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return nil
}

// SSEData extracts the payload of an SSE "data:" line
func SSEData(line string) (string, bool) {
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(data), true
}

// StatusError reads a failed response into an error naming the backend.
// Anything resembling a credential is masked.
func StatusError(backend string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := security.RedactSecrets(strings.TrimSpace(string(body)))
	if msg == "" {
		return fmt.Errorf("%s returned status %d", backend, resp.StatusCode)
	}
	return fmt.Errorf("%s returned status %d: %s", backend, resp.StatusCode, msg)
}
