package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectEngine = "engine.worker.v1"
	SubjectReady  = "engine.ready"
)

// BuildReadySubject builds the per-worker ready event subject under base.
func BuildReadySubject(base, worker string) string {
	return fmt.Sprintf("%s.%s", base, sanitizeToken(worker))
}

// BuildWorkerSubject builds a request subject addressing a single worker.
func BuildWorkerSubject(base, worker string) string {
	return fmt.Sprintf("%s.%s", base, sanitizeToken(worker))
}

// sanitizeToken makes s safe to use as a single subject token.
func sanitizeToken(s string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(s)
}
