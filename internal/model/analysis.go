package model

import "time"

// Analysis is the topic metadata extracted for one conversation.
type Analysis struct {
	Category      string   `json:"category"`
	Tags          []string `json:"tags"`
	Description   string   `json:"description"`
	RelatedMemory string   `json:"related_memory"`
}

// ResultEntry pairs a corpus file with its extracted analysis.
type ResultEntry struct {
	FileName string   `json:"file_name"`
	Analysis Analysis `json:"analysis"`
}

// FailureKind classifies why an extraction attempt did not yield a record.
type FailureKind string

const (
	// FailureLocatorMiss means no balanced JSON object was found in the reply.
	FailureLocatorMiss FailureKind = "locator_miss"
	// FailureParse means a candidate object existed but no parse tier recovered it.
	FailureParse FailureKind = "parse_failure"
	// FailureSchema means the object was missing required fields.
	FailureSchema FailureKind = "schema_incomplete"
	// FailureTransport means the remote call itself failed.
	FailureTransport FailureKind = "transport"
)

// FailureEntry records a file that exhausted its extraction attempts. It is
// diagnostic only: the file stays out of the progress log and is retried on
// the next run.
type FailureEntry struct {
	ID       string      `json:"id"`
	FileName string      `json:"file_name"`
	Kind     FailureKind `json:"kind"`
	Error    string      `json:"error"`
	Attempts int         `json:"attempts"`
	FailedAt time.Time   `json:"failed_at"`
}
