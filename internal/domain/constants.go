package domain

// Status is the lifecycle state of a conversion job
type Status string

// Job status constants
const (
	JobStatusPending    Status = "PENDING"
	JobStatusProcessing Status = "PROCESSING"
	JobStatusDone       Status = "DONE"
	JobStatusFailed     Status = "FAILED"
)

// ErrorCode is the structured error recorded on a FAILED job
type ErrorCode string

// Error codes persisted in conversion_jobs.error
const (
	ErrorCodeStorageUploadFailed   ErrorCode = "STORAGE_UPLOAD_FAILED"
	ErrorCodeStorageDownloadFailed ErrorCode = "STORAGE_DOWNLOAD_FAILED"
	ErrorCodeNoAudioStream         ErrorCode = "NO_AUDIO_STREAM"
	ErrorCodeFFmpegFailed          ErrorCode = "FFMPEG_FAILED"
	ErrorCodeUnsupportedFormat     ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorCodeOutputNotFound        ErrorCode = "OUTPUT_NOT_FOUND"
	ErrorCodeUnknown               ErrorCode = "UNKNOWN_ERROR"
)

// Content types used for stored objects
const (
	OutputContentType = "audio/mpeg"
	OutputExtension   = ".mp3"
)

var transitions = map[Status][]Status{
	JobStatusPending:    {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusProcessing, JobStatusDone, JobStatusFailed},
}

// Valid reports whether s is one of the four known states
func (s Status) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusDone, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition is defined out of s
func (s Status) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// CanTransition reports whether the state machine allows s -> next.
// PROCESSING -> PROCESSING is the re-entry taken by a retried delivery.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

func (c ErrorCode) String() string {
	return string(c)
}
