package constants

// SubmissionStatus is the terminal outcome of one receipt submission.
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "PENDING"   // buffered, waiting for quiescence
	SubmissionQueued    SubmissionStatus = "QUEUED"    // flushed, waiting for a worker
	SubmissionPersisted SubmissionStatus = "PERSISTED" // every sink accepted the items
	SubmissionPartial   SubmissionStatus = "PARTIAL"   // at least one sink accepted the items
	SubmissionFailed    SubmissionStatus = "FAILED"    // terminal failure
)

// SinkStatus is the outcome of one sink for one submission.
type SinkStatus string

const (
	SinkOK     SinkStatus = "OK"
	SinkFailed SinkStatus = "FAILED"
)

// FlushReason records why the album buffer released a submission.
type FlushReason string

const (
	FlushQuiescence FlushReason = "quiescence"
	FlushMaxAge     FlushReason = "max_age"
	FlushMaxPhotos  FlushReason = "max_photos"
)
