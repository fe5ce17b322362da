package domain

import "time"

// GenerationJob is a persisted retry attempt for a single blueprint. At most
// one live job exists per blueprint.
type GenerationJob struct {
	ID          string
	BlueprintID string
	RequestData RequestData
	RetryCount  int
	NextRetryAt time.Time
	ErrorType   *string
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// LeaseExpiresAt is set on jobs handed out by FetchDueJobs and identifies
	// that claim. It is zero for jobs read any other way.
	LeaseExpiresAt time.Time
}

// NewJob carries the fields required to insert a job row.
type NewJob struct {
	BlueprintID string
	RequestData RequestData
	RetryCount  int
	NextRetryAt time.Time
	ErrorType   *string
	LastError   *string
}

// JobUpdate lists the mutable job columns. Nil fields are left untouched.
type JobUpdate struct {
	RetryCount  *int
	NextRetryAt *time.Time
	LastError   *string
	ErrorType   *string
}
