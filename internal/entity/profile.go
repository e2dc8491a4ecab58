package entity

import "time"

// UserAccount is a submitter as known to one sink. ID is sink-local
// (a row id, a sheet row, or the identity itself for stateless sinks).
type UserAccount struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	CreatedAt time.Time `json:"created_at"`
}
