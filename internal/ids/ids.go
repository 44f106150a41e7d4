package ids

import "github.com/segmentio/ksuid"

// New returns a time-sortable unique identifier used for session rows and object keys.
func New() string {
	return ksuid.New().String()
}
