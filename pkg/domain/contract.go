package domain

import (
	"context"
)

// Contract is the host control surface seen by clients. Status returns the
// serving status of one managed service, or of the host itself for "".
type Contract interface {
	Status(ctx context.Context, service string) (string, error)
}
