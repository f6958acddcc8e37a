package queue

import (
	"errors"

	"cardmint/internal/services"
)

// ErrDuplicate marks a create that collided with an existing id or capture uid.
var ErrDuplicate = errors.New("duplicate job")

const errorStage = "queue"

func notFound(operation, id string) error {
	return services.Wrap(services.ErrNotFound, errorStage, operation, describeJob(id), nil)
}

func noRowsAffected(operation, id string) error {
	return services.Wrap(services.ErrWriteVerification, errorStage, operation, "no rows affected for "+describeJob(id), services.ErrNotFound)
}

func invalidTransition(operation, id, reason string) error {
	return services.Wrap(services.ErrInvalidTransition, errorStage, operation, describeJob(id)+": "+reason, nil)
}

func validation(operation, message string) error {
	return services.Wrap(services.ErrValidation, errorStage, operation, message, nil)
}
