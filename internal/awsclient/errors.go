package awsclient

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// ErrExternalService marks failures reported by a remote service.
var ErrExternalService = errors.New("external service failure")

// Classify wraps err as ErrExternalService, keeping the service error code
// when there is one.
func Classify(op string, err error) error {
	if err == nil || errors.Is(err, ErrExternalService) {
		return err
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("%w: %s (%s): %w", ErrExternalService, op, ae.ErrorCode(), err)
	}
	return fmt.Errorf("%w: %s: %w", ErrExternalService, op, err)
}
