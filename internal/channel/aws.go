package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/smithy-go"
	"github.com/samknelson/sirius-dispatch/internal/domain"
)

// LoadAWSConfig resolves credentials from the default chain for region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return cfg, nil
}

// transientCodes are API error codes worth retrying. Other client faults are permanent.
var transientCodes = map[string]bool{
	"Throttling":               true,
	"ThrottlingException":      true,
	"ThrottledException":       true,
	"TooManyRequestsException": true,
	"RequestLimitExceeded":     true,
	"ServiceUnavailable":       true,
	"InternalError":            true,
	"InternalFailure":          true,
}

// awsSendError wraps an SDK error in a ChannelSendError, using the API error
// code and HTTP status to decide whether it is transient.
func awsSendError(medium domain.Medium, op string, err error) error {
	sendErr := &ChannelSendError{
		Medium:  medium,
		Message: op + " failed",
		Cause:   err,
	}

	if errors.Is(err, context.Canceled) {
		return sendErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		sendErr.Transient = true
		return sendErr
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		sendErr.StatusCode = respErr.HTTPStatusCode()
		sendErr.Transient = isTransientHTTPStatus(sendErr.StatusCode)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := strings.TrimSpace(apiErr.ErrorCode())
		sendErr.Transient = sendErr.Transient || transientCodes[code] || apiErr.ErrorFault() == smithy.FaultServer
		sendErr.Message = fmt.Sprintf("%s failed: %s", op, code)
	}

	return sendErr
}
