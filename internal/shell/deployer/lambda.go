package deployer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"

	"github.com/artpar/branchdeploy/internal/core/domain"
	"github.com/artpar/branchdeploy/internal/shell/packager"
)

// DirectUploadLimit is the largest zip Lambda accepts inline.
const DirectUploadLimit = 50 * 1024 * 1024

// FunctionAPI is the subset of the Lambda client the executor uses.
type FunctionAPI interface {
	UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	GetFunctionConfiguration(ctx context.Context, params *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
}

// ObjectAPI is the subset of the S3 client used to stage large artifacts.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// LambdaConfig configures the Lambda executor.
type LambdaConfig struct {
	// Timeout bounds one deployment, upload and wait included.
	// Default: 2 minutes.
	Timeout time.Duration

	// WaitForUpdate waits until the function reports a successful update.
	WaitForUpdate bool

	// WaitTimeout bounds the wait for the update to settle.
	// Default: 1 minute.
	WaitTimeout time.Duration

	// PollInterval is the delay between update status checks.
	// Default: 2 seconds.
	PollInterval time.Duration

	// DirectUploadLimit is the largest artifact sent inline.
	// Default: DirectUploadLimit.
	DirectUploadLimit int

	// StagingBucket receives artifacts above DirectUploadLimit. Without it
	// such artifacts are rejected.
	StagingBucket string
	StagingPrefix string
}

// DefaultLambdaConfig returns the default configuration.
func DefaultLambdaConfig() LambdaConfig {
	return LambdaConfig{
		Timeout:           2 * time.Minute,
		WaitForUpdate:     true,
		WaitTimeout:       time.Minute,
		PollInterval:      2 * time.Second,
		DirectUploadLimit: DirectUploadLimit,
	}
}

// LambdaExecutor deploys artifacts with UpdateFunctionCode.
type LambdaExecutor struct {
	functions FunctionAPI
	objects   ObjectAPI
	config    LambdaConfig
	logger    *slog.Logger
}

// NewLambdaExecutor creates a Lambda executor. objects may be nil when no
// staging bucket is configured.
func NewLambdaExecutor(functions FunctionAPI, objects ObjectAPI, config LambdaConfig, logger *slog.Logger) *LambdaExecutor {
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	if config.WaitTimeout == 0 {
		config.WaitTimeout = time.Minute
	}
	if config.PollInterval == 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.DirectUploadLimit == 0 {
		config.DirectUploadLimit = DirectUploadLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &LambdaExecutor{
		functions: functions,
		objects:   objects,
		config:    config,
		logger:    logger.With("component", "lambda_executor"),
	}
}

// Deploy uploads artifact as the new code of the function named target.
func (e *LambdaExecutor) Deploy(ctx context.Context, target string, artifact *packager.Artifact) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	logger := e.logger.With("target", target, "bytes", artifact.Size(), "sha256", artifact.SHA256)

	input := &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(target),
	}

	if artifact.Size() > e.config.DirectUploadLimit {
		if e.config.StagingBucket == "" || e.objects == nil {
			return domain.NewDeployError(target, domain.DeployErrorRejected, "",
				fmt.Sprintf("artifact is %d bytes, above the %d byte inline limit, and no staging bucket is configured", artifact.Size(), e.config.DirectUploadLimit), nil)
		}
		key := e.stagingKey(target, artifact)
		if _, err := e.objects.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(e.config.StagingBucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(artifact.Data),
			ContentType: aws.String(artifact.ContentType),
		}); err != nil {
			return e.mapError(ctx, target, "failed to stage artifact", err)
		}
		logger.Info("artifact staged", "bucket", e.config.StagingBucket, "key", key)
		input.S3Bucket = aws.String(e.config.StagingBucket)
		input.S3Key = aws.String(key)
	} else {
		input.ZipFile = artifact.Data
	}

	out, err := e.functions.UpdateFunctionCode(ctx, input)
	if err != nil {
		return e.mapError(ctx, target, "failed to update function code", err)
	}

	if got := aws.ToString(out.CodeSha256); got != "" && got != artifact.CodeSHA256 {
		logger.Warn("backend reported a different code hash", "code_sha256", got, "expected", artifact.CodeSHA256)
	}

	if e.config.WaitForUpdate {
		if err := e.waitUpdated(ctx, target); err != nil {
			return err
		}
	}

	logger.Info("function code updated", "last_update_status", string(out.LastUpdateStatus))
	return nil
}

// waitUpdated polls the function's LastUpdateStatus until it leaves
// InProgress. Failed is a rejection; running out of WaitTimeout is a timeout.
func (e *LambdaExecutor) waitUpdated(ctx context.Context, target string) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.config.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		out, err := e.functions.GetFunctionConfiguration(waitCtx, &lambda.GetFunctionConfigurationInput{
			FunctionName: aws.String(target),
		})
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return e.waitTimeout(target, err)
			}
			return e.mapError(ctx, target, "failed waiting for function update", err)
		}

		switch out.LastUpdateStatus {
		case lambdatypes.LastUpdateStatusInProgress:
			e.logger.Debug("function update in progress", "target", target)
		case lambdatypes.LastUpdateStatusFailed:
			code := string(out.LastUpdateStatusReasonCode)
			if code == "" {
				code = "UpdateFailed"
			}
			reason := aws.ToString(out.LastUpdateStatusReason)
			if reason == "" {
				reason = "function reported a failed update"
			}
			return domain.NewDeployError(target, domain.DeployErrorRejected, code, reason, nil)
		default:
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return e.mapError(ctx, target, "failed waiting for function update", ctx.Err())
			}
			return e.waitTimeout(target, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (e *LambdaExecutor) waitTimeout(target string, err error) error {
	return domain.NewDeployError(target, domain.DeployErrorTimeout, "",
		fmt.Sprintf("update did not settle within %s", e.config.WaitTimeout), err)
}

func (e *LambdaExecutor) stagingKey(target string, artifact *packager.Artifact) string {
	return fmt.Sprintf("%s%s/%s.zip", e.config.StagingPrefix, target, artifact.SHA256)
}

// mapError classifies err as timeout, backend rejection, or other backend
// failure.
func (e *LambdaExecutor) mapError(ctx context.Context, target, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewDeployError(target, domain.DeployErrorTimeout, "",
			fmt.Sprintf("%s: timed out after %s", message, e.config.Timeout), err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return domain.NewDeployError(target, domain.DeployErrorRejected, apiErr.ErrorCode(),
			fmt.Sprintf("%s: %s", message, apiErr.ErrorMessage()), err)
	}

	return domain.NewDeployError(target, domain.DeployErrorBackend, "", fmt.Sprintf("%s: %v", message, err), err)
}
