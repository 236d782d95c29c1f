package deployer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/branchdeploy/internal/core/domain"
	"github.com/artpar/branchdeploy/internal/shell/packager"
)

// =============================================================================
// Mocks
// =============================================================================

type mockFunctions struct {
	mu        sync.Mutex
	updates   []*lambda.UpdateFunctionCodeInput
	updateErr error
	block     bool
	codeSHA   string
	status    lambdatypes.LastUpdateStatus
	pending   int // polls reporting InProgress before status; -1 never settles
	reason    string
	code      lambdatypes.LastUpdateStatusReasonCode
	getErr    error
	gets      int
}

func (m *mockFunctions) UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error) {
	m.mu.Lock()
	m.updates = append(m.updates, params)
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return nil, &smithy.OperationError{ServiceID: "Lambda", OperationName: "UpdateFunctionCode", Err: &smithy.CanceledError{Err: ctx.Err()}}
	}
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &lambda.UpdateFunctionCodeOutput{
		FunctionName:     params.FunctionName,
		CodeSha256:       aws.String(m.codeSHA),
		LastUpdateStatus: lambdatypes.LastUpdateStatusInProgress,
	}, nil
}

func (m *mockFunctions) GetFunctionConfiguration(ctx context.Context, params *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error) {
	m.mu.Lock()
	m.gets++
	gets := m.gets
	m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	status := m.status
	if status == "" {
		status = lambdatypes.LastUpdateStatusSuccessful
	}
	if m.pending < 0 || gets <= m.pending {
		status = lambdatypes.LastUpdateStatusInProgress
	}
	out := &lambda.GetFunctionConfigurationOutput{
		FunctionName:     params.FunctionName,
		LastUpdateStatus: status,
	}
	if status == lambdatypes.LastUpdateStatusFailed {
		out.LastUpdateStatusReason = aws.String(m.reason)
		out.LastUpdateStatusReasonCode = m.code
	}
	return out, nil
}

type mockObjects struct {
	puts []*s3.PutObjectInput
	body []byte
	err  error
}

func (m *mockObjects) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.puts = append(m.puts, params)
	if m.err != nil {
		return nil, m.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.body = body
	return &s3.PutObjectOutput{}, nil
}

func testArtifact(size int) *packager.Artifact {
	return &packager.Artifact{
		Data:        make([]byte, size),
		ContentType: packager.ContentTypeZip,
		SHA256:      "abc123",
		CodeSHA256:  "q8Ej",
		Files:       []string{"lambda_function.py"},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Configuration Tests
// =============================================================================

func TestDefaultLambdaConfig(t *testing.T) {
	config := DefaultLambdaConfig()

	assert.Equal(t, 2*time.Minute, config.Timeout)
	assert.True(t, config.WaitForUpdate)
	assert.Equal(t, time.Minute, config.WaitTimeout)
	assert.Equal(t, 2*time.Second, config.PollInterval)
	assert.Equal(t, DirectUploadLimit, config.DirectUploadLimit)
}

func TestNewLambdaExecutor_FillsDefaults(t *testing.T) {
	e := NewLambdaExecutor(&mockFunctions{}, nil, LambdaConfig{}, nil)

	assert.Equal(t, 2*time.Minute, e.config.Timeout)
	assert.Equal(t, time.Minute, e.config.WaitTimeout)
	assert.Equal(t, 2*time.Second, e.config.PollInterval)
	assert.Equal(t, DirectUploadLimit, e.config.DirectUploadLimit)
}

// =============================================================================
// Deploy Tests
// =============================================================================

func TestDeploy_InlineZip(t *testing.T) {
	functions := &mockFunctions{codeSHA: "q8Ej"}
	e := NewLambdaExecutor(functions, nil, LambdaConfig{Timeout: time.Second}, quietLogger())
	artifact := testArtifact(16)

	err := e.Deploy(context.Background(), "slackwebhook", artifact)
	require.NoError(t, err)

	require.Len(t, functions.updates, 1)
	in := functions.updates[0]
	assert.Equal(t, "slackwebhook", aws.ToString(in.FunctionName))
	assert.Equal(t, artifact.Data, in.ZipFile)
	assert.Nil(t, in.S3Bucket)
	assert.False(t, in.Publish)
	assert.Equal(t, 0, functions.gets)
}

func TestDeploy_WaitsForSuccessfulUpdate(t *testing.T) {
	functions := &mockFunctions{status: lambdatypes.LastUpdateStatusSuccessful}
	e := NewLambdaExecutor(functions, nil, LambdaConfig{Timeout: 5 * time.Second, WaitForUpdate: true, WaitTimeout: 5 * time.Second}, quietLogger())

	err := e.Deploy(context.Background(), "fitcloudSuperVisor", testArtifact(16))
	require.NoError(t, err)
	assert.Equal(t, 1, functions.gets)
}

func TestDeploy_FailedUpdateIsRejected(t *testing.T) {
	functions := &mockFunctions{status: lambdatypes.LastUpdateStatusFailed}
	e := NewLambdaExecutor(functions, nil, LambdaConfig{Timeout: 5 * time.Second, WaitForUpdate: true, WaitTimeout: 5 * time.Second}, quietLogger())

	err := e.Deploy(context.Background(), "fitcloudSuperVisor", testArtifact(16))

	var deployErr *domain.DeployError
	require.ErrorAs(t, err, &deployErr)
	assert.Equal(t, domain.DeployErrorRejected, deployErr.Kind)
	assert.Equal(t, "fitcloudSuperVisor", deployErr.Target)
	assert.Equal(t, "UpdateFailed", deployErr.Code)
}

func TestDeploy_FailedUpdateCarriesBackendReason(t *testing.T) {
	functions := &mockFunctions{
		status:  lambdatypes.LastUpdateStatusFailed,
		pending: 1,
		reason:  "Unzipped size must be smaller than 262144000 bytes",
		code:    lambdatypes.LastUpdateStatusReasonCodeInvalidZipFileException,
	}
	e := NewLambdaExecutor(functions, nil, LambdaConfig{Timeout: 5 * time.Second, WaitForUpdate: true, WaitTimeout: 5 * time.Second, PollInterval: time.Millisecond}, quietLogger())

	err := e.Deploy(context.Background(), "slackwebhook", testArtifact(16))

	var deployErr *domain.DeployError
	require.ErrorAs(t, err, &deployErr)
	assert.ErrorIs(t, err, domain.ErrDeployRejected)
	assert.Equal(t, "InvalidZipFileException", deployErr.Code)
	assert.Contains(t, deployErr.Message, "Unzipped size")
	assert.Equal(t, 2, functions.gets)
}

func TestDeploy_PollsUntilUpdateSettles(t *testing.T) {
	functions := &mockFunctions{status: lambdatypes.LastUpdateStatusSuccessful, pending: 2}
	e := NewLambdaExecutor(functions, nil, LambdaConfig{Timeout: 5 * time.Second, WaitForUpdate: true, WaitTimeout: 5 * time.Second, PollInterval: time.Millisecond}, quietLogger())

	err := e.Deploy(context.Background(), "fitcloudagent1", testArtifact(16))
	require.NoError(t, err)
	assert.Equal(t, 3, functions.gets)
}

func TestDeploy_UpdateNeverSettlesIsTimeout(t *testing.T) {
	functions := &mockFunctions{pending: -1}
	e := NewLambdaExecutor(functions, nil, LambdaConfig{Timeout: 5 * time.Second, WaitForUpdate: true, WaitTimeout: 50 * time.Millisecond, PollInterval: 5 * time.Millisecond}, quietLogger())

	start := time.Now()
	err := e.Deploy(context.Background(), "fitcloudagent2", testArtifact(16))

	var deployErr *domain.DeployError
	require.ErrorAs(t, err, &deployErr)
	assert.ErrorIs(t, err, domain.ErrDeployTimeout)
	assert.Contains(t, deployErr.Message, "did not settle within 50ms")
	assert.GreaterOrEqual(t, functions.gets, 2)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDeploy_StatusCheckErrorIsMapped(t *testing.T) {
	functions := &mockFunctions{
		getErr: &smithy.OperationError{
			ServiceID:     "Lambda",
			OperationName: "GetFunctionConfiguration",
			Err:           &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not authorized"},
		},
	}
	e := NewLambdaExecutor(functions, nil, LambdaConfig{Timeout: 5 * time.Second, WaitForUpdate: true, WaitTimeout: 5 * time.Second}, quietLogger())

	err := e.Deploy(context.Background(), "fn", testArtifact(16))

	var deployErr *domain.DeployError
	require.ErrorAs(t, err, &deployErr)
	assert.Equal(t, domain.DeployErrorRejected, deployErr.Kind)
	assert.Equal(t, "AccessDeniedException", deployErr.Code)
}

func TestDeploy_BackendRejection(t *testing.T) {
	functions := &mockFunctions{
		updateErr: &smithy.OperationError{
			ServiceID:     "Lambda",
			OperationName: "UpdateFunctionCode",
			Err:           &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "Function not found"},
		},
	}
	e := NewLambdaExecutor(functions, nil, LambdaConfig{}, quietLogger())

	err := e.Deploy(context.Background(), "missing-fn", testArtifact(16))

	var deployErr *domain.DeployError
	require.ErrorAs(t, err, &deployErr)
	assert.ErrorIs(t, err, domain.ErrDeployRejected)
	assert.Equal(t, "ResourceNotFoundException", deployErr.Code)
	assert.Contains(t, deployErr.Error(), "Function not found")
	assert.Len(t, functions.updates, 1, "no retry")
}

func TestDeploy_OtherBackendError(t *testing.T) {
	functions := &mockFunctions{updateErr: errors.New("connection reset")}
	e := NewLambdaExecutor(functions, nil, LambdaConfig{}, quietLogger())

	err := e.Deploy(context.Background(), "fn", testArtifact(16))

	var deployErr *domain.DeployError
	require.ErrorAs(t, err, &deployErr)
	assert.Equal(t, domain.DeployErrorBackend, deployErr.Kind)
	assert.Len(t, functions.updates, 1)
}

func TestDeploy_TimeoutMapsToDeployErrorTimeout(t *testing.T) {
	functions := &mockFunctions{block: true}
	e := NewLambdaExecutor(functions, nil, LambdaConfig{Timeout: 20 * time.Millisecond}, quietLogger())

	start := time.Now()
	err := e.Deploy(context.Background(), "slow-fn", testArtifact(16))

	assert.ErrorIs(t, err, domain.ErrDeployTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDeploy_LargeArtifactWithoutBucketIsRejected(t *testing.T) {
	functions := &mockFunctions{}
	e := NewLambdaExecutor(functions, nil, LambdaConfig{DirectUploadLimit: 8}, quietLogger())

	err := e.Deploy(context.Background(), "fn", testArtifact(16))

	assert.ErrorIs(t, err, domain.ErrDeployRejected)
	assert.Empty(t, functions.updates)
}

func TestDeploy_LargeArtifactIsStaged(t *testing.T) {
	functions := &mockFunctions{}
	objects := &mockObjects{}
	e := NewLambdaExecutor(functions, objects, LambdaConfig{
		DirectUploadLimit: 8,
		StagingBucket:     "deploy-artifacts",
		StagingPrefix:     "lambda/",
	}, quietLogger())
	artifact := testArtifact(16)

	err := e.Deploy(context.Background(), "fitcloudagent1", artifact)
	require.NoError(t, err)

	require.Len(t, objects.puts, 1)
	assert.Equal(t, "deploy-artifacts", aws.ToString(objects.puts[0].Bucket))
	assert.Equal(t, "lambda/fitcloudagent1/abc123.zip", aws.ToString(objects.puts[0].Key))
	assert.Equal(t, artifact.Data, objects.body)

	require.Len(t, functions.updates, 1)
	assert.Nil(t, functions.updates[0].ZipFile)
	assert.Equal(t, "deploy-artifacts", aws.ToString(functions.updates[0].S3Bucket))
	assert.Equal(t, "lambda/fitcloudagent1/abc123.zip", aws.ToString(functions.updates[0].S3Key))
}

func TestDeploy_StagingFailureStopsDeploy(t *testing.T) {
	functions := &mockFunctions{}
	objects := &mockObjects{err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}}
	e := NewLambdaExecutor(functions, objects, LambdaConfig{DirectUploadLimit: 8, StagingBucket: "b"}, quietLogger())

	err := e.Deploy(context.Background(), "fn", testArtifact(16))

	var deployErr *domain.DeployError
	require.ErrorAs(t, err, &deployErr)
	assert.Equal(t, "AccessDenied", deployErr.Code)
	assert.Empty(t, functions.updates)
}

func TestDryRunExecutor_NeverFails(t *testing.T) {
	e := NewDryRunExecutor(quietLogger())
	assert.NoError(t, e.Deploy(context.Background(), "fn", testArtifact(4)))
}
