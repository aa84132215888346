package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"barflow/logger"
)

// ErrSecretNotFound is returned when the named secret does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// SecretAccessError reports a secret that exists but could not be read or
// decoded.
type SecretAccessError struct {
	Name string
	Err  error
}

func (e *SecretAccessError) Error() string {
	return fmt.Sprintf("access secret %q: %v", e.Name, e.Err)
}

func (e *SecretAccessError) Unwrap() error { return e.Err }

// Provider resolves a named secret to its key/value document.
type Provider interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

// SecretsManagerAPI is the part of the Secrets Manager client in use.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSProvider reads JSON SecretString values from AWS Secrets Manager.
type AWSProvider struct {
	client SecretsManagerAPI
	log    *logger.Log
}

func NewAWSProvider(awsCfg aws.Config, log *logger.Log) *AWSProvider {
	return NewAWSProviderWithClient(secretsmanager.NewFromConfig(awsCfg), log)
}

func NewAWSProviderWithClient(client SecretsManagerAPI, log *logger.Log) *AWSProvider {
	return &AWSProvider{client: client, log: log}
}

func (p *AWSProvider) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return nil, &SecretAccessError{Name: name, Err: err}
	}
	if out.SecretString == nil {
		return nil, &SecretAccessError{Name: name, Err: errors.New("secret does not contain a SecretString")}
	}

	values, err := decode([]byte(*out.SecretString))
	if err != nil {
		return nil, &SecretAccessError{Name: name, Err: err}
	}
	p.log.WithComponent("secrets").WithFields(logger.Fields{"secret": name}).Info("retrieved secret from secrets manager")
	return values, nil
}

// FileProvider reads one local JSON document regardless of the secret
// name. It is the local-run counterpart of AWSProvider.
type FileProvider struct {
	path string
	log  *logger.Log
}

func NewFileProvider(path string, log *logger.Log) *FileProvider {
	return &FileProvider{path: path, log: log}
}

func (p *FileProvider) GetSecret(_ context.Context, name string) (map[string]string, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, p.path)
	}
	if err != nil {
		return nil, &SecretAccessError{Name: name, Err: err}
	}
	values, err := decode(data)
	if err != nil {
		return nil, &SecretAccessError{Name: name, Err: fmt.Errorf("%s: %w", p.path, err)}
	}
	p.log.WithComponent("secrets").WithFields(logger.Fields{"path": p.path}).Info("loaded secrets from file")
	return values, nil
}

// decode accepts a flat JSON object; non-string values keep their JSON text.
func decode(data []byte) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode secret JSON: %w", err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			values[k] = s
			continue
		}
		values[k] = string(v)
	}
	return values, nil
}
