package downstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// Signer signs downstream requests with AWS SigV4, for generation services
// fronted by API Gateway, Lambda URLs or Bedrock-style endpoints.
type Signer struct {
	credentials aws.CredentialsProvider
	signer      *v4.Signer
	region      string
	service     string
	now         func() time.Time
}

// NewSigner resolves credentials from the default AWS chain (env, shared
// config, IMDS) for region and service.
func NewSigner(ctx context.Context, region, service string) (*Signer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSignerWithCredentials(cfg.Credentials, region, service), nil
}

// NewSignerWithCredentials builds a signer from an explicit provider.
func NewSignerWithCredentials(creds aws.CredentialsProvider, region, service string) *Signer {
	return &Signer{
		credentials: creds,
		signer:      v4.NewSigner(),
		region:      region,
		service:     service,
		now:         time.Now,
	}
}

// IsConfigured reports whether the signer has a credentials source.
func (s *Signer) IsConfigured() bool {
	return s != nil && s.credentials != nil
}

// SignRequest adds SigV4 headers to req for body.
func (s *Signer) SignRequest(ctx context.Context, req *http.Request, body []byte) error {
	if !s.IsConfigured() {
		return fmt.Errorf("signer has no credentials")
	}
	creds, err := s.credentials.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve aws credentials: %w", err)
	}
	sum := sha256.Sum256(body)
	return s.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), s.service, s.region, s.now())
}
