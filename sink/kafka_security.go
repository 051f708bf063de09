package sink

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"hash"
	"os"

	"github.com/IBM/sarama"
	"github.com/aws/aws-msk-iam-sasl-signer-go/signer"
	"github.com/xdg-go/scram"
)

// Security protocols
const (
	ProtocolPlaintext     = "PLAINTEXT"
	ProtocolSSL           = "SSL"
	ProtocolSASLPlaintext = "SASL_PLAINTEXT"
	ProtocolSASLSSL       = "SASL_SSL"
)

// SASL mechanisms
const (
	MechanismPlain       = "PLAIN"
	MechanismSCRAMSHA256 = "SCRAM-SHA-256"
	MechanismSCRAMSHA512 = "SCRAM-SHA-512"
	MechanismAWSMSKIAM   = "AWS_MSK_IAM"
)

// KafkaSecurity configures broker authentication and transport encryption
type KafkaSecurity struct {
	Protocol  string // PLAINTEXT (default), SSL, SASL_PLAINTEXT or SASL_SSL
	Mechanism string // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512 or AWS_MSK_IAM
	Username  string
	Password  string
	AWSRegion string // for AWS_MSK_IAM

	CACertFile         string
	ClientCertFile     string
	ClientKeyFile      string
	InsecureSkipVerify bool
}

// apply configures SASL and TLS on sc
func (s KafkaSecurity) apply(sc *sarama.Config) error {
	switch s.Protocol {
	case "", ProtocolPlaintext:
		return nil
	case ProtocolSSL:
		return s.applyTLS(sc)
	case ProtocolSASLPlaintext:
		return s.applySASL(sc)
	case ProtocolSASLSSL:
		if err := s.applySASL(sc); err != nil {
			return err
		}
		return s.applyTLS(sc)
	default:
		return fmt.Errorf("unsupported security protocol: %s", s.Protocol)
	}
}

func (s KafkaSecurity) applySASL(sc *sarama.Config) error {
	sc.Net.SASL.Enable = true
	sc.Net.SASL.User = s.Username
	sc.Net.SASL.Password = s.Password

	switch s.Mechanism {
	case MechanismPlain:
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case MechanismSCRAMSHA256:
		sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{HashGeneratorFcn: sha256Generator}
		}
	case MechanismSCRAMSHA512:
		sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{HashGeneratorFcn: sha512Generator}
		}
	case MechanismAWSMSKIAM:
		if s.AWSRegion == "" {
			return fmt.Errorf("%s requires an AWS region", MechanismAWSMSKIAM)
		}
		sc.Net.SASL.Mechanism = sarama.SASLTypeOAuth
		sc.Net.SASL.TokenProvider = &mskTokenProvider{region: s.AWSRegion}
	default:
		return fmt.Errorf("unsupported SASL mechanism: %s", s.Mechanism)
	}
	return nil
}

func (s KafkaSecurity) applyTLS(sc *sarama.Config) error {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.InsecureSkipVerify,
	}

	if s.CACertFile != "" {
		caCert, err := os.ReadFile(s.CACertFile)
		if err != nil {
			return fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("failed to parse CA certificate %s", s.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}

	if s.ClientCertFile != "" && s.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.ClientCertFile, s.ClientKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	sc.Net.TLS.Enable = true
	sc.Net.TLS.Config = tlsConfig
	return nil
}

// scramClient adapts xdg-go/scram to sarama.SCRAMClient
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *scramClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *scramClient) Step(challenge string) (string, error) {
	return x.ClientConversation.Step(challenge)
}

func (x *scramClient) Done() bool {
	return x.ClientConversation.Done()
}

var (
	sha256Generator scram.HashGeneratorFcn = func() hash.Hash { return sha256.New() }
	sha512Generator scram.HashGeneratorFcn = func() hash.Hash { return sha512.New() }
)

// mskTokenProvider signs IAM auth tokens for Amazon MSK
type mskTokenProvider struct {
	region string
}

func (m *mskTokenProvider) Token() (*sarama.AccessToken, error) {
	token, _, err := signer.GenerateAuthToken(context.Background(), m.region)
	if err != nil {
		return nil, err
	}
	return &sarama.AccessToken{Token: token}, nil
}

var (
	_ sarama.SCRAMClient         = (*scramClient)(nil)
	_ sarama.AccessTokenProvider = (*mskTokenProvider)(nil)
)
