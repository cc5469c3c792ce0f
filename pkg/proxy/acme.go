package proxy

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/security"
	"github.com/cuemby/formation/pkg/storage"
	"github.com/cuemby/formation/pkg/types"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// ACMEUser satisfies lego's registration.User interface.
type ACMEUser struct {
	Email        string
	Registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *ACMEUser) GetEmail() string                        { return u.Email }
func (u *ACMEUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *ACMEUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// HTTP01Provider answers ACME HTTP-01 challenges by holding the
// key-authorization in memory for a plain HTTP handler to serve at
// /.well-known/acme-challenge/<token>.
type HTTP01Provider struct {
	mu         sync.RWMutex
	challenges map[string]map[string]string // domain -> token -> keyAuth
}

// NewHTTP01Provider creates an empty challenge provider.
func NewHTTP01Provider() *HTTP01Provider {
	return &HTTP01Provider{challenges: make(map[string]map[string]string)}
}

// Present stores a challenge's key authorization for CleanUp to later
// remove, implementing lego's challenge.Provider.
func (p *HTTP01Provider) Present(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.challenges[domain] == nil {
		p.challenges[domain] = make(map[string]string)
	}
	p.challenges[domain][token] = keyAuth
	return nil
}

// CleanUp removes a challenge once the ACME server has validated it.
func (p *HTTP01Provider) CleanUp(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if byToken, ok := p.challenges[domain]; ok {
		delete(byToken, token)
		if len(byToken) == 0 {
			delete(p.challenges, domain)
		}
	}
	return nil
}

// GetKeyAuth serves the HTTP-01 challenge endpoint.
func (p *HTTP01Provider) GetKeyAuth(domain, token string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keyAuth, ok := p.challenges[domain][token]
	return keyAuth, ok
}

// ACMEClient issues and renews Let's Encrypt certificates for domains
// this proxy terminates TLS for, persisting them through storage.Store
// so a restarted node doesn't have to re-issue. When secrets is
// non-nil, TLSCertificate.KeyPEM is encrypted with it on every write to
// storage.Store and decrypted on every read, so a copied bbolt file
// doesn't hand an attacker a usable private key.
type ACMEClient struct {
	mu                sync.RWMutex
	store             storage.Store
	client            *lego.Client
	user              *ACMEUser
	challengeProvider *HTTP01Provider
	caDirURL          string
	secrets           *security.SecretsManager
}

// LetsEncryptStaging and LetsEncryptProduction are the two lego CA
// directory URLs this client can register against.
const (
	LetsEncryptStaging    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	LetsEncryptProduction = "https://acme-v02.api.letsencrypt.org/directory"
)

// NewACMEClient registers a new ACME account at caDirURL under email
// and wires up an HTTP-01 challenge provider. secrets may be nil, in
// which case TLSCertificate.KeyPEM is persisted to storage.Store
// unencrypted.
func NewACMEClient(store storage.Store, email, caDirURL string, secrets *security.SecretsManager) (*ACMEClient, error) {
	if caDirURL == "" {
		caDirURL = LetsEncryptStaging
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ACME account key: %w", err)
	}

	user := &ACMEUser{Email: email, key: privateKey}
	cfg := lego.NewConfig(user)
	cfg.CADirURL = caDirURL
	cfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ACME client: %w", err)
	}

	challengeProvider := NewHTTP01Provider()
	if err := client.Challenge.SetHTTP01Provider(challengeProvider); err != nil {
		return nil, fmt.Errorf("failed to set HTTP-01 provider: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("failed to register ACME account: %w", err)
	}
	user.Registration = reg

	log.Info(fmt.Sprintf("acme: registered account for %s against %s", email, caDirURL))

	return &ACMEClient{
		store:             store,
		client:            client,
		user:              user,
		challengeProvider: challengeProvider,
		caDirURL:          caDirURL,
		secrets:           secrets,
	}, nil
}

// sealKeyPEM encrypts keyPEM for storage.Store if a.secrets is set,
// returning keyPEM unchanged otherwise.
func (a *ACMEClient) sealKeyPEM(keyPEM []byte) ([]byte, error) {
	if a.secrets == nil {
		return keyPEM, nil
	}
	return a.secrets.EncryptSecret(keyPEM)
}

// openKeyPEM decrypts keyPEM read from storage.Store if a.secrets is
// set, returning keyPEM unchanged otherwise.
func (a *ACMEClient) openKeyPEM(keyPEM []byte) ([]byte, error) {
	if a.secrets == nil {
		return keyPEM, nil
	}
	return a.secrets.DecryptSecret(keyPEM)
}

// sealedCopy returns a shallow copy of cert with KeyPEM encrypted for
// storage.Store, leaving cert itself untouched so callers can keep
// using its plaintext key for an in-memory tls.Config.
func (a *ACMEClient) sealedCopy(cert *types.TLSCertificate) (*types.TLSCertificate, error) {
	sealedKey, err := a.sealKeyPEM(cert.KeyPEM)
	if err != nil {
		return nil, err
	}
	copied := *cert
	copied.KeyPEM = sealedKey
	return &copied, nil
}

// openedCopy returns a shallow copy of cert with KeyPEM decrypted, the
// counterpart to sealedCopy for certificates just read back from
// storage.Store.
func (a *ACMEClient) openedCopy(cert *types.TLSCertificate) (*types.TLSCertificate, error) {
	openKey, err := a.openKeyPEM(cert.KeyPEM)
	if err != nil {
		return nil, err
	}
	copied := *cert
	copied.KeyPEM = openKey
	return &copied, nil
}

// Challenges exposes the HTTP-01 provider so a plain HTTP handler can
// serve /.well-known/acme-challenge/ without the proxy needing to know
// about lego.
func (a *ACMEClient) Challenges() *HTTP01Provider { return a.challengeProvider }

// ObtainCertificate requests a new certificate covering domains and
// persists it to storage.Store (KeyPEM sealed first, mirroring
// CheckAndRenewCertificates) before returning the plaintext copy.
func (a *ACMEClient) ObtainCertificate(domains []string) (*types.TLSCertificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.client.Certificate.Obtain(certificate.ObtainRequest{Domains: domains, Bundle: true})
	if err != nil {
		return nil, fmt.Errorf("failed to obtain certificate for %v: %w", domains, err)
	}

	cert, err := parseLeafCertificate(res.Certificate)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tlsCert := &types.TLSCertificate{
		ID:        "acme-" + domains[0] + "-" + now.Format("20060102150405"),
		Name:      domains[0],
		Hosts:     domains,
		CertPEM:   res.Certificate,
		KeyPEM:    res.PrivateKey,
		Issuer:    cert.Issuer.CommonName,
		AutoRenew: true,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		CreatedAt: now,
		UpdatedAt: now,
	}

	sealed, err := a.sealedCopy(tlsCert)
	if err != nil {
		return nil, fmt.Errorf("failed to seal certificate key for storage: %w", err)
	}
	if err := a.store.CreateTLSCertificate(sealed); err != nil {
		return nil, fmt.Errorf("failed to persist certificate for %v: %w", domains, err)
	}
	return tlsCert, nil
}

// RenewCertificate renews cert in place and returns the updated copy.
func (a *ACMEClient) RenewCertificate(cert *types.TLSCertificate) (*types.TLSCertificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	renewed, err := a.client.Certificate.Renew(certificate.Resource{
		Certificate: cert.CertPEM,
		PrivateKey:  cert.KeyPEM,
	}, true, false, "")
	if err != nil {
		return nil, fmt.Errorf("failed to renew certificate %s: %w", cert.Name, err)
	}

	parsed, err := parseLeafCertificate(renewed.Certificate)
	if err != nil {
		return nil, err
	}

	cert.CertPEM = renewed.Certificate
	cert.KeyPEM = renewed.PrivateKey
	cert.Issuer = parsed.Issuer.CommonName
	cert.NotBefore = parsed.NotBefore
	cert.NotAfter = parsed.NotAfter
	cert.UpdatedAt = time.Now()
	return cert, nil
}

// renewalThreshold is how far ahead of expiry CheckAndRenewCertificates
// starts trying to renew.
const renewalThreshold = 30 * 24 * time.Hour

// CheckAndRenewCertificates renews every stored certificate with
// AutoRenew set whose expiry is within renewalThreshold, reloading
// router TLS configuration afterward is the caller's responsibility.
func (a *ACMEClient) CheckAndRenewCertificates() ([]*types.TLSCertificate, error) {
	certs, err := a.store.ListTLSCertificates()
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}

	now := time.Now()
	var renewed []*types.TLSCertificate
	for _, cert := range certs {
		if !cert.AutoRenew || cert.NotAfter.Sub(now) > renewalThreshold {
			continue
		}

		opened, err := a.openedCopy(cert)
		if err != nil {
			log.Error(fmt.Sprintf("acme: failed to decrypt stored key for %s: %v", cert.Name, err))
			continue
		}
		updated, err := a.RenewCertificate(opened)
		if err != nil {
			log.Error(fmt.Sprintf("acme: failed to renew %s: %v", cert.Name, err))
			continue
		}
		sealed, err := a.sealedCopy(updated)
		if err != nil {
			log.Error(fmt.Sprintf("acme: failed to seal renewed certificate %s: %v", cert.Name, err))
			continue
		}
		if err := a.store.UpdateTLSCertificate(sealed); err != nil {
			log.Error(fmt.Sprintf("acme: failed to persist renewed certificate %s: %v", cert.Name, err))
			continue
		}
		renewed = append(renewed, updated)
	}
	return renewed, nil
}

// StartRenewalJob runs CheckAndRenewCertificates once a day until stop
// is closed.
func (a *ACMEClient) StartRenewalJob(stop <-chan struct{}) {
	ticker := time.NewTicker(24 * time.Hour)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := a.CheckAndRenewCertificates(); err != nil {
					log.Error(fmt.Sprintf("acme: renewal job error: %v", err))
				}
			case <-stop:
				return
			}
		}
	}()
}

func parseLeafCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// LoadTLSConfig builds a *tls.Config from every certificate currently
// in storage, for the TLS listener to present. secrets must decrypt
// whatever ACMEClient encrypted KeyPEM with when it was persisted; pass
// nil if certificates were stored unencrypted.
func LoadTLSConfig(store storage.Store, secrets *security.SecretsManager) (*tls.Config, error) {
	certs, err := store.ListTLSCertificates()
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	for _, c := range certs {
		keyPEM := c.KeyPEM
		if secrets != nil {
			keyPEM, err = secrets.DecryptSecret(c.KeyPEM)
			if err != nil {
				log.Warn(fmt.Sprintf("acme: failed to decrypt key for certificate %s: %v", c.Name, err))
				continue
			}
		}
		pair, err := tls.X509KeyPair(c.CertPEM, keyPEM)
		if err != nil {
			log.Warn(fmt.Sprintf("acme: failed to load certificate %s: %v", c.Name, err))
			continue
		}
		cfg.Certificates = append(cfg.Certificates, pair)
	}
	return cfg, nil
}
