/*
Package security provides at-rest encryption for secret material a
Formation node must not persist in plaintext: ACME-issued
TLSCertificate.KeyPEM bytes in pkg/storage's bbolt file, AES-256-GCM via
SecretsManager.

# Encryption key

All at-rest encryption is rooted in a 32-byte key, either supplied
directly or derived from the formnet's root CIDR ID via
DeriveKeyFromClusterID so every node in the fabric arrives at the same
key without an out-of-band exchange step.

	key := security.DeriveKeyFromClusterID(rootCIDR.ID)
	sm, err := security.NewSecretsManager(key)
	ciphertext, err := sm.EncryptSecret(tlsCert.KeyPEM)

pkg/proxy's ACMEClient holds an optional *SecretsManager and
encrypts/decrypts TLSCertificate.KeyPEM around every storage.Store
read/write, so a node restarted against a copied bbolt file can't have
its private keys lifted from disk.
*/
package security
