/*
Package proxy is a domain-routed TCP splicer: plain HTTP on one
listener, TLS on another. Neither listener terminates TLS itself; both
peek at the first bytes of a connection (an HTTP Host header or a raw
ClientHello's SNI extension), look the domain up in a Router, and copy
bytes in both directions to the selected backend.

	router := proxy.NewRouter()
	router.AddRoute("api.example.formation", proxy.Backend{
		Domain:    "api.example.formation",
		Addresses: []string{"10.0.3.4:8080"},
	})
	p := proxy.New(proxy.DefaultConfig(), router)
	err := p.ListenAndServe(ctx)

ACMEClient issues and renews Let's Encrypt certificates for domains
this proxy is told to terminate TLS for elsewhere (a terminating
backend, or a future TLS-terminating listener); LoadTLSConfig turns
whatever is in storage into a *tls.Config. Both route TLSCertificate's
private key through an optional pkg/security.SecretsManager so it never
touches storage.Store in plaintext.
*/
package proxy
