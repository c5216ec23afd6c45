package httpx

import "golang.org/x/crypto/acme/autocert"

// newCertManager issues Let's Encrypt certificates on demand and keeps
// them in cacheDir. An empty domain accepts any host name.
func newCertManager(domain, cacheDir string) *autocert.Manager {
	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache(cacheDir),
	}
	if domain != "" {
		m.HostPolicy = autocert.HostWhitelist(domain)
	}
	return m
}
