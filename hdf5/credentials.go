package hdf5

import "github.com/robert-malhotra/h5coro/internal/credential"

// Credentials is one set of object storage credentials.
type Credentials = credential.Bundle

// RefreshFunc produces fresh credentials for an identity whose bundle is
// missing or expired.
type RefreshFunc = credential.RefreshFunc

// InitCredentials resets the process-wide credential registry and installs
// refresh, which may be nil.
func InitCredentials(refresh RefreshFunc) {
	credential.Init(refresh)
}

// ShutdownCredentials drops every bundle and the refresh callback.
func ShutdownCredentials() {
	credential.Shutdown()
}

// ProvideCredentials stores c for identity. Files opened with that identity
// use it from their next request.
func ProvideCredentials(identity string, c Credentials) {
	credential.Default().Provide(identity, c)
}

// ProvideCredentialsISO is ProvideCredentials with an RFC 3339 expiration;
// empty means never.
func ProvideCredentialsISO(identity, accessKey, secretKey, sessionToken, expiration string) error {
	return credential.Default().ProvideISO(identity, accessKey, secretKey, sessionToken, expiration)
}
