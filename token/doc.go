// Package token issues and verifies the HS256-signed access and refresh
// tokens used by the authentication core, with strict issuer, audience, and
// kind validation suitable for low-latency authentication paths.
package token
