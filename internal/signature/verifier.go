// Package signature verifies detached OpenPGP signatures on downloads and
// RSA signatures on APK repository indexes.
package signature

import "io"

// Verifier checks a detached signature over signed content
type Verifier interface {
	// VerifyDetached checks sig, armored or binary, against signed
	VerifyDetached(signed io.Reader, sig []byte) error
}

// IndexVerifier checks the signature segment of a signed APK index
type IndexVerifier interface {
	// VerifyIndex checks the leading signature segment of data against the
	// control segment that follows it
	VerifyIndex(data []byte) error
}
