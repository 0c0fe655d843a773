// Package password implements credential hashing and verification with
// bcrypt.
//
// bcrypt output embeds its own salt and cost, so stored hashes produced under
// an older cost keep verifying after the configured cost changes.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (blank
// rejection at the API boundary, reuse checks) is enforced by the Service.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive
//     hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password
