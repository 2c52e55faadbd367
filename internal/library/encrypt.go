package library

import "io"

// Encryptor transforms blob bytes on their way in and out of durable storage.
// Implementations must be symmetric: Decrypt(Encrypt(x)) == x.
type Encryptor interface {
	Encrypt(r io.Reader, w io.Writer) error
	Decrypt(r io.Reader, w io.Writer) error
}
