//go:build !unix

package pomelo

import "github.com/pkg/errors"

// DialSocket is only implemented on unix platforms; use DialerOption elsewhere.
func DialSocket(addr string) (Socket, error) {
	return nil, errors.Errorf("pomelo: no non-blocking socket for this platform, dial %s with DialerOption", addr)
}
