//go:build !plan9

package fserrors

import (
	"syscall"
)

// errnos which mean the network, not the server, failed
func init() {
	retriableErrors = append(retriableErrors,
		syscall.EPIPE,
		syscall.ETIMEDOUT,
		syscall.ECONNREFUSED,
		syscall.EHOSTDOWN,
		syscall.EHOSTUNREACH,
		syscall.ENETDOWN,
		syscall.ENETUNREACH,
		syscall.ECONNABORTED,
		syscall.EAGAIN,
		syscall.EWOULDBLOCK,
		syscall.ECONNRESET,
	)
}
