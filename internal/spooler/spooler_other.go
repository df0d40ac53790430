//go:build !windows

package spooler

// NewSystem is only available on Windows; use the memory driver
// elsewhere.
func NewSystem() (Spooler, error) {
	return nil, ErrUnsupported
}
