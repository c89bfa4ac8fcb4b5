package liberrors

// ErrModuleClosed is returned when using a memory module after its last reference has been released.
type ErrModuleClosed struct{}

// Error implements the error interface.
func (e ErrModuleClosed) Error() string {
	return "memory module is closed"
}

// ErrUnknownBuffer is returned when freeing a buffer that was not allocated by the memory module.
type ErrUnknownBuffer struct{}

// Error implements the error interface.
func (e ErrUnknownBuffer) Error() string {
	return "buffer was not allocated by this module"
}
