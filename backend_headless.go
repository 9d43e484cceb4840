//go:build headless

package polymix

// NewDeviceBackend returns the device-less backend in headless builds.
func NewDeviceBackend() (AudioBackend, error) {
	return NullBackend{}, nil
}
