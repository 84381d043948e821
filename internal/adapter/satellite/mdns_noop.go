//go:build !mdns

package satellite

import "log/slog"

// advertise is a no-op when mDNS support is not compiled in.
func advertise(_ string, _ int, logger *slog.Logger) (func(), error) {
	logger.Debug("mdns advertising unavailable: built without the mdns tag")
	return func() {}, nil
}
