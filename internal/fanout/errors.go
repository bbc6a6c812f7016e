package fanout

import (
	"fmt"

	"golang.org/x/xerrors"
)

// ErrNoSuchUser means the destination is unknown or inactive, or the master
// device turned out to be unreachable.
var ErrNoSuchUser = xerrors.New("no such user")

// MismatchedDevicesError rejects a bundle whose device set does not exactly
// match the recipient's active devices. Missing lists active devices the
// sender omitted; Extra lists named devices that are not active or do not
// exist. The whole bundle is rejected; there is no partial delivery.
type MismatchedDevicesError struct {
	MissingDevices []uint64 `json:"missingDevices"`
	ExtraDevices   []uint64 `json:"extraDevices"`
}

func (e *MismatchedDevicesError) Error() string {
	return fmt.Sprintf("mismatched devices: missing %v, extra %v", e.MissingDevices, e.ExtraDevices)
}

// StaleDevicesError rejects a bundle whose stated registration ids no longer
// match the devices' current key registration epoch.
type StaleDevicesError struct {
	StaleDevices []uint64 `json:"staleDevices"`
}

func (e *StaleDevicesError) Error() string {
	return fmt.Sprintf("stale devices: %v", e.StaleDevices)
}
