package fanout

import (
	"sort"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
)

// validateCompleteDeviceList requires the bundle to name exactly the
// destination's active device set. A sender encrypts per device, so any
// difference between the targeted set and the actual set is a hard error:
// delivering to a subset would skip a legitimate device or hand a
// decrypt-failing payload to one whose keys rotated.
func validateCompleteDeviceList(account *model.Account, list *model.IncomingMessageList) error {
	messageDeviceIDs := list.DeviceIDs()
	accountDeviceIDs := account.ActiveDeviceIDs()

	var missing, extra []uint64
	for id := range accountDeviceIDs {
		if !messageDeviceIDs[id] {
			missing = append(missing, id)
		}
	}
	for id := range messageDeviceIDs {
		if !accountDeviceIDs[id] {
			extra = append(extra, id)
		}
	}

	if len(missing) > 0 || len(extra) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
		return &MismatchedDevicesError{MissingDevices: missing, ExtraDevices: extra}
	}
	return nil
}

// validateRegistrationIDs requires every stated registration id to match the
// device's current epoch. A stated id of 0 means the sender opted out of the
// check. The complete stale set is reported in one rejection.
func validateRegistrationIDs(account *model.Account, list *model.IncomingMessageList) error {
	var stale []uint64
	for i := range list.Messages {
		m := &list.Messages[i]
		device := account.Device(m.DestinationDeviceID)
		if device != nil &&
			m.DestinationRegistrationID > 0 &&
			m.DestinationRegistrationID != device.RegistrationID {
			stale = append(stale, device.ID)
		}
	}
	if len(stale) > 0 {
		sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
		return &StaleDevicesError{StaleDevices: stale}
	}
	return nil
}
