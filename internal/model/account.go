package model

// MasterDeviceID is the reserved id of an account's primary device.
const MasterDeviceID = 1

// Device is one registered device of an account. At most one of FCMToken and
// APNSToken is meaningful at a time; FetchesMessages marks devices that pull
// over the local streaming channel instead of mobile push.
type Device struct {
	ID              uint64 `json:"id"`
	RegistrationID  uint32 `json:"registration_id"`
	FCMToken        string `json:"fcm_token,omitempty"`
	APNSToken       string `json:"apns_token,omitempty"`
	FetchesMessages bool   `json:"fetches_messages"`
}

// IsActive reports whether the device has any viable delivery channel.
func (d *Device) IsActive() bool {
	return d.FetchesMessages || d.FCMToken != "" || d.APNSToken != ""
}

// IsMaster reports whether this is the account's primary device.
func (d *Device) IsMaster() bool {
	return d.ID == MasterDeviceID
}

// Account is a user identity and its ordered device set. Relay is non-empty
// only for accounts hosted on a federated peer.
type Account struct {
	Number  string    `json:"number"`
	Relay   string    `json:"relay,omitempty"`
	Devices []*Device `json:"devices"`
}

// Device returns the device with the given id, or nil.
func (a *Account) Device(id uint64) *Device {
	for _, d := range a.Devices {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// MasterDevice returns the account's primary device, or nil.
func (a *Account) MasterDevice() *Device {
	return a.Device(MasterDeviceID)
}

// IsActive reports whether the account can receive messages at all. An
// account with no active master device is treated as nonexistent by the
// fan-out path.
func (a *Account) IsActive() bool {
	master := a.MasterDevice()
	return master != nil && master.IsActive()
}

// ActiveDeviceIDs returns the ids of all currently active devices.
func (a *Account) ActiveDeviceIDs() map[uint64]bool {
	ids := make(map[uint64]bool)
	for _, d := range a.Devices {
		if d.IsActive() {
			ids[d.ID] = true
		}
	}
	return ids
}
