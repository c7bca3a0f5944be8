package control

// JoinBody represents the request body for joining a voice channel
type JoinBody struct {
	// SpaceID: 3-64 characters (letters, numbers, hyphens, underscores) - required
	SpaceID   string `json:"spaceId" binding:"required,spaceid"`
	ChannelID string `json:"channelId" binding:"required,channelid"`
}

// MuteBody represents the request body for toggling self-mute.
// Muted is a pointer so an explicit false survives required validation.
type MuteBody struct {
	Muted *bool `json:"muted" binding:"required"`
}

// DeafenBody represents the request body for toggling self-deafen
type DeafenBody struct {
	Deafened *bool `json:"deafened" binding:"required"`
}

// ListDevicesQuery narrows device listing to a single kind (optional)
type ListDevicesQuery struct {
	Kind string `form:"kind" binding:"omitempty,devicekind"`
}

// SelectDeviceBody represents the request body for selecting a device
type SelectDeviceBody struct {
	Kind     string `json:"kind" binding:"required,devicekind"`
	DeviceID string `json:"deviceId" binding:"required,deviceid"`
}

// RosterURI represents the URI parameters for reading a channel roster
type RosterURI struct {
	ChannelID string `uri:"channelId" binding:"required,channelid"`
}
