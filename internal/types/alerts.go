package types

// Alert kinds raised toward the UI banner hook
const (
	AlertMask     = "mask"
	AlertFace     = "face"
	AlertCriminal = "criminal"
)
