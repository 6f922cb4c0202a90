package models

const (
	SessionStateCollection = "sessionstates"
	SessionStateID         = "session_state"
)
