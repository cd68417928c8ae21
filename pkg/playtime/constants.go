package playtime

const (
	operationReport       = "report"
	operationIncrease     = "increase"
	operationStop         = "stop"
	operationSnapshot     = "snapshot"
	operationAuthenticate = "authenticate"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	secondsPerMinute = 60
)
