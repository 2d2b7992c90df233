package agent

// Exported for tests.
var (
	DispatchAction     = dispatchAction
	CompressScreenshot = compressScreenshot
)
