package solana

// LogStream is a single upstream logs subscription connection.
type LogStream interface {
	// SubscribeLogs sends a logsSubscribe request. The confirmation arrives
	// asynchronously through ReadLoop.
	SubscribeLogs(filter LogsFilter) error

	// ReadLoop blocks dispatching notifications until the connection fails or is closed.
	ReadLoop(handle func(LogNotification)) error

	// Close closes the WebSocket connection.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these addresses.
	Mentions []string
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Err       interface{}
}
