package logkey

// keys shared by every slog call so log lines can be joined on them
const (
	TraceID    = "TRACE ID"
	ERROR      = "ERROR"
	SessionID  = "SESSION ID"
	CheckoutID = "CHECKOUT ID"
	QuoteID    = "QUOTE ID"
	OrderID    = "ORDER ID"
	Upstream   = "UPSTREAM"
	Step       = "STEP"
)
