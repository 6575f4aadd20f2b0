package schemas

// -- Browser Persona Schemas --

// Persona encapsulates the properties spoofed for a consistent browser fingerprint.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"`
	Languages []string `json:"languages"`
	Width     int64    `json:"width"`
	Height    int64    `json:"height"`
}

// DefaultPersona provides a fallback persona if none is specified.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Width:     1280,
	Height:    800,
}

// -- Action Execution Schemas --

// ExecuteRequest is the payload accepted by the action-execution boundary.
type ExecuteRequest struct {
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	SessionID string         `json:"session_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// ExecuteResponse is the caller-visible outcome of one action execution.
// Error is populated only when Success is false; the caller never sees a raw
// stack trace.
type ExecuteResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SearchParams are the parsed parameters of the "search" action.
type SearchParams struct {
	Destination  string `json:"destination"`
	CheckinDate  string `json:"checkin_date"`
	CheckoutDate string `json:"checkout_date"`
	Adults       int    `json:"adults"`
}

// HotelResult is one structured record extracted from the results page.
type HotelResult struct {
	Name   string `json:"name"`
	Price  string `json:"price"`
	Rating string `json:"rating,omitempty"`
}

// -- Remote-Control Input Schemas --

// InputEventType enumerates the remote-control primitives observers may send.
type InputEventType string

const (
	InputClick    InputEventType = "click"
	InputMove     InputEventType = "mousemove"
	InputScroll   InputEventType = "scroll"
	InputKeypress InputEventType = "keypress"
	InputText     InputEventType = "type"
)

// InputEvent is one observer-originated input event addressed to the live page.
type InputEvent struct {
	Type   InputEventType `json:"type"`
	X      int64          `json:"x,omitempty"`
	Y      int64          `json:"y,omitempty"`
	DeltaX int64          `json:"deltaX,omitempty"`
	DeltaY int64          `json:"deltaY,omitempty"`
	Key    string         `json:"key,omitempty"`
	Text   string         `json:"text,omitempty"`
}
