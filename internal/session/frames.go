package session

// Inbound is the JSON frame read from the client. One struct covers every
// message type; the Type discriminator (plus the EndStream sentinel) selects
// the handling path.
type Inbound struct {
	Type      string `json:"type"`
	Enabled   bool   `json:"enabled"`
	Audio     string `json:"audio"`
	Mime      string `json:"mime"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	ID        any    `json:"id"`
	Ts        int64  `json:"ts"`
	Auto      bool   `json:"auto"`
	EndStream bool   `json:"end_stream"`
}

type readyFrame struct {
	Type string `json:"type"`
}

type pongFrame struct {
	Type string `json:"type"`
	Ts   int64  `json:"ts"`
}

type ackFrame struct {
	Type    string `json:"type"`
	What    string `json:"what,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

type authFrame struct {
	Type  string         `json:"type"`
	Ready bool           `json:"ready"`
	Info  map[string]any `json:"info"`
}

type statusFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type segmentSavedFrame struct {
	Type   string `json:"type"`
	Idx    int    `json:"idx"`
	URL    string `json:"url"`
	ID     any    `json:"id"`
	Ts     int64  `json:"ts"`
	Status string `json:"status"`
	Ext    string `json:"ext"`
	Mime   string `json:"mime"`
	Size   int    `json:"size"`
}

type savedFrame struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}
