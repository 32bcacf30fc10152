package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// inboundMessage is the union of the JSON shapes a client may send: a meta
// control message ({"type":"meta", ...}) or an inline frame ({"exercise",
// "frame"}). Binary frames arrive as raw websocket binary messages after a
// meta carrying binary_frame.
type inboundMessage struct {
	Type        string `json:"type,omitempty"`
	Exercise    string `json:"exercise,omitempty"`
	Skeleton    *bool  `json:"skeleton,omitempty"`
	Verbose     *bool  `json:"verbose,omitempty"`
	Binary      *bool  `json:"binary,omitempty"`
	BinaryFrame bool   `json:"binary_frame,omitempty"`
	Frame       string `json:"frame,omitempty"`
}

func (m *inboundMessage) isMeta() bool  { return m.Type == "meta" }
func (m *inboundMessage) isFrame() bool { return m.Frame != "" }

func parseInbound(data []byte) (*inboundMessage, error) {
	var m inboundMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if !m.isMeta() && !m.isFrame() {
		return nil, fmt.Errorf("message is neither meta nor frame")
	}
	return &m, nil
}

// decodeFrame turns the inline frame field into image bytes. Browser clients
// often ship canvas captures as data URLs, so a data: prefix is tolerated.
func decodeFrame(frame string) ([]byte, error) {
	if idx := strings.IndexByte(frame, ','); idx >= 0 && strings.HasPrefix(frame, "data:") {
		frame = frame[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(frame)
	if err != nil {
		return nil, fmt.Errorf("decode frame payload: %w", err)
	}
	return data, nil
}
