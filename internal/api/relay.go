package api

// MessageType tags a relay frame.
type MessageType string

const (
	MsgAuth         MessageType = "auth"
	MsgCode         MessageType = "code"
	MsgStart        MessageType = "start"
	MsgECDHKey      MessageType = "ecdh_key"
	MsgECDHDone     MessageType = "ecdh_done"
	MsgData         MessageType = "data"
	MsgEncData      MessageType = "enc_data"
	MsgComplete     MessageType = "complete"
	MsgError        MessageType = "error"
	MsgUnauthorized MessageType = "unauthorized"
)

// StatusOK is the enc_data payload a new device sends once it has stored its
// own wrap of the received key.
const StatusOK = "ok"

// Message is one JSON text frame on the relay socket.
type Message struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token,omitempty"`
	Code  string      `json:"code,omitempty"`
	Key   []byte      `json:"key,omitempty"`
	Data  []byte      `json:"data,omitempty"`
	IV    []byte      `json:"iv,omitempty"`
	Msg   string      `json:"msg,omitempty"`
}
