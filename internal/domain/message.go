package domain

// MessageType identifies a channel message.
type MessageType string

const (
	MessageMicrophone MessageType = "MICROPHONE"
	MessageSpeaking   MessageType = "SPEAKING"
	MessageLoading    MessageType = "LOADING"
	MessageBegin      MessageType = "BEGIN" // client -> server only
)

// Status is the ON/OFF switch carried by status messages.
type Status string

const (
	StatusOn  Status = "ON"
	StatusOff Status = "OFF"
)

// InboundMessage is the JSON envelope exchanged over the session channel.
//
//	{"messageType": "MICROPHONE", "body": {"STATUS": "ON"}}
type InboundMessage struct {
	MessageType MessageType `json:"messageType"`
	Body        MessageBody `json:"body"`
}

// MessageBody holds the message payload. BEGIN carries an empty body.
type MessageBody struct {
	Status Status `json:"STATUS,omitempty"`
}

// BeginMessage is sent once by the client when the channel opens.
func BeginMessage() InboundMessage {
	return InboundMessage{MessageType: MessageBegin}
}

// StatusMessage builds a server status message.
func StatusMessage(t MessageType, on bool) InboundMessage {
	s := StatusOff
	if on {
		s = StatusOn
	}
	return InboundMessage{MessageType: t, Body: MessageBody{Status: s}}
}
