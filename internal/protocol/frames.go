package protocol

import "encoding/json"

// Messages carried by failure and acknowledgement frames.
const (
	MsgConnected      = "Connected and authenticated"
	MsgNoToken        = "No token provided"
	MsgInvalidToken   = "Invalid or expired token"
	MsgInvalidFormat  = "Invalid message format"
	MsgUnknownAction  = "Unknown action"
	MsgRateLimited    = "Rate limit exceeded"
	MsgMissingFields  = "Missing receiverId or data"
	MsgSenderNotFound = "Sender not found"
	MsgSendFailed     = "Failed to send message"
	MsgQueueFailed    = "Failed to queue message"
	MsgMessageSent    = "Message sent"
	MsgMessageQueued  = "Message queued"
)

const (
	eventOnlineUsers = "online_users"
	eventNewMessage  = "new_message"
)

// Welcome is sent once the handshake succeeds.
type Welcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// Failure reports a rejected handshake, frame or routing attempt.
type Failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Ack reports the outcome of a send_message request back to its sender.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// Presence is one entry of the online users list. It never carries
// credentials.
type Presence struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// OnlineUsers answers get_online_users.
type OnlineUsers struct {
	Success bool       `json:"success"`
	Action  string     `json:"action"`
	Data    []Presence `json:"data"`
}

// NewMessage is pushed to the receiver of a direct message.
type NewMessage struct {
	Success     bool   `json:"success"`
	Action      string `json:"action"`
	Sender      string `json:"sender"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	MessageTime string `json:"messageTime"`
}

// EncodeWelcome renders the handshake success frame.
func EncodeWelcome(userID string) []byte {
	return mustEncode(Welcome{Success: true, Message: MsgConnected, UserID: userID})
}

// EncodeFailure renders a {success:false} frame.
func EncodeFailure(message string) []byte {
	return mustEncode(Failure{Success: false, Message: message})
}

// EncodeAck renders a routing acknowledgement.
func EncodeAck(success bool, message, status string) []byte {
	return mustEncode(Ack{Success: success, Message: message, Status: status})
}

// EncodeOnlineUsers renders the presence snapshot. A nil slice is encoded
// as an empty array.
func EncodeOnlineUsers(users []Presence) []byte {
	if users == nil {
		users = []Presence{}
	}
	return mustEncode(OnlineUsers{Success: true, Action: eventOnlineUsers, Data: users})
}

// EncodeNewMessage renders the frame delivered to a receiver.
func EncodeNewMessage(senderID string, data MessageData) []byte {
	return mustEncode(NewMessage{
		Success:     true,
		Action:      eventNewMessage,
		Sender:      senderID,
		Type:        data.Type,
		Message:     data.Message,
		MessageTime: data.CurrentDate,
	})
}

// All frame types are plain structs of strings, bools and slices of the
// same, so Marshal cannot fail.
func mustEncode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
