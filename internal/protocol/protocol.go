// Package protocol defines the JSON frames exchanged over a relay connection:
// the inbound actions a client may request and the outbound frames the relay
// pushes back.
package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Action names accepted on the wire.
const (
	ActionGetOnlineUsers = "get_online_users"
	ActionSendMessage    = "send_message"
)

// ErrMalformed is returned by Parse when a frame is not a JSON object.
var ErrMalformed = errors.New("malformed frame")

// Action is the closed set of inbound requests. The concrete types are
// GetOnlineUsers, SendMessage and Unknown.
type Action interface {
	actionName() string
}

// GetOnlineUsers asks for the presence snapshot.
type GetOnlineUsers struct{}

// SendMessage asks the relay to route Data to ReceiverID.
// Data is nil when the client omitted it.
type SendMessage struct {
	ReceiverID string
	Data       *MessageData
}

// Unknown carries an action name the relay does not understand.
type Unknown struct {
	Name string
}

func (GetOnlineUsers) actionName() string { return ActionGetOnlineUsers }
func (SendMessage) actionName() string    { return ActionSendMessage }
func (u Unknown) actionName() string      { return u.Name }

// Name returns the wire name of an action.
func Name(a Action) string {
	if a == nil {
		return ""
	}
	return a.actionName()
}

// MessageData is the client-supplied body of a direct message.
type MessageData struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	CurrentDate string `json:"currentDate"`
}

// envelope holds the raw fields of an inbound frame. Only the frame itself
// must be a JSON object; fields of the wrong shape read as absent.
type envelope struct {
	Action     json.RawMessage `json:"action"`
	ReceiverID json.RawMessage `json:"receiverId"`
	Data       json.RawMessage `json:"data"`
}

// Parse decodes one inbound text frame into an Action.
func Parse(raw []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}

	switch name := stringField(env.Action); name {
	case ActionGetOnlineUsers:
		return GetOnlineUsers{}, nil
	case ActionSendMessage:
		return SendMessage{
			ReceiverID: stringField(env.ReceiverID),
			Data:       dataField(env.Data),
		}, nil
	default:
		return Unknown{Name: name}, nil
	}
}

// stringField returns raw as a string, or "" when it is missing or not a
// JSON string.
func stringField(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// dataField returns nil when raw is missing, null or not a message object.
func dataField(raw json.RawMessage) *MessageData {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var data MessageData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return &data
}
