package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// UserChangeMessage announces a committed partial update of one user. It
// carries field names only, never values.
type UserChangeMessage struct {
	UserID    string    `json:"userId"`
	Fields    []string  `json:"fields"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func NewUserChangeMessage(userID string, fields []string, source string) *UserChangeMessage {
	return &UserChangeMessage{
		UserID:    userID,
		Fields:    fields,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

func (m *UserChangeMessage) Validate() error {
	if m.UserID == "" {
		return errors.New("user change without user id")
	}
	if len(m.Fields) == 0 {
		return errors.New("user change without fields")
	}
	return nil
}

func (m *UserChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func UserChangeMessageFromJSON(data []byte) (*UserChangeMessage, error) {
	var msg UserChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
