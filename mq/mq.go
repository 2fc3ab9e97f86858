package mq

import (
	"context"
	"encoding/json"
	"errors"
)

type MessageQueue interface {
	Send(ctx context.Context, body string) error
	// Receive returns nil, nil when the poll ends without a message
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

type Message struct {
	// Id is the receipt handle used to delete the message
	Id   string
	Body string
}

// PurgeUserMessage asks the purge consumer to remove the notes and shares left
// behind by a deleted account.
type PurgeUserMessage struct {
	UserId      string `json:"userId"`
	RequestedAt int64  `json:"requestedAt"`
}

func EncodePurgeUser(msg PurgeUserMessage) (string, error) {
	if msg.UserId == "" {
		return "", errors.New("purge message without user id")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func DecodePurgeUser(body string) (PurgeUserMessage, error) {
	var msg PurgeUserMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return PurgeUserMessage{}, err
	}
	if msg.UserId == "" {
		return PurgeUserMessage{}, errors.New("purge message without user id")
	}
	return msg, nil
}
