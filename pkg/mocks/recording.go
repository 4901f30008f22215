package mocks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/user/mcapvideo/pkg/ports"
)

// Recording is a mock implementation of ports.Recording backed by in-memory
// channels.
type Recording struct {
	mu       sync.Mutex
	channels []ports.ChannelInfo
	messages map[string][]ports.Message

	ChannelsErr error
	MessagesErr error

	opened int
}

// NewRecording creates an empty mock Recording.
func NewRecording() *Recording {
	return &Recording{messages: make(map[string][]ports.Message)}
}

// AddChannel registers a channel and its messages in file order.
func (m *Recording) AddChannel(info ports.ChannelInfo, msgs ...ports.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info.ID == 0 {
		info.ID = uint16(len(m.channels) + 1)
	}
	if info.MessageCount == 0 {
		info.MessageCount = uint64(len(msgs))
	}
	m.channels = append(m.channels, info)
	m.messages[info.Topic] = msgs
}

func (m *Recording) Channels(ctx context.Context) ([]ports.ChannelInfo, error) {
	if m.ChannelsErr != nil {
		return nil, m.ChannelsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.ChannelInfo, len(m.channels))
	copy(out, m.channels)
	return out, nil
}

func (m *Recording) Messages(ctx context.Context, channel ports.ChannelInfo) (ports.MessageIterator, error) {
	if m.MessagesErr != nil {
		return nil, m.MessagesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, ok := m.messages[channel.Topic]
	if !ok {
		return nil, fmt.Errorf("no such channel: %s", channel.Topic)
	}
	m.opened++
	return NewMessageIterator(msgs...), nil
}

// Opened returns how many iterators have been handed out.
func (m *Recording) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// MessageIterator is a slice-backed ports.MessageIterator.
type MessageIterator struct {
	mu     sync.Mutex
	msgs   []ports.Message
	pos    int
	closed bool

	// FailAt makes Next return Err once pos reaches it. Negative disables.
	FailAt int
	Err    error
}

// NewMessageIterator creates an iterator over msgs.
func NewMessageIterator(msgs ...ports.Message) *MessageIterator {
	return &MessageIterator{msgs: msgs, FailAt: -1}
}

func (it *MessageIterator) Next() (ports.Message, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return ports.Message{}, fmt.Errorf("iterator closed")
	}
	if it.FailAt >= 0 && it.pos >= it.FailAt {
		return ports.Message{}, it.Err
	}
	if it.pos >= len(it.msgs) {
		return ports.Message{}, io.EOF
	}
	msg := it.msgs[it.pos]
	it.pos++
	return msg, nil
}

func (it *MessageIterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (it *MessageIterator) Closed() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.closed
}

var (
	_ ports.Recording       = (*Recording)(nil)
	_ ports.MessageIterator = (*MessageIterator)(nil)
)
