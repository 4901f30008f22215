// Package mcapreader implements ports.Recording on MCAP files.
package mcapreader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/user/mcapvideo/pkg/ports"
)

// ReadOrder selects how messages of a channel are delivered.
type ReadOrder string

const (
	// OrderFile delivers messages as they are stored. Ordering problems in
	// the recording reach the extractor unchanged.
	OrderFile ReadOrder = "file"
	// OrderLogTime delivers messages sorted by log time using the chunk
	// index. Unindexed files fall back to file order.
	OrderLogTime ReadOrder = "log_time"
)

// ParseReadOrder parses a read order name.
func ParseReadOrder(s string) (ReadOrder, error) {
	switch ReadOrder(s) {
	case "", OrderFile:
		return OrderFile, nil
	case OrderLogTime:
		return OrderLogTime, nil
	default:
		return "", fmt.Errorf("unknown read order %q (expected %s or %s)", s, OrderFile, OrderLogTime)
	}
}

// Recording reads an MCAP file. Every call opens its own file handle, so a
// Recording can serve concurrent jobs.
type Recording struct {
	path   string
	order  ReadOrder
	logger ports.Logger
}

// Open checks that path is an MCAP file and returns a Recording for it.
func Open(path string, order ReadOrder, logger ports.Logger) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	if _, err := mcap.NewReader(f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &Recording{
		path:   path,
		order:  order,
		logger: logger.WithComponent("mcapreader"),
	}, nil
}

// Path returns the recording file path.
func (r *Recording) Path() string {
	return r.path
}

// Channels lists the channels of the recording, sorted by topic. The
// summary section is used when present; otherwise every message is scanned.
func (r *Recording) Channels(ctx context.Context) ([]ports.ChannelInfo, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	reader, err := mcap.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}

	var channels []ports.ChannelInfo
	info, err := reader.Info()
	if err == nil && len(info.Channels) > 0 {
		channels = channelsFromInfo(info)
	} else {
		if err != nil {
			r.logger.Debug("No usable summary in %s (%s), scanning messages", r.path, err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind %s: %w", r.path, err)
		}
		reader, err = mcap.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", r.path, err)
		}
		channels, err = scanChannels(ctx, reader)
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(channels, func(i, j int) bool {
		if channels[i].Topic != channels[j].Topic {
			return channels[i].Topic < channels[j].Topic
		}
		return channels[i].ID < channels[j].ID
	})
	return channels, nil
}

func channelsFromInfo(info *mcap.Info) []ports.ChannelInfo {
	channels := make([]ports.ChannelInfo, 0, len(info.Channels))
	for id, ch := range info.Channels {
		ci := channelInfo(ch, info.Schemas[ch.SchemaID])
		if info.Statistics != nil {
			ci.MessageCount = info.Statistics.ChannelMessageCounts[id]
		}
		channels = append(channels, ci)
	}
	return channels
}

func scanChannels(ctx context.Context, reader *mcap.Reader) ([]ports.ChannelInfo, error) {
	it, err := reader.Messages(mcap.UsingIndex(false))
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}

	byID := make(map[uint16]*ports.ChannelInfo)
	var order []uint16
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		schema, channel, _, err := it.Next(nil)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scan messages: %w", err)
		}
		ci, ok := byID[channel.ID]
		if !ok {
			info := channelInfo(channel, schema)
			ci = &info
			byID[channel.ID] = ci
			order = append(order, channel.ID)
		}
		ci.MessageCount++
	}

	channels := make([]ports.ChannelInfo, 0, len(order))
	for _, id := range order {
		channels = append(channels, *byID[id])
	}
	return channels, nil
}

func channelInfo(ch *mcap.Channel, schema *mcap.Schema) ports.ChannelInfo {
	ci := ports.ChannelInfo{
		ID:              ch.ID,
		Topic:           ch.Topic,
		MessageEncoding: ch.MessageEncoding,
	}
	if schema != nil {
		ci.SchemaName = schema.Name
		ci.SchemaEncoding = schema.Encoding
	}
	return ci
}

// Messages opens an iterator over the messages of channel.
func (r *Recording) Messages(ctx context.Context, channel ports.ChannelInfo) (ports.MessageIterator, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}

	useIndex := false
	if r.order == OrderLogTime {
		useIndex, err = indexed(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		if !useIndex {
			r.logger.Warn("%s has no chunk index, reading %s in file order", r.path, channel.Topic)
		}
	}

	reader, err := mcap.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}

	opts := []mcap.ReadOpt{
		mcap.WithTopics([]string{channel.Topic}),
		mcap.UsingIndex(useIndex),
	}
	if useIndex {
		opts = append(opts, mcap.InOrder(mcap.LogTimeOrder))
	}
	it, err := reader.Messages(opts...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s messages: %w", channel.Topic, err)
	}

	return &messageIterator{ctx: ctx, file: f, it: it, channelID: channel.ID}, nil
}

// indexed reports whether the file carries chunk indexes and rewinds it.
func indexed(f *os.File) (bool, error) {
	reader, err := mcap.NewReader(f)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", f.Name(), err)
	}
	info, err := reader.Info()
	ok := err == nil && len(info.ChunkIndexes) > 0
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("rewind %s: %w", f.Name(), err)
	}
	return ok, nil
}

// messageIterator adapts an mcap.MessageIterator to a single channel. Topic
// filtering happens in the library; the channel ID check covers recordings
// that reuse a topic name on several channels.
type messageIterator struct {
	ctx       context.Context
	file      *os.File
	it        mcap.MessageIterator
	channelID uint16
}

func (m *messageIterator) Next() (ports.Message, error) {
	for {
		if err := m.ctx.Err(); err != nil {
			return ports.Message{}, err
		}
		_, channel, msg, err := m.it.Next(nil)
		if err != nil {
			return ports.Message{}, err
		}
		if channel.ID != m.channelID {
			continue
		}
		return ports.Message{
			LogTime:     msg.LogTime,
			PublishTime: msg.PublishTime,
			Sequence:    msg.Sequence,
			Data:        msg.Data,
		}, nil
	}
}

func (m *messageIterator) Close() error {
	return m.file.Close()
}

var _ ports.Recording = (*Recording)(nil)
