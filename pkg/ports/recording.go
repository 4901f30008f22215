package ports

import "context"

// Schema names of the compressed video message. The ROS 2 name is what
// foxglove_msgs publishes when recorded through rosbag2.
const (
	CompressedVideoSchema     = "foxglove.CompressedVideo"
	CompressedVideoROS2Schema = "foxglove_msgs/msg/CompressedVideo"

	EncodingCDR = "cdr"
)

// ChannelInfo describes one channel of a recording.
type ChannelInfo struct {
	ID              uint16
	Topic           string
	SchemaName      string
	SchemaEncoding  string
	MessageEncoding string
	MessageCount    uint64 // zero when the recording has no statistics
}

// IsCompressedVideo reports whether the channel carries CDR encoded
// CompressedVideo messages.
func (c ChannelInfo) IsCompressedVideo() bool {
	if c.MessageEncoding != EncodingCDR {
		return false
	}
	return c.SchemaName == CompressedVideoSchema || c.SchemaName == CompressedVideoROS2Schema
}

// Message is one raw message of a channel.
type Message struct {
	LogTime     uint64 // nanoseconds, recording defined epoch
	PublishTime uint64
	Sequence    uint32
	Data        []byte
}

// MessageIterator yields the messages of a single channel.
type MessageIterator interface {
	// Next returns the next message, or io.EOF when the channel is exhausted.
	Next() (Message, error)

	// Close releases the resources held by the iterator.
	Close() error
}

// Recording abstracts the container reader.
type Recording interface {
	// Channels lists every channel of the recording.
	Channels(ctx context.Context) ([]ChannelInfo, error)

	// Messages opens an iterator over the messages of channel. Every call
	// returns an independent iterator.
	Messages(ctx context.Context, channel ChannelInfo) (MessageIterator, error)
}
