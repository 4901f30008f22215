package mcapreader

import (
	"fmt"
	"io"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/user/mcapvideo/pkg/ports"
)

// compressedVideoDefinition is the ros2msg text of the CompressedVideo
// schema, stored in the schema record of written recordings.
const compressedVideoDefinition = `builtin_interfaces/Time timestamp
string frame_id
uint8[] data
string format

================================================================================
MSG: builtin_interfaces/Time
int32 sec
uint32 nanosec
`

// FixtureChannel is one channel of a recording written by WriteRecording.
// Messages are stored in the given order, interleaved with other channels.
type FixtureChannel struct {
	Topic           string
	SchemaName      string // defaults to foxglove.CompressedVideo
	MessageEncoding string // defaults to cdr
	Messages        []ports.Message
}

// FixtureOptions controls the layout of a written recording.
type FixtureOptions struct {
	// Compression is the chunk compression, "zstd", "lz4" or "" for none.
	Compression string
	// Unindexed writes an unchunked file without summary section.
	Unindexed bool
}

// WriteRecording writes an MCAP recording holding channels.
func WriteRecording(w io.Writer, channels []FixtureChannel, opts FixtureOptions) error {
	writerOpts := &mcap.WriterOptions{
		Chunked:     !opts.Unindexed,
		ChunkSize:   64 * 1024,
		Compression: mcap.CompressionFormat(opts.Compression),
		IncludeCRC:  true,
	}
	if opts.Unindexed {
		writerOpts.SkipMessageIndexing = true
		writerOpts.SkipStatistics = true
		writerOpts.SkipRepeatedSchemas = true
		writerOpts.SkipRepeatedChannelInfos = true
		writerOpts.SkipSummaryOffsets = true
		writerOpts.SkipChunkIndex = true
		writerOpts.SkipAttachmentIndex = true
		writerOpts.SkipMetadataIndex = true
	}

	writer, err := mcap.NewWriter(w, writerOpts)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}
	if err := writer.WriteHeader(&mcap.Header{Profile: "ros2", Library: "mcapvideo"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	schemaIDs := make(map[string]uint16)
	for i, ch := range channels {
		name := ch.SchemaName
		if name == "" {
			name = ports.CompressedVideoSchema
		}
		schemaID, ok := schemaIDs[name]
		if !ok {
			schemaID = uint16(len(schemaIDs) + 1)
			schemaIDs[name] = schemaID
			schema := &mcap.Schema{ID: schemaID, Name: name, Encoding: "ros2msg"}
			if name == ports.CompressedVideoSchema || name == ports.CompressedVideoROS2Schema {
				schema.Data = []byte(compressedVideoDefinition)
			}
			if err := writer.WriteSchema(schema); err != nil {
				return fmt.Errorf("write schema %s: %w", name, err)
			}
		}

		encoding := ch.MessageEncoding
		if encoding == "" {
			encoding = ports.EncodingCDR
		}
		err := writer.WriteChannel(&mcap.Channel{
			ID:              uint16(i + 1),
			SchemaID:        schemaID,
			Topic:           ch.Topic,
			MessageEncoding: encoding,
			Metadata:        map[string]string{},
		})
		if err != nil {
			return fmt.Errorf("write channel %s: %w", ch.Topic, err)
		}
	}

	for pos := 0; ; pos++ {
		wrote := false
		for i, ch := range channels {
			if pos >= len(ch.Messages) {
				continue
			}
			wrote = true
			m := ch.Messages[pos]
			publish := m.PublishTime
			if publish == 0 {
				publish = m.LogTime
			}
			err := writer.WriteMessage(&mcap.Message{
				ChannelID:   uint16(i + 1),
				Sequence:    uint32(pos),
				LogTime:     m.LogTime,
				PublishTime: publish,
				Data:        m.Data,
			})
			if err != nil {
				return fmt.Errorf("write message %d of %s: %w", pos, ch.Topic, err)
			}
		}
		if !wrote {
			break
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
