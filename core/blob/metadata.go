package blob

import (
	"math"
	"strconv"
	"time"

	"github.com/kochabx/vidchat/errors"
)

const (
	fieldSize       = "size"
	fieldCompressed = "compressed"
	fieldChunks     = "chunks"
	fieldTimestamp  = "timestamp"
)

// Metadata 文件元数据，存放在 video:<id>:metadata 哈希中
type Metadata struct {
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
	Chunks     int       `json:"chunks"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m Metadata) fields() map[string]any {
	compressed := "false"
	if m.Compressed {
		compressed = "true"
	}
	ts := float64(m.Timestamp.UnixNano()) / float64(time.Second)
	return map[string]any{
		fieldSize:       strconv.FormatInt(m.Size, 10),
		fieldCompressed: compressed,
		fieldChunks:     strconv.Itoa(m.Chunks),
		fieldTimestamp:  strconv.FormatFloat(ts, 'f', -1, 64),
	}
}

func parseMetadata(h map[string]string) (*Metadata, error) {
	var (
		m   Metadata
		err error
	)
	if m.Size, err = strconv.ParseInt(h[fieldSize], 10, 64); err != nil || m.Size < 0 {
		return nil, corrupt(fieldSize, err)
	}
	if m.Chunks, err = strconv.Atoi(h[fieldChunks]); err != nil || m.Chunks < 0 {
		return nil, corrupt(fieldChunks, err)
	}
	switch h[fieldCompressed] {
	case "true", "True":
		m.Compressed = true
	case "false", "False":
	default:
		return nil, corrupt(fieldCompressed, nil)
	}
	ts, err := strconv.ParseFloat(h[fieldTimestamp], 64)
	if err != nil {
		return nil, corrupt(fieldTimestamp, err)
	}
	sec, frac := math.Modf(ts)
	m.Timestamp = time.Unix(int64(sec), int64(frac*float64(time.Second)))
	return &m, nil
}

func corrupt(field string, cause error) error {
	return errors.ErrCorrupt.WithReason("metadata").WithMetadata(map[string]string{"field": field}).WithCause(cause)
}
