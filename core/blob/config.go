package blob

import "time"

// Config 分块存储配置，大小单位为字节
type Config struct {
	MaxFileSize          int64         `mapstructure:"max_file_size" default:"52428800" validate:"gt=0"`
	CompressionThreshold int64         `mapstructure:"compression_threshold" default:"10485760" validate:"gte=0"`
	ChunkSize            int           `mapstructure:"chunk_size" default:"1048576" validate:"gt=0"`
	TTL                  time.Duration `mapstructure:"ttl" default:"1h" validate:"gt=0"`
	// BatchSize 每次往返读写的分块数
	BatchSize int `mapstructure:"batch_size" default:"8" validate:"gt=0"`
	// OrphanGrace 无元数据的分块至少存在这么久才会被清理，避免误删上传中的文件
	OrphanGrace time.Duration `mapstructure:"orphan_grace" default:"1m"`
}
