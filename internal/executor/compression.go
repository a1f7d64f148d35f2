package executor

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "drguard/internal/errors"
)

// CompressionType identifies a compression algorithm
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

// IsValid reports whether t is a supported algorithm
func (t CompressionType) IsValid() bool {
	switch t {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		return true
	}
	return false
}

// Extension returns the file suffix for the algorithm
func (t CompressionType) Extension() string {
	switch t {
	case CompressionTypeGzip:
		return ".gz"
	case CompressionTypeLZ4:
		return ".lz4"
	case CompressionTypeZstd:
		return ".zst"
	}
	return ""
}

// CompressionStats contains statistics about one compression operation
type CompressionStats struct {
	OriginalSize     int64           `json:"original_size"`
	CompressedSize   int64           `json:"compressed_size"`
	CompressionRatio float64         `json:"compression_ratio"`
	Algorithm        CompressionType `json:"algorithm"`
	Duration         time.Duration   `json:"duration"`
}

// CompressionManager compresses and decompresses backup artifacts.
// Dump files are streamed rather than held in memory.
type CompressionManager struct{}

// NewCompressionManager creates a compression manager
func NewCompressionManager() *CompressionManager {
	return &CompressionManager{}
}

func (cm *CompressionManager) newWriter(dst io.Writer, algorithm CompressionType, level int) (io.WriteCloser, error) {
	switch algorithm {
	case CompressionTypeGzip:
		if level < gzip.BestSpeed || level > gzip.BestCompression {
			level = gzip.DefaultCompression
		}
		return gzip.NewWriterLevel(dst, level)
	case CompressionTypeLZ4:
		w := lz4.NewWriter(dst)
		return w, nil
	case CompressionTypeZstd:
		return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	return nil, apperrors.NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
}

func (cm *CompressionManager) newReader(src io.Reader, algorithm CompressionType) (io.ReadCloser, error) {
	switch algorithm {
	case CompressionTypeGzip:
		return gzip.NewReader(src)
	case CompressionTypeLZ4:
		return io.NopCloser(lz4.NewReader(src)), nil
	case CompressionTypeZstd:
		d, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	}
	return nil, apperrors.NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
}

// CompressFile compresses srcPath into dstPath
func (cm *CompressionManager) CompressFile(srcPath, dstPath string, algorithm CompressionType, level int) (*CompressionStats, error) {
	start := time.Now()

	src, err := os.Open(srcPath)
	if err != nil {
		return nil, apperrors.NewCompressionError("failed to open source file "+srcPath, err)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return nil, apperrors.NewCompressionError("failed to stat source file "+srcPath, err)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, apperrors.NewCompressionError("failed to create output file "+dstPath, err)
	}
	defer dst.Close()

	if algorithm == CompressionTypeNone {
		if _, err := io.Copy(dst, src); err != nil {
			return nil, apperrors.NewCompressionError("failed to copy "+srcPath, err)
		}
		return &CompressionStats{
			OriginalSize:     srcInfo.Size(),
			CompressedSize:   srcInfo.Size(),
			CompressionRatio: 1.0,
			Algorithm:        CompressionTypeNone,
			Duration:         time.Since(start),
		}, nil
	}

	w, err := cm.newWriter(dst, algorithm, level)
	if err != nil {
		return nil, apperrors.NewCompressionError("failed to create compressor", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return nil, apperrors.NewCompressionError("failed to compress "+srcPath, err)
	}
	if err := w.Close(); err != nil {
		return nil, apperrors.NewCompressionError("failed to finalize compression of "+srcPath, err)
	}

	dstInfo, err := os.Stat(dstPath)
	if err != nil {
		return nil, apperrors.NewCompressionError("failed to stat output file "+dstPath, err)
	}

	return &CompressionStats{
		OriginalSize:     srcInfo.Size(),
		CompressedSize:   dstInfo.Size(),
		CompressionRatio: compressionRatio(srcInfo.Size(), dstInfo.Size()),
		Algorithm:        algorithm,
		Duration:         time.Since(start),
	}, nil
}

// DecompressFile decompresses srcPath into dstPath
func (cm *CompressionManager) DecompressFile(srcPath, dstPath string, algorithm CompressionType) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return apperrors.NewCompressionError("failed to open compressed file "+srcPath, err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return apperrors.NewCompressionError("failed to create output file "+dstPath, err)
	}
	defer dst.Close()

	if algorithm == CompressionTypeNone {
		_, err := io.Copy(dst, src)
		if err != nil {
			return apperrors.NewCompressionError("failed to copy "+srcPath, err)
		}
		return nil
	}

	r, err := cm.newReader(src, algorithm)
	if err != nil {
		return apperrors.NewCompressionError("failed to create decompressor", err)
	}
	defer r.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return apperrors.NewCompressionError("failed to decompress "+srcPath, err)
	}
	return nil
}

// Decompress decompresses an in-memory sample, used by the self-test
func (cm *CompressionManager) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	if algorithm == CompressionTypeNone {
		return data, nil
	}
	r, err := cm.newReader(bytes.NewReader(data), algorithm)
	if err != nil {
		return nil, apperrors.NewCompressionError("failed to create decompressor", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.NewCompressionError("failed to decompress sample", err)
	}
	return out, nil
}

func compressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}
