package database

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

// vectorZeroString builds a zero vector string for current embedding dims
func (dm *DBManager) vectorZeroString() string {
	dims := dm.config.EmbeddingDims
	if dims <= 0 {
		dims = 4
	}
	parts := make([]string, dims)
	for i := range parts {
		parts[i] = "0.0"
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}

// vectorToString converts a float32 slice to the libSQL vector literal format.
// An empty slice becomes the zero vector so rows always satisfy the F32_BLOB
// column; search excludes zero vectors from matching.
func (dm *DBManager) vectorToString(numbers []float32) (string, error) {
	if len(numbers) == 0 {
		return dm.vectorZeroString(), nil
	}

	dims := dm.config.EmbeddingDims
	if dims <= 0 {
		dims = 4
	}
	if len(numbers) != dims {
		return "", fmt.Errorf("vector must have exactly %d dimensions, got %d", dims, len(numbers))
	}

	strNumbers := make([]string, len(numbers))
	for i, n := range numbers {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			dm.logger.Warn("non-finite vector value replaced with 0.0", zap.Float64("value", float64(n)))
			n = 0.0
		}
		strNumbers[i] = fmt.Sprintf("%f", n)
	}

	return fmt.Sprintf("[%s]", strings.Join(strNumbers, ", ")), nil
}

// extractVector decodes the binary F32_BLOB column into a float32 slice.
func (dm *DBManager) extractVector(embedding []byte) ([]float32, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	dims := dm.config.EmbeddingDims
	if dims <= 0 {
		dims = 4
	}
	expectedBytes := dims * 4
	if len(embedding) != expectedBytes {
		return nil, fmt.Errorf("invalid embedding size: expected %d bytes for %d-dimensional vector, got %d", expectedBytes, dims, len(embedding))
	}

	vector := make([]float32, dims)
	for i := 0; i < dims; i++ {
		bits := binary.LittleEndian.Uint32(embedding[i*4 : (i+1)*4])
		vector[i] = math.Float32frombits(bits)
	}

	// Zero vector is the "no embedding" sentinel
	allZero := true
	for _, v := range vector {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, nil
	}

	return vector, nil
}
