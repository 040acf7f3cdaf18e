// Package fingerprint derives the content digest used to tell a repeat submission from a correction.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/PratikDhanave/factory-events-service/internal/models"
)

// Func computes the fingerprint of a validated input.
type Func func(models.EventInput) (string, error)

var errIncomplete = errors.New("fingerprint: eventTime, durationMs and defectCount are required")

// Compute returns the hex SHA-256 of the semantic fields:
// eventTime, machineId, lineId, factoryId, durationMs, defectCount.
// Missing and empty optional ids hash identically. Each field is length-prefixed so that
// shifting characters between adjacent fields changes the digest.
func Compute(in models.EventInput) (string, error) {
	if in.EventTime == nil || in.DurationMs == nil || in.DefectCount == nil {
		return "", errIncomplete
	}

	h := sha256.New()
	buf := make([]byte, 0, 128)
	for _, field := range [...]string{
		in.EventTime.UTC().Format(time.RFC3339Nano),
		in.MachineID,
		in.Line(),
		in.Factory(),
		strconv.FormatInt(*in.DurationMs, 10),
		strconv.FormatInt(int64(*in.DefectCount), 10),
	} {
		buf = strconv.AppendInt(buf[:0], int64(len(field)), 10)
		buf = append(buf, ':')
		buf = append(buf, field...)
		buf = append(buf, ';')
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
