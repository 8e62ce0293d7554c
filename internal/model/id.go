package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

type IDType string

const (
	IDTypeRun   IDType = "run"
	IDTypeWatch IDType = "watch"
)

var validIDTypes = map[IDType]bool{
	IDTypeRun:   true,
	IDTypeWatch: true,
}

var idRegex = regexp.MustCompile(`^(run|watch)_[0-9]{10}_[0-9a-f]{8}$`)

// GenerateID returns `<type>_<unix seconds>_<8 hex digits>`. Run ids tag
// every event of a run in the audit log.
func GenerateID(idType IDType) (string, error) {
	if !validIDTypes[idType] {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return fmt.Sprintf("%s_%010d_%s", idType, time.Now().Unix(), hex.EncodeToString(randomBytes)), nil
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}
