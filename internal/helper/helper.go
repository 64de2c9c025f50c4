package helper

import (
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"strings"
)

func LoadCertificates(certFile, keyFile string) ([]tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}

	return []tls.Certificate{cert}, nil
}

// ParseHex decodes a hex string, ignoring whitespace and an optional 0x prefix.
func ParseHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %v", err)
	}

	return b, nil
}

func FormatHex(b []byte) string {
	return hex.EncodeToString(b)
}
