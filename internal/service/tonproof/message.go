package tonproof

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/address"
)

const (
	proofPrefix   = "ton-proof-item-v2/"
	connectPrefix = "ton-connect"
)

// SignedHash builds the digest a TonConnect wallet signs for a proof:
//
//	message = "ton-proof-item-v2/" | wc (int32 BE) | hash | len(domain) (uint32 LE) | domain | ts (uint64 LE) | payload
//	digest  = sha256(0xffff | "ton-connect" | sha256(message))
func SignedHash(addr *address.Address, domain string, timestamp uint64, payload string) []byte {
	var msg bytes.Buffer
	msg.WriteString(proofPrefix)
	_ = binary.Write(&msg, binary.BigEndian, int32(addr.Workchain()))
	msg.Write(addr.Data())
	_ = binary.Write(&msg, binary.LittleEndian, uint32(len(domain)))
	msg.WriteString(domain)
	_ = binary.Write(&msg, binary.LittleEndian, timestamp)
	msg.WriteString(payload)
	msgHash := sha256.Sum256(msg.Bytes())

	full := make([]byte, 0, 2+len(connectPrefix)+len(msgHash))
	full = append(full, 0xff, 0xff)
	full = append(full, connectPrefix...)
	full = append(full, msgHash[:]...)
	digest := sha256.Sum256(full)
	return digest[:]
}

// ParseAddress accepts raw "wc:hex" and user-friendly base64 addresses.
func ParseAddress(s string) (*address.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty address")
	}
	if strings.Contains(s, ":") {
		return address.ParseRawAddr(s)
	}
	return address.ParseAddr(s)
}

// RawAddress is the canonical storage form, independent of bounce and testnet flags.
func RawAddress(addr *address.Address) string {
	return fmt.Sprintf("%d:%x", int32(addr.Workchain()), addr.Data())
}

// NormalizeAddress parses s and returns its canonical form.
func NormalizeAddress(s string) (string, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return "", err
	}
	return RawAddress(addr), nil
}

// decodeBase64 accepts standard and url-safe alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("invalid base64")
}
