// Package rule defines the shape of a security-group ingress rule as it is
// requested, approved, and compared against live provider state.
package rule

import (
	"crypto/md5" //nolint:gosec // dedup key, not a security boundary
	"encoding/hex"
	"fmt"
	"strings"
)

// Protocol is the IP protocol of an ingress rule.
type Protocol string

const (
	// ProtocolTCP allows TCP traffic on a single port.
	ProtocolTCP Protocol = "TCP"

	// ProtocolUDP allows UDP traffic on a single port.
	ProtocolUDP Protocol = "UDP"

	// ProtocolICMP allows ICMP traffic; requests carry the ICMPPort sentinel.
	ProtocolICMP Protocol = "ICMP"
)

// ICMPPort is the sentinel port value stored for ICMP rules, which have no
// port of their own.
const ICMPPort int32 = -1

// GroupRefPrefix marks a source as a reference to another security group
// rather than a CIDR block.
const GroupRefPrefix = "sg-"

// ParseProtocol converts a stored protocol string into a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToUpper(s)); p {
	case ProtocolTCP, ProtocolUDP, ProtocolICMP:
		return p, nil
	default:
		return "", fmt.Errorf("invalid protocol: %s", s)
	}
}

// Validate checks that the protocol is one of the closed set.
func (p Protocol) Validate() error {
	switch p {
	case ProtocolTCP, ProtocolUDP, ProtocolICMP:
		return nil
	default:
		return fmt.Errorf("invalid protocol: %s", p)
	}
}

// Wire returns the protocol as the provider expects it. The provider
// lowercases protocols in its own responses, so comparisons against live
// state must go through EqualWire instead of plain string equality.
func (p Protocol) Wire() string {
	return strings.ToLower(string(p))
}

// EqualWire reports whether a live protocol value names the same protocol.
func (p Protocol) EqualWire(live string) bool {
	return strings.EqualFold(string(p), live)
}

// IsGroupRef reports whether a rule source references another security group.
// Anything else is treated as a CIDR block; a source is never both.
func IsGroupRef(source string) bool {
	return strings.HasPrefix(source, GroupRefPrefix)
}

// ValidatePort checks the port invariant: ICMP rules must carry the ICMPPort
// sentinel, every other protocol needs a port in [1, 65535].
func ValidatePort(p Protocol, port int32) error {
	if p == ProtocolICMP {
		if port != ICMPPort {
			return fmt.Errorf("ICMP rules must use port %d, got %d", ICMPPort, port)
		}
		return nil
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range [1, 65535]", port)
	}
	return nil
}

// ValidateReason checks the audit reason length bounds required at request
// time.
func ValidateReason(reason string) error {
	if len(reason) < 6 || len(reason) > 255 {
		return fmt.Errorf("reason length must be between 6 and 255, got %d", len(reason))
	}
	return nil
}

// Validate checks the full rule shape of an inbound request: protocol, the
// port invariant, a non-empty source, and the reason bounds. Target fields
// (account, region, group) are resolved by the intake layer and only checked
// for presence.
func Validate(accountID, region, groupID string, p Protocol, port int32, source, reason string) error {
	if accountID == "" || region == "" || groupID == "" {
		return fmt.Errorf("accountId, region and groupId are required")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := ValidatePort(p, port); err != nil {
		return err
	}
	if source == "" {
		return fmt.Errorf("source is required")
	}
	return ValidateReason(reason)
}

// UID computes the deterministic dedup key for a rule. Two requests that
// describe the same logical rule hash to the same UID, which the store keeps
// unique among requests that are not terminally deleted.
func UID(accountID, groupID string, p Protocol, port int32, source string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s%s%s%d%s", accountID, groupID, p, port, source))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
