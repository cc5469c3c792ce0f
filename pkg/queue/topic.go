package queue

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Well-known subtopics. Topic "pack" carries build requests/responses;
// topic "state" carries CRDT mutation intents; topic "vmm" carries VM
// lifecycle commands.
const (
	SubtopicPackBuildRequest  byte = 0
	SubtopicPackBuildResponse byte = 1

	SubtopicStatePeerRequest     byte = 0
	SubtopicStateCidrRequest     byte = 1
	SubtopicStateAccountRequest  byte = 2
	SubtopicStateAssocRequest    byte = 3
	SubtopicStateInstanceRequest byte = 4
	SubtopicStateDnsRequest      byte = 5
	SubtopicStateAgentRequest    byte = 8

	SubtopicVMMCreate byte = 1
	SubtopicVMMBoot   byte = 2
	SubtopicVMMDelete byte = 3
	SubtopicVMMStop   byte = 4
	SubtopicVMMReboot byte = 5
	SubtopicVMMStart  byte = 6
)

// TopicHash returns the 32-byte SHA3-256 hash of a topic name, used as
// the queue's bucket key.
func TopicHash(topic string) [32]byte {
	return sha3.Sum256([]byte(topic))
}

// TopicHashHex is TopicHash hex-encoded, the form used as a bbolt bucket
// name. The HTTP surface takes the plain topic name, not this hash.
func TopicHashHex(topic string) string {
	h := TopicHash(topic)
	return hex.EncodeToString(h[:])
}
