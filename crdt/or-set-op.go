package crdt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"encoding/base64"
)

// Constants

// Operations an ORSetOp can carry.
const (
	OpAdd = "add"
	OpRmv = "rmv"
)

// Structs

// ORSetOp represents the broadcast op-based update message
// to all replicas of a CRDT. It contains the update operation
// (add or rmv), the affected value and the tags involved.
type ORSetOp[T comparable] struct {
	Operation string
	Value     T
	Tags      []Tag
}

// Functions

// String takes in a struct of type ORSetOp and turns it into
// its marshalled version, ready to be sent via broadcast:
// operation|base64(value)|tag|tag... with tags in ascending order.
func (msg *ORSetOp[T]) String() string {

	// Each CRDT-related network message starts
	// with the operation at the beginning.
	parts := make([]string, 0, (len(msg.Tags) + 2))
	parts = append(parts, msg.Operation)

	// Encode the value so that delimiters inside it
	// cannot break the message apart.
	parts = append(parts, base64.StdEncoding.EncodeToString([]byte(fmt.Sprint(msg.Value))))

	tags := make([]Tag, len(msg.Tags))
	copy(tags, msg.Tags)
	sort.Slice(tags, func(i, j int) bool {
		return tags[i].Less(tags[j])
	})

	for _, tag := range tags {
		parts = append(parts, tag.String())
	}

	return strings.Join(parts, "|")
}

// ParseTag turns the wire form 'replica:counter'
// of a tag back into a Tag.
func ParseTag(raw string) (Tag, error) {

	// Replica names may contain colons themselves,
	// the counter always follows the last one.
	idx := strings.LastIndex(raw, ":")
	if idx < 1 {
		return Tag{}, fmt.Errorf("invalid tag '%s'", raw)
	}

	counter, err := strconv.ParseUint(raw[(idx+1):], 10, 64)
	if err != nil {
		return Tag{}, fmt.Errorf("invalid counter in tag '%s'", raw)
	}

	return Tag{
		Replica: raw[:idx],
		Counter: counter,
	}, nil
}

// ParseOp takes in a marshalled (string) version of an ORSetOp
// taken from network communication and turns it back into the
// defined struct representation.
func ParseOp(msgRaw string) (*ORSetOp[string], error) {

	// Split message at pipe delimiters.
	parts := strings.Split(msgRaw, "|")

	// Every update message at least names operation
	// and value: operation|value.
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid CRDT update message found during parsing")
	}

	// Considering the ORSet, we only accept add and remove updates.
	if (parts[0] != OpAdd) && (parts[0] != OpRmv) {
		return nil, fmt.Errorf("unsupported update operation specified in CRDT message")
	}

	// An add always carries the single tag it minted.
	if (parts[0] == OpAdd) && (len(parts) != 3) {
		return nil, fmt.Errorf("add operation needs exactly one tag")
	}

	value, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid value encoding in CRDT message: %v", err)
	}

	op := &ORSetOp[string]{
		Operation: parts[0],
		Value:     string(value),
		Tags:      make([]Tag, 0, (len(parts) - 2)),
	}

	for _, rawTag := range parts[2:] {

		tag, err := ParseTag(rawTag)
		if err != nil {
			return nil, err
		}

		op.Tags = append(op.Tags, tag)
	}

	return op, nil
}
