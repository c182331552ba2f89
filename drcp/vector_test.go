package drcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorPackRoundTrip(t *testing.T) {
	var in [MaxConversationIDs]bool
	for cid := 0; cid < MaxConversationIDs; cid++ {
		in[cid] = cid%3 == 0 || cid == 4095
	}
	packed := packVector(&in)
	assert.Len(t, packed, MaxConversationIDs/8)

	var out [MaxConversationIDs]bool
	unpackVector(packed, &out)
	assert.Equal(t, in, out)
}

func TestVectorUnpackShortBuffer(t *testing.T) {
	var out [MaxConversationIDs]bool
	out[100] = true
	unpackVector([]byte{0x01}, &out)
	assert.True(t, out[0])
	assert.False(t, out[100], "bits beyond the buffer clear")
}
