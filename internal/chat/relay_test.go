package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayPatchesPlaceholder(t *testing.T) {
	messenger := &fakeMessenger{}
	relay := NewRelay(context.Background(), messenger, "om_placeholder", testLogger())

	require.NoError(t, relay.OnPartial("partial text", "", false))
	require.NoError(t, relay.OnPartial("full text", "input:1 output:2 ", true))

	patches := messenger.patchedCards()
	require.Len(t, patches, 2)
	assert.Contains(t, patches[0], "partial text")
	assert.Contains(t, patches[1], "input:1 output:2 ")
}

func TestRelayToleratesIntermediateEditFailure(t *testing.T) {
	messenger := &fakeMessenger{patchErr: errors.New("rate limited")}
	relay := NewRelay(context.Background(), messenger, "om_placeholder", testLogger())

	assert.NoError(t, relay.OnPartial("partial", "", false), "dropped intermediate edit is not an error")
	assert.Error(t, relay.OnPartial("final", "note ", true), "failed final edit must surface")
}
