package mailbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/salahWD/salla-verify-bot/internal/credstore"
)

type stubFetcher struct{ name string }

func (s stubFetcher) Name() string { return s.name }
func (s stubFetcher) Newest(context.Context, credstore.Bundle, Query) (*Envelope, error) {
	return nil, nil
}

func TestFactoryResolvesByType(t *testing.T) {
	factory := NewFactory(
		WithFetcher(stubFetcher{name: "gmail"}, "gmail"),
		WithFetcher(stubFetcher{name: "imap"}, "imap", "imaps"),
	)

	f, err := factory.FetcherFor("gmail")
	require.NoError(t, err)
	require.Equal(t, "gmail", f.Name())

	f, err = factory.FetcherFor(" IMAPS ")
	require.NoError(t, err)
	require.Equal(t, "imap", f.Name())

	_, err = factory.FetcherFor("carrier-pigeon")
	require.Error(t, err)
}
