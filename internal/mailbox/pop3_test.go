package mailbox

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/knadh/go-pop3"
	"github.com/stretchr/testify/require"

	"github.com/salahWD/salla-verify-bot/internal/credstore"
)

type fakePOP3Conn struct {
	msgs    map[int][]byte
	uidl    []pop3.MessageID
	authErr error
	retrErr error

	authUser  string
	authPass  string
	quitCalls int
	retrIDs   []int
}

func (c *fakePOP3Conn) Auth(user, password string) error {
	c.authUser = user
	c.authPass = password
	return c.authErr
}

func (c *fakePOP3Conn) Quit() error {
	c.quitCalls++
	return nil
}

func (c *fakePOP3Conn) Uidl(int) ([]pop3.MessageID, error) {
	return c.uidl, nil
}

func (c *fakePOP3Conn) RetrRaw(msgID int) (*bytes.Buffer, error) {
	c.retrIDs = append(c.retrIDs, msgID)
	if c.retrErr != nil {
		return nil, c.retrErr
	}
	return bytes.NewBuffer(append([]byte(nil), c.msgs[msgID]...)), nil
}

func pop3FetcherFor(conn *fakePOP3Conn) *POP3Fetcher {
	return NewPOP3Fetcher("pop.example", 995,
		withPOP3ConnFactory(func() (pop3Connection, error) { return conn, nil }),
	)
}

func rawMail(subject, date, body string) []byte {
	return []byte("From: shop@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: " + date + "\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		body)
}

func TestPOP3NewestPicksHighestID(t *testing.T) {
	conn := &fakePOP3Conn{
		uidl: []pop3.MessageID{{ID: 1, UID: "a"}, {ID: 3, UID: "c"}, {ID: 2, UID: "b"}},
		msgs: map[int][]byte{
			3: rawMail("your verification code", "Mon, 02 Jun 2025 12:00:00 +0000", "alice,\r\nAB12C\r\n"),
		},
	}

	bundle := credstore.Bundle{AccountID: "inbox@example.com", AccessToken: "app-pass"}
	env, err := pop3FetcherFor(conn).Newest(context.Background(), bundle, Query{Search: "verification"})
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Equal(t, "c", env.ID)
	require.Equal(t, []int{3}, conn.retrIDs)
	require.Equal(t, "your verification code", env.Subject)
	require.Equal(t, time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC).Unix(), env.InternalDate.Unix())
	require.Equal(t, "alice,\r\nAB12C\r\n", DecodeBody(env))

	require.Equal(t, "inbox@example.com", conn.authUser)
	require.Equal(t, "app-pass", conn.authPass)
	require.Equal(t, 1, conn.quitCalls)
}

func TestPOP3NewestFiltersSearchTerm(t *testing.T) {
	conn := &fakePOP3Conn{
		uidl: []pop3.MessageID{{ID: 1, UID: "a"}},
		msgs: map[int][]byte{
			1: rawMail("newsletter", "Mon, 02 Jun 2025 12:00:00 +0000", "weekly deals"),
		},
	}

	env, err := pop3FetcherFor(conn).Newest(context.Background(), credstore.Bundle{AccessToken: "p"}, Query{Search: "verification"})
	require.NoError(t, err)
	require.Nil(t, env)
}

func TestPOP3NewestEmptyMailbox(t *testing.T) {
	conn := &fakePOP3Conn{}
	env, err := pop3FetcherFor(conn).Newest(context.Background(), credstore.Bundle{AccessToken: "p"}, Query{})
	require.NoError(t, err)
	require.Nil(t, env)
	require.Equal(t, 1, conn.quitCalls)
}

func TestPOP3NewestAuthFailure(t *testing.T) {
	conn := &fakePOP3Conn{authErr: errors.New("bad creds")}
	_, err := pop3FetcherFor(conn).Newest(context.Background(), credstore.Bundle{AccessToken: "p"}, Query{})
	require.Error(t, err)
}
