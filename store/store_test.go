package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frank-leitner/smtp4dev/helpers"
	"github.com/frank-leitner/smtp4dev/server/idgen"
)

func openTestStore(t *testing.T, messagesToKeep int) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), messagesToKeep)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testMessage(mailbox string, receivedAt time.Time) *Message {
	data := []byte("Subject: test\r\n\r\nbody\r\n")
	return &Message{
		ID:             idgen.New(),
		Mailbox:        mailbox,
		Sender:         "sender@example.com",
		Recipient:      "user@example.com",
		Subject:        "test",
		ClientHostname: "client.example.org",
		ClientIP:       "203.0.113.9",
		ReceivedAt:     receivedAt,
		Size:           int64(len(data)),
		ContentHash:    helpers.HashContent(data),
		Data:           data,
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	msg := testMessage("Inbox", time.Now().UTC())
	require.NoError(t, s.Save(ctx, msg))

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Mailbox, got.Mailbox)
	assert.Equal(t, msg.Sender, got.Sender)
	assert.Equal(t, msg.Recipient, got.Recipient)
	assert.Equal(t, msg.ContentHash, got.ContentHash)
	assert.Equal(t, msg.Data, got.Data)
}

func TestListMessagesNewestFirst(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		msg := testMessage("Inbox", base.Add(time.Duration(i)*time.Minute))
		msg.Subject = fmt.Sprintf("message %d", i)
		require.NoError(t, s.Save(ctx, msg))
		ids = append(ids, msg.ID)
	}

	messages, err := s.ListMessages(ctx, "Inbox")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, ids[2], messages[0].ID)
	assert.Equal(t, ids[0], messages[2].ID)
	// Listings omit the raw data.
	assert.Nil(t, messages[0].Data)

	other, err := s.ListMessages(ctx, "Other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRetentionCapPrunesOldest(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 4; i++ {
		msg := testMessage("Inbox", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Save(ctx, msg))
		ids = append(ids, msg.ID)
	}

	messages, err := s.ListMessages(ctx, "Inbox")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, ids[3], messages[0].ID)
	assert.Equal(t, ids[2], messages[1].ID)

	// The pruned messages are gone.
	_, err = s.GetMessage(ctx, ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetentionIsPerMailbox(t *testing.T) {
	s := openTestStore(t, 1)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.Save(ctx, testMessage("A", now)))
	require.NoError(t, s.Save(ctx, testMessage("B", now)))

	countA, err := s.MessageCount(ctx, "A")
	require.NoError(t, err)
	countB, err := s.MessageCount(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(1), countA)
	assert.Equal(t, int64(1), countB)
}

func TestDeleteMessage(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	msg := testMessage("Inbox", time.Now().UTC())
	require.NoError(t, s.Save(ctx, msg))

	require.NoError(t, s.DeleteMessage(ctx, msg.ID))
	_, err := s.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteMessage(ctx, "does-not-exist"), ErrNotFound)
}

func TestDeleteMailboxMessages(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.Save(ctx, testMessage("Inbox", now)))
	require.NoError(t, s.Save(ctx, testMessage("Inbox", now.Add(time.Second))))
	require.NoError(t, s.Save(ctx, testMessage("Other", now)))

	deleted, err := s.DeleteMailboxMessages(ctx, "Inbox")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := s.MessageCount(ctx, "Other")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir, 0)
	require.NoError(t, err)
	require.NoError(t, s1.Save(context.Background(), testMessage("Inbox", time.Now().UTC())))
	require.NoError(t, s1.Close())

	// Reopening runs migrations again as a no-op and sees existing data.
	s2, err := Open(dir, 0)
	require.NoError(t, err)
	defer s2.Close()

	count, err := s2.MessageCount(context.Background(), "Inbox")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
