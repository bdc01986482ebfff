package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
	"github.com/kzinvogon/apoyar-chat/internal/events"
	"github.com/kzinvogon/apoyar-chat/internal/ws"
)

func TestMessageAppendPersistsThenBroadcasts(t *testing.T) {
	fx := newSessionFixture(time.Hour)
	ctx := context.Background()

	session, err := fx.svc.Start(ctx, customerIdentity("c1"))
	require.NoError(t, err)

	message, err := fx.msgSvc.Append(ctx, customerIdentity("c1"), MessageInput{
		SessionID: session.ID,
		Content:   "  hello there  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", message.Body)
	assert.Equal(t, domain.MessageTypeText, message.MessageType)
	assert.Equal(t, domain.SenderCustomer, message.SenderRole)

	stored := fx.messages.bySession(session.ID)
	require.Len(t, stored, 1)
	assert.Equal(t, message.ID, stored[0].ID)

	broadcasts := fx.cast.framesOf(ws.FrameMessage)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, session.ID, broadcasts[0].sessionID)
	payload, ok := broadcasts[0].frame.Payload.(ws.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, message.ID, payload.MessageID)
	assert.Equal(t, "hello there", payload.Content)
	assert.Equal(t, "customer", payload.SenderRole)

	added := fx.bus.ofType(events.EventMessageAdded)
	require.Len(t, added, 1)
	eventPayload, ok := added[0].Payload.(events.MessageAddedPayload)
	require.True(t, ok)
	assert.Equal(t, "hello there", eventPayload.BodyPreview)
}

func TestMessageAppendFailsClosed(t *testing.T) {
	fx := newSessionFixture(time.Hour)
	ctx := context.Background()

	session, err := fx.svc.Start(ctx, customerIdentity("c1"))
	require.NoError(t, err)

	fx.messages.createErr = errors.New("connection reset")

	_, err = fx.msgSvc.Append(ctx, customerIdentity("c1"), MessageInput{
		SessionID: session.ID,
		Content:   "lost forever",
	})
	require.Error(t, err)

	// Nothing may reach other participants when persistence failed.
	assert.Empty(t, fx.cast.framesOf(ws.FrameMessage))
	assert.Empty(t, fx.bus.ofType(events.EventMessageAdded))
}

func TestMessageAppendValidation(t *testing.T) {
	fx := newSessionFixture(time.Hour)
	ctx := context.Background()

	session, err := fx.svc.Start(ctx, customerIdentity("c1"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		identity domain.Identity
		input    MessageInput
		wantCode string
	}{
		{"blank text", customerIdentity("c1"), MessageInput{SessionID: session.ID, Content: "   "}, "VALIDATION_FAILED"},
		{"file without ref", customerIdentity("c1"), MessageInput{SessionID: session.ID, Type: "file"}, "VALIDATION_FAILED"},
		{"system type from client", customerIdentity("c1"), MessageInput{SessionID: session.ID, Type: "system", Content: "x"}, "VALIDATION_FAILED"},
		{"unknown type", customerIdentity("c1"), MessageInput{SessionID: session.ID, Type: "video", Content: "x"}, "VALIDATION_FAILED"},
		{"non participant", customerIdentity("c2"), MessageInput{SessionID: session.ID, Content: "hi"}, "NOT_PARTICIPANT"},
		{"unknown session", customerIdentity("c1"), MessageInput{SessionID: "nope", Content: "hi"}, "NOT_FOUND"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.msgSvc.Append(ctx, tc.identity, tc.input)
			assert.Equal(t, tc.wantCode, domainCode(t, err))
		})
	}

	require.NoError(t, fx.svc.Close(ctx, customerIdentity("c1"), session.ID))
	_, err = fx.msgSvc.Append(ctx, customerIdentity("c1"), MessageInput{SessionID: session.ID, Content: "hi"})
	assert.Equal(t, "CONFLICT", domainCode(t, err))
}

func TestMessageAppendFile(t *testing.T) {
	fx := newSessionFixture(time.Hour)
	ctx := context.Background()

	session, err := fx.svc.Start(ctx, customerIdentity("c1"))
	require.NoError(t, err)

	message, err := fx.msgSvc.Append(ctx, customerIdentity("c1"), MessageInput{
		SessionID: session.ID,
		Type:      "file",
		Content:   "quarterly report",
		FileRef:   "uploads/acme/report.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeFile, message.MessageType)
	require.NotNil(t, message.FileRef)
	assert.Equal(t, "uploads/acme/report.pdf", *message.FileRef)
}

func TestMessageBodyPreviewTruncates(t *testing.T) {
	fx := newSessionFixture(time.Hour)
	ctx := context.Background()

	session, err := fx.svc.Start(ctx, customerIdentity("c1"))
	require.NoError(t, err)

	long := strings.Repeat("status update ", 20)
	_, err = fx.msgSvc.Append(ctx, customerIdentity("c1"), MessageInput{
		SessionID: session.ID,
		Content:   long,
	})
	require.NoError(t, err)

	added := fx.bus.ofType(events.EventMessageAdded)
	require.Len(t, added, 1)
	payload, ok := added[0].Payload.(events.MessageAddedPayload)
	require.True(t, ok)
	assert.LessOrEqual(t, len(payload.BodyPreview), 120)
	assert.True(t, strings.HasSuffix(payload.BodyPreview, "..."))
}

func TestMessageBodyPreviewKeepsRuneBoundaries(t *testing.T) {
	// Two-byte runes force the byte cut to land mid-character.
	preview := bodyPreview(strings.Repeat("é", 70), 120)

	assert.True(t, utf8.ValidString(preview))
	assert.LessOrEqual(t, len(preview), 120)
	assert.True(t, strings.HasSuffix(preview, "..."))
	assert.True(t, strings.HasPrefix(preview, "é"))
}

func TestMessageTypingExcludesSender(t *testing.T) {
	fx := newSessionFixture(time.Hour)
	ctx := context.Background()

	session, err := fx.svc.Start(ctx, customerIdentity("c1"))
	require.NoError(t, err)

	require.NoError(t, fx.msgSvc.Typing(ctx, customerIdentity("c1"), session.ID))

	typing := fx.cast.framesOf(ws.FrameTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, "session_except", typing[0].op)
	assert.Equal(t, "c1", typing[0].userID)

	// Typing indicators are transient; nothing lands in the transcript.
	assert.Empty(t, fx.messages.bySession(session.ID))
}

func TestMessageMarkRead(t *testing.T) {
	fx := newSessionFixture(time.Hour)
	ctx := context.Background()

	session, err := fx.svc.Start(ctx, customerIdentity("c1"))
	require.NoError(t, err)
	require.NoError(t, fx.svc.Claim(ctx, agentIdentity("a1"), session.ID))

	for _, body := range []string{"first", "second"} {
		_, err := fx.msgSvc.Append(ctx, customerIdentity("c1"), MessageInput{SessionID: session.ID, Content: body})
		require.NoError(t, err)
	}

	count, err := fx.msgSvc.MarkRead(ctx, agentIdentity("a1"), session.ID)
	require.NoError(t, err)
	// The claim hand-off note counts too; it was authored by nobody.
	assert.Equal(t, int64(3), count)

	receipts := fx.cast.framesOf(ws.FrameRead)
	require.Len(t, receipts, 1)
	payload, ok := receipts[0].frame.Payload.(ws.ReadReceiptEvent)
	require.True(t, ok)
	assert.Equal(t, "a1", payload.ReaderID)
	assert.Equal(t, int64(3), payload.Count)

	// Second pass finds nothing unread and stays silent.
	count, err = fx.msgSvc.MarkRead(ctx, agentIdentity("a1"), session.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Len(t, fx.cast.framesOf(ws.FrameRead), 1)
}

func TestMessageHistoryAccess(t *testing.T) {
	fx := newSessionFixture(time.Hour)
	ctx := context.Background()

	session, err := fx.svc.Start(ctx, customerIdentity("c1"))
	require.NoError(t, err)
	_, err = fx.msgSvc.Append(ctx, customerIdentity("c1"), MessageInput{SessionID: session.ID, Content: "hello"})
	require.NoError(t, err)

	_, err = fx.msgSvc.History(ctx, customerIdentity("c2"), session.ID, 0, 0)
	assert.Equal(t, "NOT_PARTICIPANT", domainCode(t, err))

	history, err := fx.msgSvc.History(ctx, adminIdentity("boss"), session.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// Transcripts stay readable after close.
	require.NoError(t, fx.svc.Close(ctx, customerIdentity("c1"), session.ID))
	history, err = fx.msgSvc.History(ctx, customerIdentity("c1"), session.ID, 0, 0)
	require.NoError(t, err)
	// Close appended its own system note.
	assert.Len(t, history, 2)
}

func TestLifecycleSystemNotes(t *testing.T) {
	fx := newSessionFixture(time.Hour)
	ctx := context.Background()

	session, err := fx.svc.Start(ctx, customerIdentity("c1"))
	require.NoError(t, err)
	require.NoError(t, fx.svc.Claim(ctx, agentIdentity("a1"), session.ID))
	require.NoError(t, fx.svc.Close(ctx, agentIdentity("a1"), session.ID))

	notes := fx.messages.bySession(session.ID)
	require.Len(t, notes, 2)
	for _, note := range notes {
		assert.Equal(t, domain.SenderSystem, note.SenderRole)
		assert.Equal(t, domain.MessageTypeSystem, note.MessageType)
		assert.Nil(t, note.SenderID)
	}
	assert.Equal(t, "Agent a1 joined the conversation", notes[0].Body)
	assert.Equal(t, "Session closed", notes[1].Body)
}
