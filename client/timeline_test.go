package client

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hire-chat/domain"
	"hire-chat/domain/event"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func message(n int) domain.Message {
	return domain.Message{
		ID:         domain.MessageID(fmt.Sprintf("m%03d", n)),
		ThreadID:   "t1",
		SenderID:   "employer-1",
		ReceiverID: "candidate-1",
		Body:       fmt.Sprintf("message %d", n),
		CreatedAt:  t0.Add(time.Duration(n) * time.Second),
	}
}

func messages(from, to int) []domain.Message {
	var res []domain.Message
	for n := from; n <= to; n++ {
		res = append(res, message(n))
	}
	return res
}

func ids(records []Record) []string {
	res := make([]string, 0, len(records))
	for _, r := range records {
		res = append(res, r.Key())
	}
	return res
}

func TestTimeline_AckConfirmsPendingInPlace(t *testing.T) {
	req := require.New(t)
	tl := NewTimeline("t1")
	tl.Prepend(messages(1, 2))

	// Given a pending message followed by an incoming one
	tl.AddPending("c1", domain.Message{ThreadID: "t1", SenderID: "candidate-1", Body: "hi"}, t0)
	req.True(tl.Consume(event.MessageNew{Message: message(3)}))
	req.Equal([]string{"m001", "m002", "m003", "tmp:c1"}, ids(tl.Records()))

	// When the ack arrives
	changed := tl.Consume(event.MessageAck{ThreadID: "t1", ClientMessageID: "c1", ID: "m004", CreatedAt: t0.Add(4 * time.Second)})

	// Then the pending entry became exactly one confirmed message where it stood
	req.True(changed)
	records := tl.Records()
	req.Equal([]string{"m001", "m002", "m003", "m004"}, ids(records))
	req.Equal(Confirmed, records[3].Status)
	req.Equal("c1", records[3].TempID)
	req.Equal("hi", records[3].Message.Body)
	req.Empty(tl.Pending())

	// And a replayed ack changes nothing
	req.False(tl.Consume(event.MessageAck{ThreadID: "t1", ClientMessageID: "c1", ID: "m004"}))
	req.Len(tl.Records(), 4)
}

func TestTimeline_IncomingMessagesStayBeforePending(t *testing.T) {
	req := require.New(t)
	tl := NewTimeline("t1")

	tl.AddPending("c1", domain.Message{Body: "first"}, t0)
	tl.AddPending("c2", domain.Message{Body: "second"}, t0)
	tl.Consume(event.MessageNew{Message: message(1)})

	req.Equal([]string{"m001", "tmp:c1", "tmp:c2"}, ids(tl.Records()))
	req.Len(tl.Pending(), 2)
}

func TestTimeline_HistoryBackfillDeduplicates(t *testing.T) {
	req := require.New(t)
	tl := NewTimeline("t1")

	// Given the latest 30 messages are loaded
	req.Equal(30, tl.Prepend(messages(71, 100)))
	oldest, ok := tl.Oldest()
	req.True(ok)
	req.Equal(domain.MessageID("m071"), oldest.ID)

	// When an older page overlapping by one message is prepended
	added := tl.Prepend(messages(41, 71))

	// Then m071 is not duplicated and the order holds
	req.Equal(30, added)
	records := tl.Records()
	req.Len(records, 60)
	req.Equal("m041", records[0].Key())
	req.Equal("m100", records[59].Key())
	for i := 1; i < len(records); i++ {
		req.True(records[i-1].Message.Before(records[i].Message))
	}
}

func TestTimeline_ReadReceiptAndForeignThread(t *testing.T) {
	req := require.New(t)
	tl := NewTimeline("t1")
	tl.Prepend(messages(1, 3))

	req.True(tl.Consume(event.ReadReceipt{ThreadID: "t1", MessageIDs: []domain.MessageID{"m001", "m003"}}))
	records := tl.Records()
	req.True(records[0].Message.IsRead)
	req.False(records[1].Message.IsRead)
	req.True(records[2].Message.IsRead)

	// Already read
	req.False(tl.Consume(event.ReadReceipt{ThreadID: "t1", MessageIDs: []domain.MessageID{"m001"}}))

	other := message(9)
	other.ThreadID = "t2"
	req.False(tl.Consume(event.MessageNew{Message: other}))
	req.Len(tl.Records(), 3)
}

func TestTimeline_AckAfterRefetch(t *testing.T) {
	req := require.New(t)
	tl := NewTimeline("t1")

	// Given the sent message came back with a history refetch before its ack
	tl.AddPending("c1", domain.Message{Body: "hi"}, t0)
	mine := message(5)
	tl.Prepend([]domain.Message{mine})

	// When the ack arrives
	req.True(tl.Consume(event.MessageAck{ThreadID: "t1", ClientMessageID: "c1", ID: mine.ID, CreatedAt: mine.CreatedAt}))

	// Then only one copy remains
	req.Equal([]string{"m005"}, ids(tl.Records()))
}

func TestTimeline_RefusedSendFailsAndRetries(t *testing.T) {
	req := require.New(t)
	tl := NewTimeline("t1")
	tl.AddPending("c1", domain.Message{ThreadID: "t1", SenderID: "candidate-1", Body: "hi"}, t0)

	// Errors about other commands leave it alone
	req.False(tl.Consume(event.Error{Code: "validation", ThreadID: "t1"}))
	req.Len(tl.Pending(), 1)

	// When the server refuses the send
	req.True(tl.Consume(event.Error{Code: "rate_limited", ThreadID: "t1", ClientMessageID: "c1"}))

	// Then the record is flagged, not dropped
	records := tl.Records()
	req.Equal([]string{"tmp:c1"}, ids(records))
	req.Equal(Failed, records[0].Status)
	req.Equal("rate_limited", records[0].Error)
	req.Empty(tl.Pending())
	req.Len(tl.Failed(), 1)

	// And incoming messages still go before it
	req.True(tl.Consume(event.MessageNew{Message: message(1)}))
	req.Equal([]string{"m001", "tmp:c1"}, ids(tl.Records()))

	// When it is sent again then acknowledged
	m, ok := tl.Retry("c1", t0.Add(time.Minute))
	req.True(ok)
	req.Equal("hi", m.Body)
	_, ok = tl.Retry("c1", t0.Add(time.Minute))
	req.False(ok)
	req.True(tl.Consume(event.MessageAck{ThreadID: "t1", ClientMessageID: "c1", ID: "m002", CreatedAt: t0.Add(2 * time.Second)}))
	req.Equal([]string{"m001", "m002"}, ids(tl.Records()))
	req.Empty(tl.Failed())
}
