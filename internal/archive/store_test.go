package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/physio-voice-booking/internal/consultation"
	"github.com/wolfman30/physio-voice-booking/internal/session"
)

// mockS3Client records PutObject/GetObject calls.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	getErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{bucket: *input.Bucket, key: *input.Key, body: body})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func fixedStore(mock S3API) *Store {
	store := NewStore(mock, "test-bucket", nil)
	store.now = func() time.Time { return time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC) }
	return store
}

func TestStore_ArchiveCall(t *testing.T) {
	mock := newMockS3()
	store := fixedStore(mock)

	ended := time.Date(2026, 2, 12, 14, 30, 0, 0, time.UTC)
	record := &CallRecord{
		Version:   RecordVersion,
		SessionID: "sess-123",
		Epoch:     2,
		PhoneHash: HashPhone("9876543210"),
		EndedAt:   ended,
		TurnCount: 2,
		Outcome:   OutcomeBooked,
		Turns: []Turn{
			{Speaker: "user", Text: "I have knee pain", Timestamp: ended},
			{Speaker: "agent", Text: "Sorry to hear that.", Timestamp: ended},
		},
	}

	require.NoError(t, store.ArchiveCall(context.Background(), record))
	require.Len(t, mock.putCalls, 2, "record then manifest")
	assert.Equal(t, "calls/v1/by-date/2026/02/12/sess-123-2.json", mock.putCalls[0].key)
	assert.Equal(t, "test-bucket", mock.putCalls[0].bucket)

	var decoded CallRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &decoded))
	assert.Equal(t, "sess-123", decoded.SessionID)

	assert.Equal(t, "calls/v1/manifests/2026-02.jsonl", mock.putCalls[1].key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry))
	assert.Equal(t, "sess-123", entry.SessionID)
	assert.Equal(t, OutcomeBooked, entry.Outcome)
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())
	assert.NoError(t, store.ArchiveCall(context.Background(), &CallRecord{}))
	assert.Nil(t, NewArchiver(store, nil))
}

func TestStore_ManifestAppend(t *testing.T) {
	mock := newMockS3()
	store := fixedStore(mock)

	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{SessionID: "s-1"}))
	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{SessionID: "s-2"}))

	lastPut := mock.putCalls[len(mock.putCalls)-1]
	lines := bytes.Split(bytes.TrimSpace(lastPut.body), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestStore_ManifestReadFailure(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := fixedStore(mock)

	err := store.AppendManifest(context.Background(), ManifestEntry{SessionID: "s-1"})
	assert.ErrorContains(t, err, "s3 get manifest")
	assert.Empty(t, mock.putCalls, "manifest must not be overwritten after a read failure")
}

func TestArchiverHandlesCallEnded(t *testing.T) {
	mock := newMockS3()
	archiver := NewArchiver(fixedStore(mock), nil)
	require.NotNil(t, archiver)

	started := time.Date(2026, 2, 12, 14, 0, 0, 0, time.UTC)
	payload := session.CallEndedPayload{
		Mobile:    "9876543210",
		StartedAt: started,
		EndedAt:   started.Add(90 * time.Second),
		Transcript: []session.TranscriptEntry{
			{Speaker: "user", Text: "my number is 9876543210", At: started},
			{Speaker: "user", Text: "I'd like the Online consultation.", Synthetic: true, At: started},
		},
		Record: consultation.Record{
			Symptoms:         []consultation.Symptom{{Symptom: "knee pain"}},
			AssessmentStatus: consultation.StatusInProgress,
			Appointment: &consultation.Appointment{
				Type: consultation.TypeOnline, Location: consultation.TBD, BookingID: "REF1",
			},
		},
	}

	require.NoError(t, archiver.Handle(context.Background(), session.Event{Type: session.EventTranscript, SessionID: "s"}))
	assert.Empty(t, mock.putCalls)

	evt := session.Event{Type: session.EventCallEnded, SessionID: "sess-1", Epoch: 1, Payload: payload}
	require.NoError(t, archiver.Handle(context.Background(), evt))
	require.NotEmpty(t, mock.putCalls)

	var rec CallRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &rec))
	assert.Equal(t, OutcomeBooked, rec.Outcome)
	assert.Equal(t, 90, rec.DurationSeconds)
	assert.Equal(t, HashPhone("9876543210"), rec.PhoneHash)
	assert.Equal(t, "my number is [PHONE]", rec.Turns[0].Text)
	assert.True(t, rec.Turns[1].Synthetic)
	assert.Equal(t, []string{"knee pain"}, rec.Summary.Symptoms)
	assert.Equal(t, "Online", rec.Summary.ConsultationType)
	assert.Empty(t, rec.Summary.Location)
	assert.Equal(t, "REF1", rec.Summary.BookingID)
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeAbandoned, outcomeOf(consultation.NewRecord()))
	assert.Equal(t, OutcomeAssessed, outcomeOf(consultation.Record{AssessmentStatus: consultation.StatusInProgress}))
	assert.Equal(t, OutcomeAssessed, outcomeOf(consultation.Record{
		Appointment: &consultation.Appointment{BookingID: consultation.TBD},
		Symptoms:    []consultation.Symptom{{Symptom: "back pain"}},
	}))
}
