package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/store/storetest"
)

func newTestAuditStore(t *testing.T) *AuditStore {
	t.Helper()
	return NewAuditStore(storetest.NewProject(t, "audit").DB())
}

func TestAuditStore_Append(t *testing.T) {
	s := newTestAuditStore(t)

	fileID := uint(7)
	event := &models.AuditEvent{
		Operation: OpTag,
		FileID:    &fileID,
		Path:      "evidence/a.pdf",
		Actor:     "alice",
		Detail:    models.JSONAny{"tag": "classified"},
	}
	require.NoError(t, s.Append(event))
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())

	events, next, total, err := s.List(Filter{FileID: &fileID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Empty(t, next)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Actor)
	assert.Equal(t, "classified", events[0].Detail["tag"])
}

func TestAuditStore_ListFiltersAndPages(t *testing.T) {
	s := newTestAuditStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		op := OpIngest
		if i%2 == 1 {
			op = OpSign
		}
		require.NoError(t, s.Append(&models.AuditEvent{
			ChainID:   "chain-1",
			Operation: op,
			Actor:     "alice",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	signs, _, total, err := s.List(Filter{Operation: OpSign})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, signs, 2)

	page1, token, total, err := s.List(Filter{ChainID: "chain-1", PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page1, 3)
	require.NotEmpty(t, token)
	assert.True(t, page1[0].CreatedAt.After(page1[2].CreatedAt), "newest first")

	page2, token, _, err := s.List(Filter{ChainID: "chain-1", PageSize: 3, PageToken: token})
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.Empty(t, token)

	_, _, _, err = s.List(Filter{PageToken: "yesterday"})
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	s := newTestAuditStore(t)

	r := NewRecorder(nil, "alice", nil)
	assert.Equal(t, "alice", r.Actor())
	require.NoError(t, r.Record(s, Entry{Operation: OpIngest, Path: "a.txt"}))
	r.RecordFailure(s, Entry{Operation: OpEditDenied, Path: "a.txt", Detail: models.JSONAny{"op": "write"}}, errors.New("immutable"))

	events, _, total, err := s.List(Filter{Operation: OpEditDenied})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "immutable", events[0].Detail["error"])
	assert.Equal(t, "write", events[0].Detail["op"])

	quiet := NewRecorder(&AuditConfig{Enabled: true, LogFailures: false}, "", nil)
	assert.Equal(t, "unknown", quiet.Actor())
	quiet.RecordFailure(s, Entry{Operation: OpEditDenied}, errors.New("x"))

	off := NewRecorder(&AuditConfig{Enabled: false}, "bob", nil)
	require.NoError(t, off.Record(s, Entry{Operation: OpIngest}))

	_, _, total, err = s.List(Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
