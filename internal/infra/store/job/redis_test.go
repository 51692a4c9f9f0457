package jobstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dskam73/interview-automation/internal/domain"
)

// stubCmdable backs the two commands Update touches with a plain map. The
// embedded interface panics on anything else, which doubles as an assertion
// that Update issues no other commands.
type stubCmdable struct {
	redis.Cmdable
	data map[string]string
}

func (s *stubCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if v, ok := s.data[key]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (s *stubCmdable) SetXX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := s.data[key]; !ok {
		cmd.SetVal(false)
		return cmd
	}
	s.data[key] = string(value.([]byte))
	cmd.SetVal(true)
	return cmd
}

func seedStub(t *testing.T, stub *stubCmdable, job domain.Job) {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	stub.data[jobKey(job.ID)] = string(data)
}

func TestRedisStore_UpdatePublishesMutatedDocument(t *testing.T) {
	stub := &stubCmdable{data: map[string]string{}}
	store := NewRedisStore(stub)
	seedStub(t, stub, domain.Job{ID: "j1", State: domain.JobState{Status: domain.StatusQueued}})

	err := store.Update(context.Background(), "j1", func(j *domain.Job) {
		j.State.Status = domain.StatusRunning
	})
	require.NoError(t, err)

	var job domain.Job
	require.NoError(t, json.Unmarshal([]byte(stub.data[jobKey("j1")]), &job))
	assert.Equal(t, domain.StatusRunning, job.State.Status)
}

func TestRedisStore_UpdateDoesNotResurrectEvictedJob(t *testing.T) {
	stub := &stubCmdable{data: map[string]string{}}
	store := NewRedisStore(stub)
	seedStub(t, stub, domain.Job{ID: "j1", State: domain.JobState{Status: domain.StatusRunning}})

	// the eviction pass deletes the key after the read but before the
	// write-back; the publish must fail instead of leaving an orphan
	// document with no index entry
	err := store.Update(context.Background(), "j1", func(j *domain.Job) {
		delete(stub.data, jobKey("j1"))
		j.State.Status = domain.StatusCompleted
	})

	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.NotContains(t, stub.data, jobKey("j1"))
}

func TestRedisStore_UpdateMissingJob(t *testing.T) {
	store := NewRedisStore(&stubCmdable{data: map[string]string{}})

	err := store.Update(context.Background(), "missing", func(j *domain.Job) {})
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
