package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/expense-tracker/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndGet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	job := &jobs.ImportJob{JobID: "j1", UserID: "u1", Data: []byte("payload"), Status: jobs.JobStatusPending}
	require.NoError(t, s.SaveJob(ctx, job))

	job.Status = jobs.JobStatusRunning
	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status, "stored copy is isolated from the caller")
	assert.Nil(t, got.Data, "payload is not kept in the store")

	_, err = s.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, jobs.ErrJobNotFound))

	assert.Error(t, s.SaveJob(ctx, &jobs.ImportJob{}))
}

func TestStore_ListJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, j := range []*jobs.ImportJob{
		{JobID: "c", UserID: "u1", CreatedAt: base.Add(2 * time.Minute), Status: jobs.JobStatusCompleted},
		{JobID: "a", UserID: "u1", CreatedAt: base, Status: jobs.JobStatusFailed},
		{JobID: "b", UserID: "u2", CreatedAt: base.Add(time.Minute), Status: jobs.JobStatusCompleted},
		{JobID: "d", UserID: "u1", CreatedAt: base.Add(3 * time.Minute), Status: jobs.JobStatusCompleted},
	} {
		require.NoError(t, s.SaveJob(ctx, j), i)
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all", jobs.JobFilter{}, []string{"a", "b", "c", "d"}},
		{"by user", jobs.JobFilter{UserID: "u1"}, []string{"a", "c", "d"}},
		{"by status", jobs.JobFilter{UserID: "u1", Status: jobs.JobStatusCompleted}, []string{"c", "d"}},
		{"limit", jobs.JobFilter{Limit: 2}, []string{"a", "b"}},
		{"offset", jobs.JobFilter{Offset: 3}, []string{"d"}},
		{"offset past end", jobs.JobFilter{Offset: 10}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			ids := []string{}
			for _, j := range list {
				ids = append(ids, j.JobID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
