package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/dmitrijs2005/casesync/internal/binframe"
	"github.com/dmitrijs2005/casesync/internal/client/client"
	"github.com/dmitrijs2005/casesync/internal/client/models"
	"github.com/dmitrijs2005/casesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/vectorclock"
	"github.com/dmitrijs2005/casesync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSyncService(t *testing.T, fc *fakeClient, opts Options) (*SyncService, *client.Store) {
	t.Helper()
	store := newStore(t)
	if opts.Device == "" {
		opts.Device = "tab1"
	}
	return NewSyncService(fc, store, opts, discardLogger()), store
}

func remote(id string, rev int64) *wire.Case {
	return &wire.Case{ID: id, CaseIDs: id, Label: "server " + id, Clock: vectorclock.New("server", rev), Revision: rev}
}

func TestImport(t *testing.T) {
	s, store := newSyncService(t, &fakeClient{}, Options{})
	ctx := context.Background()

	n, err := s.Import(ctx, "HH", strings.NewReader(`[
		{"id":"C1","caseids":"001","label":"one","level-1":{"ID":"001"}},
		{"id":"c2","caseids":"002","label":"two","clock":[{"deviceId":"tab2","revision":3}]}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c1, err := store.Cases.Get(ctx, "HH", "c1")
	require.NoError(t, err)
	assert.True(t, c1.Dirty)
	assert.Equal(t, vectorclock.Clock{"tab1": 1}, c1.Case.Clock)
	assert.NotNil(t, c1.Case.LastModified)

	c2, err := store.Cases.Get(ctx, "HH", "c2")
	require.NoError(t, err)
	assert.Equal(t, vectorclock.Clock{"tab1": 1, "tab2": 3}, c2.Case.Clock)

	_, err = s.Import(ctx, "HH", strings.NewReader(`[{"id":"c1","label":"again"}]`))
	require.NoError(t, err)
	c1, err = store.Cases.Get(ctx, "HH", "c1")
	require.NoError(t, err)
	assert.Equal(t, "again", c1.Case.Label)
	assert.Equal(t, int64(2), c1.Case.Clock.Get("tab1"))
}

func TestImport_RejectsWholeBatch(t *testing.T) {
	s, store := newSyncService(t, &fakeClient{}, Options{})
	ctx := context.Background()

	_, err := s.Import(ctx, "HH", strings.NewReader(`[{"id":"ok"},{"id":"  "}]`))
	assert.ErrorIs(t, err, common.ErrValidation)

	c, err := store.Cases.Counts(ctx, "HH")
	require.NoError(t, err)
	assert.Zero(t, c.Total)
}

func TestUpload_NothingDirty(t *testing.T) {
	fc := &fakeClient{}
	s, _ := newSyncService(t, fc, Options{})

	rep, err := s.Upload(context.Background(), "HH")
	require.NoError(t, err)
	assert.Zero(t, rep.Uploaded)
	assert.Empty(t, fc.uploads)
}

func TestUpload_FramesLocalAttachments(t *testing.T) {
	fc := &fakeClient{uploadFn: func(_ context.Context, _ string, p client.UploadParams) (*client.UploadResult, error) {
		return &client.UploadResult{Revision: 7}, nil
	}}
	s, store := newSyncService(t, fc, Options{})
	ctx := context.Background()

	sig, err := s.AddAttachment(ctx, strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.Len(t, sig, 32)

	_, err = s.Import(ctx, "HH", strings.NewReader(fmt.Sprintf(`[
		{"id":"c1","level-1":{"PHOTO":{"signature":%q,"metadata":{"mime":"image/jpeg"}}}},
		{"id":"c2","level-1":{"PHOTO":{"signature":%q},"OTHER":{"signature":"missing"}}}
	]`, sig, sig)))
	require.NoError(t, err)

	rep, err := s.Upload(ctx, "HH")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Uploaded)
	assert.Equal(t, int64(7), rep.UploadRevision)
	assert.Equal(t, 1, rep.Attachments)

	require.Len(t, fc.uploads, 1)
	p := fc.uploads[0]
	assert.Zero(t, p.IfRevisionExists)
	assert.Len(t, p.Cases, 2)
	require.Len(t, p.Attachments, 1)
	assert.Equal(t, binframe.Descriptor{Signature: sig, CaseID: "c1", Metadata: []byte(`{"mime":"image/jpeg"}`)}, p.Attachments[0])
	assert.NotNil(t, p.Source)

	dirty, err := store.Cases.Dirty(ctx, "HH")
	require.NoError(t, err)
	assert.Empty(t, dirty)

	st, err := store.SyncState.Get(ctx, "HH")
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.LastPutRevision)
	assert.Equal(t, []int64{7}, st.OwnRevisions)

	// the next upload continues from the accepted revision
	_, err = s.Import(ctx, "HH", strings.NewReader(`[{"id":"c3"}]`))
	require.NoError(t, err)
	_, err = s.Upload(ctx, "HH")
	require.NoError(t, err)
	require.Len(t, fc.uploads, 2)
	assert.Equal(t, int64(7), fc.uploads[1].IfRevisionExists)
}

func TestUpload_PreconditionStartsOver(t *testing.T) {
	calls := 0
	fc := &fakeClient{uploadFn: func(_ context.Context, _ string, p client.UploadParams) (*client.UploadResult, error) {
		calls++
		if p.IfRevisionExists != 0 {
			return &client.UploadResult{PreconditionFailed: true, LastSync: &wire.SyncInfo{RevisionNumber: 2}}, nil
		}
		return &client.UploadResult{Revision: 9}, nil
	}}
	s, store := newSyncService(t, fc, Options{})
	ctx := context.Background()

	require.NoError(t, store.SyncState.Save(ctx, &models.SyncState{Dictionary: "HH", LastRevision: 30, LastPutRevision: 5}))
	_, err := s.Import(ctx, "HH", strings.NewReader(`[{"id":"c1"}]`))
	require.NoError(t, err)

	rep, err := s.Upload(ctx, "HH")
	require.NoError(t, err)
	assert.True(t, rep.Resynced)
	assert.Equal(t, 2, calls)

	st, err := store.SyncState.Get(ctx, "HH")
	require.NoError(t, err)
	assert.Equal(t, int64(9), st.LastPutRevision)
	assert.Zero(t, st.LastRevision)
}

func TestUpload_RejectedWithoutToken(t *testing.T) {
	fc := &fakeClient{uploadFn: func(context.Context, string, client.UploadParams) (*client.UploadResult, error) {
		return &client.UploadResult{PreconditionFailed: true}, nil
	}}
	s, store := newSyncService(t, fc, Options{})
	ctx := context.Background()
	require.NoError(t, store.SyncState.Save(ctx, &models.SyncState{Dictionary: "HH", LastPutRevision: 5}))
	_, err := s.Import(ctx, "HH", strings.NewReader(`[{"id":"c1"}]`))
	require.NoError(t, err)

	_, err = s.Upload(ctx, "HH")
	assert.ErrorIs(t, err, ErrProtocol)

	dirty, err := store.Cases.Dirty(ctx, "HH")
	require.NoError(t, err)
	assert.Len(t, dirty, 1)
}

func TestDownload_FollowsPages(t *testing.T) {
	fc := &fakeClient{}
	fc.downloadFn = func(_ context.Context, _ string, p client.DownloadParams, sink binframe.Sink) (*client.DownloadPage, error) {
		assert.NotNil(t, sink)
		assert.Equal(t, 2, p.RangeCount)
		switch {
		case p.LastRevision == 0 && p.StartAfter == "":
			return &client.DownloadPage{Cases: []*wire.Case{remote("c1", 3), remote("c2", 4)},
				MaxRevision: 10, ChunkMaxRevision: 4, Sent: 2, Total: 3, Partial: true}, nil
		case p.LastRevision == 4 && p.StartAfter == "c2":
			return &client.DownloadPage{Cases: []*wire.Case{remote("c3", 6)},
				MaxRevision: 10, ChunkMaxRevision: 6, Sent: 1, Total: 1, Attachments: []string{"s1"}}, nil
		}
		return nil, fmt.Errorf("unexpected cursor %+v", p)
	}
	s, store := newSyncService(t, fc, Options{PageSize: 2})
	ctx := context.Background()
	require.NoError(t, store.SyncState.AddOwnRevision(ctx, "HH", 5))

	rep, err := s.Download(ctx, "HH")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Pages)
	assert.Equal(t, 3, rep.Downloaded)
	assert.Equal(t, 3, rep.Applied)
	assert.Equal(t, 1, rep.Attachments)
	assert.Equal(t, int64(10), rep.LastRevision)
	assert.Equal(t, []int64{5}, fc.downloads[0].ExcludeRevisions)

	st, err := store.SyncState.Get(ctx, "HH")
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.LastRevision)
	assert.Empty(t, st.StartAfter)
	assert.Empty(t, st.OwnRevisions)

	c3, err := store.Cases.Get(ctx, "HH", "c3")
	require.NoError(t, err)
	assert.False(t, c3.Dirty)
	assert.Equal(t, "server c3", c3.Case.Label)
}

func TestDownload_InterruptedRunResumes(t *testing.T) {
	fc := &fakeClient{}
	fc.downloadFn = func(_ context.Context, _ string, p client.DownloadParams, _ binframe.Sink) (*client.DownloadPage, error) {
		if p.StartAfter == "" {
			return &client.DownloadPage{Cases: []*wire.Case{remote("c1", 3)}, MaxRevision: 10, ChunkMaxRevision: 3, Partial: true}, nil
		}
		return nil, fmt.Errorf("%w: connection reset", client.ErrUnavailable)
	}
	s, store := newSyncService(t, fc, Options{})
	ctx := context.Background()

	_, err := s.Download(ctx, "HH")
	assert.ErrorIs(t, err, client.ErrUnavailable)

	st, err := store.SyncState.Get(ctx, "HH")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.LastRevision)
	assert.Equal(t, "c1", st.StartAfter)
}

func TestDownload_KeepsLocalEdits(t *testing.T) {
	fc := &fakeClient{downloadFn: func(context.Context, string, client.DownloadParams, binframe.Sink) (*client.DownloadPage, error) {
		return &client.DownloadPage{Cases: []*wire.Case{remote("c1", 2)}, MaxRevision: 2}, nil
	}}
	s, store := newSyncService(t, fc, Options{})
	ctx := context.Background()
	_, err := s.Import(ctx, "HH", strings.NewReader(`[{"id":"c1","label":"mine"}]`))
	require.NoError(t, err)

	rep, err := s.Download(ctx, "HH")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Kept)
	assert.Zero(t, rep.Applied)

	c1, err := store.Cases.Get(ctx, "HH", "c1")
	require.NoError(t, err)
	assert.Equal(t, "mine", c1.Case.Label)
}

func TestDownload_Resync(t *testing.T) {
	tests := []struct {
		name     string
		saved    models.SyncState
		universe string
		failOnce bool
	}{
		{name: "device ahead of server", saved: models.SyncState{LastRevision: 50}, failOnce: true},
		{name: "universe changed", saved: models.SyncState{LastRevision: 50, StartAfter: "c9"}, universe: "01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeClient{}
			fc.downloadFn = func(_ context.Context, _ string, p client.DownloadParams, _ binframe.Sink) (*client.DownloadPage, error) {
				if p.LastRevision != 0 {
					return nil, fmt.Errorf("%w", client.ErrPreconditionFailed)
				}
				assert.Empty(t, p.StartAfter)
				assert.Equal(t, tt.universe, p.Universe)
				return &client.DownloadPage{MaxRevision: 20}, nil
			}
			s, store := newSyncService(t, fc, Options{Universe: tt.universe})
			ctx := context.Background()
			saved := tt.saved
			saved.Dictionary = "HH"
			require.NoError(t, store.SyncState.Save(ctx, &saved))

			rep, err := s.Download(ctx, "HH")
			require.NoError(t, err)
			assert.Equal(t, tt.failOnce, rep.Resynced)
			assert.Equal(t, int64(20), rep.LastRevision)

			st, err := store.SyncState.Get(ctx, "HH")
			require.NoError(t, err)
			assert.Equal(t, tt.universe, st.Universe)
		})
	}
}

func TestDownload_PreconditionTwice(t *testing.T) {
	fc := &fakeClient{downloadFn: func(context.Context, string, client.DownloadParams, binframe.Sink) (*client.DownloadPage, error) {
		return nil, client.ErrPreconditionFailed
	}}
	s, _ := newSyncService(t, fc, Options{})

	_, err := s.Download(context.Background(), "HH")
	assert.ErrorIs(t, err, client.ErrPreconditionFailed)
	assert.Len(t, fc.downloads, 2)
}

func TestDownload_EmptyPartialPage(t *testing.T) {
	fc := &fakeClient{downloadFn: func(context.Context, string, client.DownloadParams, binframe.Sink) (*client.DownloadPage, error) {
		return &client.DownloadPage{Partial: true, MaxRevision: 3}, nil
	}}
	s, _ := newSyncService(t, fc, Options{})

	_, err := s.Download(context.Background(), "HH")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestSyncAndStatus(t *testing.T) {
	fc := &fakeClient{
		uploadFn: func(context.Context, string, client.UploadParams) (*client.UploadResult, error) {
			return &client.UploadResult{Revision: 4}, nil
		},
		downloadFn: func(_ context.Context, _ string, p client.DownloadParams, _ binframe.Sink) (*client.DownloadPage, error) {
			assert.Equal(t, []int64{4}, p.ExcludeRevisions)
			return &client.DownloadPage{Cases: []*wire.Case{remote("c2", 3)}, MaxRevision: 4}, nil
		},
	}
	s, _ := newSyncService(t, fc, Options{})
	ctx := context.Background()
	_, err := s.Import(ctx, "HH", strings.NewReader(`[{"id":"c1"}]`))
	require.NoError(t, err)

	rep, err := s.Sync(ctx, "HH")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Uploaded)
	assert.Equal(t, int64(4), rep.UploadRevision)
	assert.Equal(t, 1, rep.Downloaded)

	st, err := s.Status(ctx, "HH")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Counts.Total)
	assert.Zero(t, st.Counts.Dirty)
	assert.Equal(t, int64(4), st.State.LastRevision)
	assert.Equal(t, int64(4), st.State.LastPutRevision)
	assert.Empty(t, st.State.OwnRevisions)
}

func TestSync_ServerChanged(t *testing.T) {
	fc := &fakeClient{
		downloadFn: func(context.Context, string, client.DownloadParams, binframe.Sink) (*client.DownloadPage, error) {
			return &client.DownloadPage{MaxRevision: 9}, nil
		},
	}
	s, store := newSyncService(t, fc, Options{})
	ctx := context.Background()

	rep, err := s.Sync(ctx, "HH")
	require.NoError(t, err)
	assert.False(t, rep.Resynced)
	id, err := store.Metadata.Get(ctx, metadata.KeyServerDevice)
	require.NoError(t, err)
	assert.Equal(t, "server", string(id))

	rep, err = s.Sync(ctx, "HH")
	require.NoError(t, err)
	assert.False(t, rep.Resynced)
	assert.Equal(t, int64(9), fc.downloads[1].LastRevision)

	fc.serverID = "other"
	rep, err = s.Sync(ctx, "HH")
	require.NoError(t, err)
	assert.True(t, rep.Resynced)
	assert.Zero(t, fc.downloads[2].LastRevision)

	id, err = store.Metadata.Get(ctx, metadata.KeyServerDevice)
	require.NoError(t, err)
	assert.Equal(t, "other", string(id))
}
